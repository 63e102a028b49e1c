package value

// String is an immutable byte string. The hash is computed once at
// construction (FNV-1a) and never recomputed, matching wrenNewString's
// precompute-on-create contract. Strings are not interned: every
// NewString call builds a distinct object, even for equal bytes.
type String struct {
	ObjHeader
	Bytes string
	Hash  uint32
}

func NewString(s string, class *Class) *String {
	return &String{
		ObjHeader: ObjHeader{Kind: ObjString, Class: class},
		Bytes:     s,
		Hash:      fnv1a(s),
	}
}

func fnv1a(s string) uint32 {
	const offset = 2166136261
	const prime = 16777619
	h := uint32(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}
