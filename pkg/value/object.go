package value

// ObjKind tags a heap Object so dispatch and the GC never need a full type
// switch on the Go interface value.
type ObjKind byte

const (
	ObjString ObjKind = iota
	ObjList
	ObjMap
	ObjRange
	ObjClass
	ObjInstance
	ObjForeign
	ObjFn
	ObjClosure
	ObjUpvalue
	ObjFiber
	ObjModule
)

func (k ObjKind) String() string {
	switch k {
	case ObjString:
		return "String"
	case ObjList:
		return "List"
	case ObjMap:
		return "Map"
	case ObjRange:
		return "Range"
	case ObjClass:
		return "Class"
	case ObjInstance:
		return "Instance"
	case ObjForeign:
		return "Foreign"
	case ObjFn:
		return "Fn"
	case ObjClosure:
		return "Closure"
	case ObjUpvalue:
		return "Upvalue"
	case ObjFiber:
		return "Fiber"
	case ObjModule:
		return "Module"
	default:
		return "Unknown"
	}
}

// Obj is the interface every heap object satisfies. Concrete types embed
// Header, which supplies the implementation, so callers never implement
// this by hand.
type Obj interface {
	ObjKind() ObjKind
	Header() *ObjHeader
}

// ObjHeader is the fixed prologue every heap object carries: its class
// (nil only for Module and Upvalue, per §3's invariant table), the
// tri-color mark bit, and the intrusive next-pointer threading it onto the
// VM's allocation list so the sweep phase can walk every live object
// without a separate registry.
type ObjHeader struct {
	Kind    ObjKind
	Class   *Class
	Marked  bool
	AllNext Obj
}

func (h *ObjHeader) ObjKind() ObjKind  { return h.Kind }
func (h *ObjHeader) Header() *ObjHeader { return h }
