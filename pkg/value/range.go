package value

// Range is an immutable numeric interval, inclusive or exclusive of To.
type Range struct {
	ObjHeader
	From      float64
	To        float64
	Inclusive bool
}

func NewRange(from, to float64, inclusive bool, class *Class) *Range {
	return &Range{
		ObjHeader: ObjHeader{Kind: ObjRange, Class: class},
		From:      from,
		To:        to,
		Inclusive: inclusive,
	}
}
