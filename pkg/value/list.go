package value

// List is a growable value buffer, mutated in place by `[]=` and `add`.
type List struct {
	ObjHeader
	Elems []Value
}

func NewList(class *Class) *List {
	return &List{ObjHeader: ObjHeader{Kind: ObjList, Class: class}}
}

func (l *List) Count() int { return len(l.Elems) }

func (l *List) Add(v Value) {
	l.Elems = append(l.Elems, v)
}

// InsertAt inserts v at index, shifting later elements up by one.
func (l *List) InsertAt(index int, v Value) {
	l.Elems = append(l.Elems, Null)
	copy(l.Elems[index+1:], l.Elems[index:])
	l.Elems[index] = v
}

// RemoveAt removes and returns the element at index.
func (l *List) RemoveAt(index int) Value {
	removed := l.Elems[index]
	copy(l.Elems[index:], l.Elems[index+1:])
	l.Elems = l.Elems[:len(l.Elems)-1]
	return removed
}
