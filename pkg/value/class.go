package value

// Class is both an ordinary heap object (it has a header, and its own
// class is its metaclass) and a method table. NumFields is -1 for a
// foreign class, which stores its state in a Foreign's opaque payload
// instead of a Fields slice.
type Class struct {
	ObjHeader
	Super      *Class
	Name       string
	NumFields  int
	Methods    []Method // indexed by method symbol; sparse, grown as needed
	Attributes Value
}

func NewClass(name string, super *Class, numFields int) *Class {
	return &Class{
		ObjHeader: ObjHeader{Kind: ObjClass},
		Super:     super,
		Name:      name,
		NumFields: numFields,
		Attributes: Null,
	}
}

// IsForeign reports whether instances of this class store their state in a
// Foreign payload rather than a Fields slice.
func (c *Class) IsForeign() bool { return c.NumFields < 0 }

// BindMethod installs method at symbol, growing the table with MethodNone
// entries as needed so lookups by symbol never need a bounds check beyond
// len(Methods).
func (c *Class) BindMethod(symbol int, m Method) {
	for len(c.Methods) <= symbol {
		c.Methods = append(c.Methods, Method{Kind: MethodNone})
	}
	c.Methods[symbol] = m
}

// MethodAt returns the method bound to symbol, walking up the superclass
// chain on a miss. ok is false if no class in the chain binds it.
func (c *Class) MethodAt(symbol int) (Method, bool) {
	for cls := c; cls != nil; cls = cls.Super {
		if symbol < len(cls.Methods) && cls.Methods[symbol].Kind != MethodNone {
			return cls.Methods[symbol], true
		}
	}
	return Method{}, false
}

// Instance is an object of a non-foreign user class; Fields has exactly
// Class.NumFields (including inherited fields, copied down by
// bindSuperclass-equivalent construction logic) elements.
type Instance struct {
	ObjHeader
	Fields []Value
}

func NewInstance(class *Class) *Instance {
	fields := make([]Value, class.NumFields)
	for i := range fields {
		fields[i] = Null
	}
	return &Instance{ObjHeader: ObjHeader{Kind: ObjInstance, Class: class}, Fields: fields}
}

// Foreign is an object of a foreign class; Data is opaque host state set and
// interpreted entirely by that class's allocate/finalize foreign functions.
type Foreign struct {
	ObjHeader
	Data interface{}
}

func NewForeign(class *Class, data interface{}) *Foreign {
	return &Foreign{ObjHeader: ObjHeader{Kind: ObjForeign, Class: class}, Data: data}
}
