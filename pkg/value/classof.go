package value

// CoreClasses holds the built-in classes every Value of primitive kind is
// an instance of. A *vm.VM owns the one instance for its process and
// passes it to ClassOf; pkg/value stores only the pointer, never
// constructs these classes itself, so bootstrapping order stays entirely
// in pkg/vm.
type CoreClasses struct {
	Null    *Class
	Bool    *Class
	Num     *Class
	String  *Class
	List    *Class
	Map     *Class
	Range   *Class
	Fn      *Class // also the class of Closure
	Fiber   *Class
	Class   *Class // the metaclass of every Class is derived from this
	Object  *Class
}

// ClassOf returns v's class. For an object, that's simply the header's
// Class pointer; for a primitive kind, it's looked up in core.
func ClassOf(v Value, core *CoreClasses) *Class {
	switch v.kind {
	case KindNull:
		return core.Null
	case KindBool:
		return core.Bool
	case KindNum:
		return core.Num
	case KindObj:
		if o := v.ref; o != nil {
			if c := o.Header().Class; c != nil {
				return c
			}
			// Module/Upvalue store no class; a Fn/Closure built without
			// one (pkg/vm's NewFn/NewClosure always set core.Fn) maps to Fn.
			switch o.ObjKind() {
			case ObjFn, ObjClosure:
				return core.Fn
			}
		}
	}
	return nil
}
