package value

// Module is a namespace of top-level variables, one per imported or
// defining source unit. Class is always nil (§3): a module is never a
// message receiver, so it needs no class identity.
//
// VariableNames and Variables are parallel slices rather than a Map
// because module-variable lookups are resolved to a slot index at compile
// time; the name slice serves that compile-time resolution (VarIndex)
// and IMPORTVAR's by-name lookup into an imported module.
type Module struct {
	ObjHeader
	Name          string // "" for the core module
	VariableNames []string
	Variables     []Value
	Attributes    Value
}

func NewModule(name string) *Module {
	return &Module{ObjHeader: ObjHeader{Kind: ObjModule}, Name: name, Attributes: Null}
}

func (m *Module) IsCore() bool { return m.Name == "" }

// VarIndex returns the slot for name, or -1 if the module has no such
// variable yet.
func (m *Module) VarIndex(name string) int {
	for i, n := range m.VariableNames {
		if n == name {
			return i
		}
	}
	return -1
}

// DefineVariable adds a new top-level variable, returning its slot. The
// caller is responsible for rejecting redefinition where that matters
// (top-level vs. forward-declared import slots have different rules).
func (m *Module) DefineVariable(name string, v Value) int {
	m.VariableNames = append(m.VariableNames, name)
	m.Variables = append(m.Variables, v)
	return len(m.Variables) - 1
}
