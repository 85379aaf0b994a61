package ir

// StandardOps returns declarations for the usual single- and two-qubit gate
// set plus measurement and reset.
func StandardOps() []OpDecl {
	return []OpDecl{
		{Name: "h", SelfInverse: true},
		{Name: "x", SelfInverse: true},
		{Name: "y", SelfInverse: true},
		{Name: "z", SelfInverse: true},
		{Name: "s", Inverse: "sdg"},
		{Name: "sdg", Inverse: "s"},
		{Name: "t", Inverse: "tdg"},
		{Name: "tdg", Inverse: "t"},
		{Name: "cx", SelfInverse: true, Entangling: true},
		{Name: "cz", SelfInverse: true, Entangling: true},
		{Name: "swap", SelfInverse: true},
		{Name: "ccx", SelfInverse: true, Entangling: true},
		{Name: "measure", Observational: true},
		{Name: "measure_all", Observational: true, ClassAware: true},
		{Name: "reset", Observational: true},
	}
}
