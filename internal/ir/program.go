package ir

import (
	"fmt"

	"fortio.org/safecast"

	"qcheck/internal/source"
)

// ParamMode describes how a unit receives an argument.
type ParamMode uint8

const (
	// ParamOwned takes ownership; the unit must consume or return it.
	ParamOwned ParamMode = iota
	// ParamBorrowed is a shared borrow held for the whole call.
	ParamBorrowed
	// ParamBorrowedMut is an exclusive borrow held for the whole call.
	ParamBorrowedMut
)

var paramModeNames = [...]string{
	ParamOwned:       "owned",
	ParamBorrowed:    "borrowed",
	ParamBorrowedMut: "borrowed_mut",
}

func (m ParamMode) String() string {
	if int(m) < len(paramModeNames) {
		return paramModeNames[m]
	}
	return "unknown"
}

// ParseParamMode accepts the wire spelling; empty means owned.
func ParseParamMode(s string) (ParamMode, bool) {
	if s == "" {
		return ParamOwned, true
	}
	for m, name := range paramModeNames {
		if name == s {
			return ParamMode(m), true
		}
	}
	return 0, false
}

type Param struct {
	Name string
	Mode ParamMode
	Span source.Span
}

// ResultSpec describes one returned resource. From names the owned parameter
// whose resource comes back; empty means a resource created by the unit.
type ResultSpec struct {
	Name string
	From string
}

// Unit is one independently checked function body.
type Unit struct {
	Name    string
	Params  []Param
	Results []ResultSpec
	// Reversible promises the body contains no observational node.
	Reversible bool
	// Inverse names the unit that undoes this one.
	Inverse string
	Body    []Node
	Span    source.Span
}

// OpDecl is the contract of a primitive operation.
type OpDecl struct {
	Name          string
	Inverse       string
	SelfInverse   bool
	Observational bool
	Entangling    bool
	Disentangling bool
	ClassAware    bool
	Span          source.Span
}

// Program is a decoded IR file.
type Program struct {
	Version string
	// Source is the surface file the spans point into.
	Source string
	Ops    []OpDecl
	Units  []Unit
	// Files resolves spans; nil for programs built in memory.
	Files *source.FileSet
}

// Unit returns the unit named name.
func (p *Program) Unit(name string) (*Unit, bool) {
	for i := range p.Units {
		if p.Units[i].Name == name {
			return &p.Units[i], true
		}
	}
	return nil, false
}

// Number assigns pre-order node ids starting at 1.
func (u *Unit) Number() {
	next := 0
	walkMut(u.Body, func(n *Node) {
		next++
		id, err := safecast.Conv[uint32](next)
		if err != nil {
			panic(fmt.Errorf("node id overflow: %w", err))
		}
		n.ID = NodeID(id)
	})
}

// NodeCount returns the number of nodes in the unit body.
func (u *Unit) NodeCount() int {
	count := 0
	Walk(u.Body, func(*Node) bool {
		count++
		return true
	})
	return count
}
