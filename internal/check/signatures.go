package check

import (
	"fmt"
	"slices"
	"strings"

	"qcheck/internal/diag"
	"qcheck/internal/ir"
	"qcheck/internal/source"
)

// UnitSignature is the contract other units see when calling this one.
type UnitSignature struct {
	Name       string
	Params     []ir.Param
	Results    []ir.ResultSpec
	Reversible bool
	Inverse    string
	// Observational and Entangling are transitive over calls.
	Observational bool
	Entangling    bool
	// Observer names the first observational operation found, for messages.
	Observer string
	Span     source.Span
}

// Signatures is the global table of operation and unit contracts. It is
// built once before any unit is checked and only read afterwards, so one
// instance is shared by all workers.
type Signatures struct {
	ops   map[string]ir.OpDecl
	units map[string]*UnitSignature
}

// BuildSignatures collects declarations from p. Duplicate or dangling
// declarations are reported to r; the first declaration wins.
func BuildSignatures(p *ir.Program, r diag.Reporter) *Signatures {
	s := &Signatures{
		ops:   make(map[string]ir.OpDecl, len(p.Ops)),
		units: make(map[string]*UnitSignature, len(p.Units)),
	}
	for _, op := range p.Ops {
		if _, dup := s.ops[op.Name]; dup {
			diag.ReportError(r, diag.SignatureMismatch, op.Span,
				fmt.Sprintf("operation %q is declared more than once", op.Name)).Emit()
			continue
		}
		s.ops[op.Name] = op
	}
	for i := range p.Units {
		u := &p.Units[i]
		if _, dup := s.units[u.Name]; dup {
			diag.ReportError(r, diag.SignatureMismatch, u.Span,
				fmt.Sprintf("unit %q is declared more than once", u.Name)).WithUnit(u.Name).Emit()
			continue
		}
		if _, clash := s.ops[u.Name]; clash {
			diag.ReportError(r, diag.SignatureMismatch, u.Span,
				fmt.Sprintf("unit %q has the same name as an operation", u.Name)).WithUnit(u.Name).Emit()
			continue
		}
		s.units[u.Name] = &UnitSignature{
			Name:       u.Name,
			Params:     u.Params,
			Results:    u.Results,
			Reversible: u.Reversible,
			Inverse:    u.Inverse,
			Span:       u.Span,
		}
	}

	for _, name := range sortedKeys(s.ops) {
		op := s.ops[name]
		if op.Observational && (op.Inverse != "" || op.SelfInverse) {
			diag.ReportError(r, diag.NonUnitaryInPureContext, op.Span,
				fmt.Sprintf("observational operation %q cannot declare an inverse", op.Name)).Emit()
		}
		if op.Inverse != "" {
			if _, ok := s.ops[op.Inverse]; !ok {
				diag.ReportError(r, diag.UnknownOperation, op.Span,
					fmt.Sprintf("operation %q names unknown inverse %q", op.Name, op.Inverse)).Emit()
			}
		}
	}

	bodies := make(map[string][]ir.Node, len(p.Units))
	for i := range p.Units {
		if _, seen := bodies[p.Units[i].Name]; !seen {
			bodies[p.Units[i].Name] = p.Units[i].Body
		}
	}
	flow := transitive{sigs: s, uses: make(map[string][]use, len(bodies))}
	for _, name := range sortedKeys(s.units) {
		flow.collect(name, bodies[name])
	}
	flow.propagate()
	for _, name := range sortedKeys(s.units) {
		sig := s.units[name]
		if sig.Inverse == "" {
			continue
		}
		inv, ok := s.units[sig.Inverse]
		if !ok {
			diag.ReportError(r, diag.UnknownOperation, sig.Span,
				fmt.Sprintf("unit %q names unknown inverse %q", sig.Name, sig.Inverse)).WithUnit(sig.Name).Emit()
			continue
		}
		if inv.Observational {
			diag.ReportError(r, diag.NonUnitaryInPureContext, sig.Span,
				fmt.Sprintf("unit %q declares inverse %q, which contains observational operation %q",
					sig.Name, inv.Name, inv.Observer)).WithUnit(sig.Name).Emit()
		}
	}
	return s
}

// transitive computes the Observational and Entangling flags over the call
// graph. Flags only ever turn on, so iterating to a fixpoint gives the same
// answer for every visit order, mutual recursion included.
type transitive struct {
	sigs *Signatures
	uses map[string][]use
}

// use is a body occurrence that can make a unit observational: a local
// observation when op is set, else a call of callee.
type use struct {
	op     string
	callee string
}

func (t *transitive) collect(name string, body []ir.Node) {
	sig := t.sigs.units[name]
	ancillas := ancillaNames(body)
	var uses []use
	ir.Walk(body, func(n *ir.Node) bool {
		switch n.Kind {
		case ir.NodeObserve:
			uses = append(uses, use{op: n.Observe.Op})
		case ir.NodeUnitary:
			op, ok := t.sigs.ops[n.Unitary.Op]
			if ok && op.Observational {
				uses = append(uses, use{op: op.Name})
			}
			if n.Unitary.Entangling || (ok && op.Entangling) {
				sig.Entangling = true
			}
		case ir.NodeDiscard:
			for _, operand := range n.Discard.Operands {
				if !ancillas[operand] {
					uses = append(uses, use{op: "discard"})
					break
				}
			}
		case ir.NodeCall:
			uses = append(uses, use{callee: n.Call.Callee})
		}
		return true
	})
	t.uses[name] = uses
}

func (t *transitive) propagate() {
	names := sortedKeys(t.sigs.units)
	for changed := true; changed; {
		changed = false
		for _, name := range names {
			sig := t.sigs.units[name]
			for _, u := range t.uses[name] {
				if u.callee == "" {
					if !sig.Observational {
						t.observe(sig, u.op)
						changed = true
					}
					continue
				}
				callee := t.sigs.units[u.callee]
				if callee == nil {
					continue
				}
				if callee.Observational && !sig.Observational {
					t.observe(sig, callee.Observer)
					changed = true
				}
				if callee.Entangling && !sig.Entangling {
					sig.Entangling = true
					changed = true
				}
			}
		}
	}
}

func (t *transitive) observe(sig *UnitSignature, op string) {
	if !sig.Observational {
		sig.Observational = true
		sig.Observer = op
	}
}

// ancillaNames collects names bound by ancilla allocations, following moves.
func ancillaNames(body []ir.Node) map[string]bool {
	out := map[string]bool{}
	ir.Walk(body, func(n *ir.Node) bool {
		switch n.Kind {
		case ir.NodeAllocate:
			if n.Allocate.Ancilla {
				for _, r := range n.Allocate.Results {
					out[r] = true
				}
			}
		case ir.NodeMove:
			if out[n.Move.From] {
				out[n.Move.To] = true
			}
		}
		return true
	})
	return out
}

// Op returns the declaration of name.
func (s *Signatures) Op(name string) (ir.OpDecl, bool) {
	op, ok := s.ops[name]
	return op, ok
}

// Unit returns the signature of name.
func (s *Signatures) Unit(name string) (*UnitSignature, bool) {
	u, ok := s.units[name]
	return u, ok
}

// InverseOf names the operation that undoes op. Calls resolve through the
// callee's declared inverse unit.
func (s *Signatures) InverseOf(op string, call bool) (string, bool) {
	if call {
		u, ok := s.units[op]
		if !ok || u.Inverse == "" {
			return "", false
		}
		return u.Inverse, true
	}
	d, ok := s.ops[op]
	if !ok || d.Observational {
		return "", false
	}
	if d.Inverse != "" {
		return d.Inverse, true
	}
	if d.SelfInverse {
		return d.Name, true
	}
	return "", false
}

// Ops returns all declarations sorted by name.
func (s *Signatures) Ops() []ir.OpDecl {
	out := make([]ir.OpDecl, 0, len(s.ops))
	for _, name := range sortedKeys(s.ops) {
		out = append(out, s.ops[name])
	}
	return out
}

// Units returns all unit signatures sorted by name.
func (s *Signatures) Units() []*UnitSignature {
	out := make([]*UnitSignature, 0, len(s.units))
	for _, name := range sortedKeys(s.units) {
		out = append(out, s.units[name])
	}
	return out
}

// Describe renders the table in a stable textual form, used for cache keys.
func (s *Signatures) Describe() string {
	var b strings.Builder
	for _, op := range s.Ops() {
		fmt.Fprintf(&b, "op %s inv=%s self=%t obs=%t ent=%t dis=%t aware=%t\n",
			op.Name, op.Inverse, op.SelfInverse, op.Observational, op.Entangling, op.Disentangling, op.ClassAware)
	}
	for _, u := range s.Units() {
		fmt.Fprintf(&b, "unit %s rev=%t inv=%s obs=%t ent=%t", u.Name, u.Reversible, u.Inverse, u.Observational, u.Entangling)
		for _, p := range u.Params {
			fmt.Fprintf(&b, " %s:%s", p.Name, p.Mode)
		}
		b.WriteString(" ->")
		for _, r := range u.Results {
			fmt.Fprintf(&b, " %s<%s>", r.Name, r.From)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
