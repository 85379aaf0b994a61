package ir

import (
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"qcheck/internal/source"
)

// WireProgram is the on-disk shape shared by the YAML, JSON and msgpack
// encodings.
type WireProgram struct {
	Version string     `yaml:"version" json:"version" msgpack:"version"`
	Source  string     `yaml:"source,omitempty" json:"source,omitempty" msgpack:"source,omitempty"`
	Ops     []WireOp   `yaml:"ops,omitempty" json:"ops,omitempty" msgpack:"ops,omitempty"`
	Units   []WireUnit `yaml:"units" json:"units" msgpack:"units"`
}

type WireOp struct {
	Name          string `yaml:"name" json:"name" msgpack:"name"`
	Inverse       string `yaml:"inverse,omitempty" json:"inverse,omitempty" msgpack:"inverse,omitempty"`
	SelfInverse   bool   `yaml:"self_inverse,omitempty" json:"self_inverse,omitempty" msgpack:"self_inverse,omitempty"`
	Observational bool   `yaml:"observational,omitempty" json:"observational,omitempty" msgpack:"observational,omitempty"`
	Entangling    bool   `yaml:"entangling,omitempty" json:"entangling,omitempty" msgpack:"entangling,omitempty"`
	Disentangling bool   `yaml:"disentangling,omitempty" json:"disentangling,omitempty" msgpack:"disentangling,omitempty"`
	ClassAware    bool   `yaml:"class_aware,omitempty" json:"class_aware,omitempty" msgpack:"class_aware,omitempty"`
	At            []int  `yaml:"at,omitempty" json:"at,omitempty" msgpack:"at,omitempty"`

	line, col int
}

type WireParam struct {
	Name string `yaml:"name" json:"name" msgpack:"name"`
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty" msgpack:"mode,omitempty"`
}

type WireResult struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty" msgpack:"name,omitempty"`
	From string `yaml:"from,omitempty" json:"from,omitempty" msgpack:"from,omitempty"`
}

type WireUnit struct {
	Name       string       `yaml:"name" json:"name" msgpack:"name"`
	Params     []WireParam  `yaml:"params,omitempty" json:"params,omitempty" msgpack:"params,omitempty"`
	Results    []WireResult `yaml:"results,omitempty" json:"results,omitempty" msgpack:"results,omitempty"`
	Reversible bool         `yaml:"reversible,omitempty" json:"reversible,omitempty" msgpack:"reversible,omitempty"`
	Inverse    string       `yaml:"inverse,omitempty" json:"inverse,omitempty" msgpack:"inverse,omitempty"`
	Body       []WireNode   `yaml:"body" json:"body" msgpack:"body"`
	At         []int        `yaml:"at,omitempty" json:"at,omitempty" msgpack:"at,omitempty"`

	line, col int
}

type WireOutput struct {
	Name string `yaml:"name" json:"name" msgpack:"name"`
	From string `yaml:"from,omitempty" json:"from,omitempty" msgpack:"from,omitempty"`
}

type WireArm struct {
	Label string     `yaml:"label,omitempty" json:"label,omitempty" msgpack:"label,omitempty"`
	Body  []WireNode `yaml:"body" json:"body" msgpack:"body"`
}

// WireNode is a flat record discriminated by Op.
type WireNode struct {
	Op string `yaml:"op" json:"op" msgpack:"op"`
	// Name is the gate or measurement operation, or the callee.
	Name          string       `yaml:"name,omitempty" json:"name,omitempty" msgpack:"name,omitempty"`
	Args          []string     `yaml:"args,omitempty" json:"args,omitempty" msgpack:"args,omitempty"`
	Consume       []string     `yaml:"consume,omitempty" json:"consume,omitempty" msgpack:"consume,omitempty"`
	Produce       []WireOutput `yaml:"produce,omitempty" json:"produce,omitempty" msgpack:"produce,omitempty"`
	Borrow        []string     `yaml:"borrow,omitempty" json:"borrow,omitempty" msgpack:"borrow,omitempty"`
	BorrowMut     []string     `yaml:"borrow_mut,omitempty" json:"borrow_mut,omitempty" msgpack:"borrow_mut,omitempty"`
	Results       []string     `yaml:"results,omitempty" json:"results,omitempty" msgpack:"results,omitempty"`
	Ancilla       bool         `yaml:"ancilla,omitempty" json:"ancilla,omitempty" msgpack:"ancilla,omitempty"`
	Entangling    bool         `yaml:"entangling,omitempty" json:"entangling,omitempty" msgpack:"entangling,omitempty"`
	Disentangling bool         `yaml:"disentangling,omitempty" json:"disentangling,omitempty" msgpack:"disentangling,omitempty"`
	ClassAware    bool         `yaml:"class_aware,omitempty" json:"class_aware,omitempty" msgpack:"class_aware,omitempty"`
	Outcomes      []string     `yaml:"outcomes,omitempty" json:"outcomes,omitempty" msgpack:"outcomes,omitempty"`
	From          string       `yaml:"from,omitempty" json:"from,omitempty" msgpack:"from,omitempty"`
	To            string       `yaml:"to,omitempty" json:"to,omitempty" msgpack:"to,omitempty"`
	Target        string       `yaml:"target,omitempty" json:"target,omitempty" msgpack:"target,omitempty"`
	Kind          string       `yaml:"kind,omitempty" json:"kind,omitempty" msgpack:"kind,omitempty"`
	As            string       `yaml:"as,omitempty" json:"as,omitempty" msgpack:"as,omitempty"`
	Cond          string       `yaml:"cond,omitempty" json:"cond,omitempty" msgpack:"cond,omitempty"`
	Then          []WireNode   `yaml:"then,omitempty" json:"then,omitempty" msgpack:"then,omitempty"`
	Else          []WireNode   `yaml:"else,omitempty" json:"else,omitempty" msgpack:"else,omitempty"`
	Arms          []WireArm    `yaml:"arms,omitempty" json:"arms,omitempty" msgpack:"arms,omitempty"`
	Count         int          `yaml:"count,omitempty" json:"count,omitempty" msgpack:"count,omitempty"`
	Body          []WireNode   `yaml:"body,omitempty" json:"body,omitempty" msgpack:"body,omitempty"`
	Values        []string     `yaml:"values,omitempty" json:"values,omitempty" msgpack:"values,omitempty"`
	At            []int        `yaml:"at,omitempty" json:"at,omitempty" msgpack:"at,omitempty"`

	line, col int
}

// UnmarshalYAML records the node position so spans can point into the IR
// file when the producer supplied no source offsets.
func (n *WireNode) UnmarshalYAML(value *yaml.Node) error {
	type plain WireNode
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*n = WireNode(p)
	n.line, n.col = value.Line, value.Column
	return nil
}

func (u *WireUnit) UnmarshalYAML(value *yaml.Node) error {
	type plain WireUnit
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*u = WireUnit(p)
	u.line, u.col = value.Line, value.Column
	return nil
}

func (o *WireOp) UnmarshalYAML(value *yaml.Node) error {
	type plain WireOp
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*o = WireOp(p)
	o.line, o.col = value.Line, value.Column
	return nil
}

// spanFunc resolves a wire position into a span; at wins over line/col.
type spanFunc func(at []int, line, col int) source.Span

// fromWire converts the wire program into the model. Names are NFC
// normalised so visually identical identifiers compare equal.
func fromWire(w *WireProgram, span spanFunc) (*Program, error) {
	c := converter{span: span}
	p := &Program{
		Version: w.Version,
		Source:  w.Source,
	}
	for i := range w.Ops {
		op := &w.Ops[i]
		p.Ops = append(p.Ops, OpDecl{
			Name:          c.name(op.Name, "op"),
			Inverse:       nfc(op.Inverse),
			SelfInverse:   op.SelfInverse,
			Observational: op.Observational,
			Entangling:    op.Entangling,
			Disentangling: op.Disentangling,
			ClassAware:    op.ClassAware,
			Span:          span(op.At, op.line, op.col),
		})
	}
	for i := range w.Units {
		p.Units = append(p.Units, c.unit(&w.Units[i]))
	}
	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}
	for i := range p.Units {
		p.Units[i].Number()
	}
	return p, nil
}

type converter struct {
	span spanFunc
	cur  string
	errs []error
}

func (c *converter) fail(format string, args ...any) {
	err := fmt.Errorf(format, args...)
	if c.cur != "" {
		err = fmt.Errorf("unit %s: %w", c.cur, err)
	}
	c.errs = append(c.errs, err)
}

func (c *converter) name(s, what string) string {
	if s == "" {
		c.fail("%s without a name", what)
	}
	return nfc(s)
}

func (c *converter) unit(w *WireUnit) Unit {
	c.cur = nfc(w.Name)
	u := Unit{
		Name:       c.name(w.Name, "unit"),
		Reversible: w.Reversible,
		Inverse:    nfc(w.Inverse),
		Span:       c.span(w.At, w.line, w.col),
	}
	for _, p := range w.Params {
		mode, ok := ParseParamMode(p.Mode)
		if !ok {
			c.fail("param %q: unknown mode %q", p.Name, p.Mode)
		}
		u.Params = append(u.Params, Param{Name: c.name(p.Name, "param"), Mode: mode, Span: u.Span})
	}
	for _, r := range w.Results {
		u.Results = append(u.Results, ResultSpec{Name: nfc(r.Name), From: nfc(r.From)})
	}
	u.Body = c.nodes(w.Body)
	c.cur = ""
	return u
}

func (c *converter) nodes(ws []WireNode) []Node {
	if len(ws) == 0 {
		return nil
	}
	out := make([]Node, 0, len(ws))
	for i := range ws {
		if n, ok := c.node(&ws[i]); ok {
			out = append(out, n)
		}
	}
	return out
}

func (c *converter) node(w *WireNode) (Node, bool) {
	kind, ok := ParseNodeKind(w.Op)
	if !ok {
		c.fail("unknown node op %q", w.Op)
		return Node{}, false
	}
	n := Node{Kind: kind, Span: c.span(w.At, w.line, w.col)}
	switch kind {
	case NodeAllocate:
		names := w.Results
		if len(names) == 0 {
			names = w.Args
		}
		if len(names) == 0 {
			c.fail("alloc without results")
		}
		n.Allocate = AllocateNode{Results: nfcAll(names), Ancilla: w.Ancilla}
	case NodeUnitary:
		fx := Effects{
			Consumes: nfcAll(w.Consume),
			Produces: InPlace(nfcAll(w.Args)...),
		}
		for _, o := range w.Produce {
			fx.Produces = append(fx.Produces, Output{Name: c.name(o.Name, "output"), From: nfc(o.From)})
		}
		for _, b := range w.Borrow {
			fx.Borrows = append(fx.Borrows, BorrowOperand{Name: nfc(b), Kind: BorrowShared})
		}
		for _, b := range w.BorrowMut {
			fx.Borrows = append(fx.Borrows, BorrowOperand{Name: nfc(b), Kind: BorrowMut})
		}
		n.Unitary = UnitaryNode{
			Op:            c.name(w.Name, "gate"),
			Effects:       fx,
			Entangling:    w.Entangling,
			Disentangling: w.Disentangling,
		}
	case NodeObserve:
		op := w.Name
		if op == "" {
			op = "measure"
		}
		n.Observe = ObserveNode{
			Op:         nfc(op),
			Operands:   nfcAll(w.Args),
			ClassAware: w.ClassAware,
			Outcomes:   nfcAll(w.Outcomes),
		}
	case NodeDiscard:
		n.Discard = DiscardNode{Operands: nfcAll(w.Args)}
	case NodeMove:
		n.Move = MoveNode{From: c.name(w.From, "move source"), To: c.name(w.To, "move target")}
	case NodeBorrow:
		var bk BorrowKind
		switch w.Kind {
		case "", "shared":
			bk = BorrowShared
		case "mut":
			bk = BorrowMut
		default:
			c.fail("borrow of %q: unknown kind %q", w.Target, w.Kind)
		}
		n.Borrow = BorrowNode{Target: c.name(w.Target, "borrow target"), Kind: bk, Handle: c.name(w.As, "borrow handle")}
	case NodeCall:
		n.Call = CallNode{Callee: c.name(w.Name, "callee"), Args: nfcAll(w.Args), Results: nfcAll(w.Results)}
	case NodeBranch:
		n.Branch = BranchNode{Cond: nfc(w.Cond)}
		if len(w.Arms) > 0 {
			for i, a := range w.Arms {
				label := a.Label
				if label == "" {
					label = fmt.Sprintf("arm%d", i)
				}
				n.Branch.Arms = append(n.Branch.Arms, Arm{Label: label, Body: c.nodes(a.Body)})
			}
			if len(w.Arms) == 1 {
				n.Branch.Arms = append(n.Branch.Arms, Arm{Label: "else"})
			}
		} else {
			n.Branch.Arms = []Arm{
				{Label: "then", Body: c.nodes(w.Then)},
				{Label: "else", Body: c.nodes(w.Else)},
			}
		}
	case NodeLoop:
		if w.Count < 0 {
			c.fail("loop with negative count %d", w.Count)
		}
		n.Loop = LoopNode{Count: w.Count, Body: c.nodes(w.Body)}
	case NodeBlock:
		n.Block = BlockNode{Body: c.nodes(w.Body)}
	case NodeReturn:
		n.Return = ReturnNode{Values: nfcAll(w.Values)}
	}
	return n, true
}

// ToWire converts a model program back into its wire form.
func ToWire(p *Program) *WireProgram {
	w := &WireProgram{Version: p.Version, Source: p.Source}
	if w.Version == "" {
		w.Version = SchemaVersion
	}
	for _, op := range p.Ops {
		w.Ops = append(w.Ops, WireOp{
			Name:          op.Name,
			Inverse:       op.Inverse,
			SelfInverse:   op.SelfInverse,
			Observational: op.Observational,
			Entangling:    op.Entangling,
			Disentangling: op.Disentangling,
			ClassAware:    op.ClassAware,
		})
	}
	for i := range p.Units {
		w.Units = append(w.Units, UnitToWire(&p.Units[i]))
	}
	return w
}

// UnitToWire converts one unit into its wire form. Spans are not part of it.
func UnitToWire(u *Unit) WireUnit {
	w := WireUnit{
		Name:       u.Name,
		Reversible: u.Reversible,
		Inverse:    u.Inverse,
		Body:       nodesToWire(u.Body),
	}
	for _, p := range u.Params {
		w.Params = append(w.Params, WireParam{Name: p.Name, Mode: p.Mode.String()})
	}
	for _, r := range u.Results {
		w.Results = append(w.Results, WireResult(r))
	}
	return w
}

func nodesToWire(nodes []Node) []WireNode {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]WireNode, 0, len(nodes))
	for i := range nodes {
		out = append(out, nodeToWire(&nodes[i]))
	}
	return out
}

func nodeToWire(n *Node) WireNode {
	w := WireNode{Op: n.Kind.String()}
	switch n.Kind {
	case NodeAllocate:
		w.Results = n.Allocate.Results
		w.Ancilla = n.Allocate.Ancilla
	case NodeUnitary:
		u := n.Unitary
		w.Name = u.Op
		w.Consume = u.Effects.Consumes
		w.Entangling = u.Entangling
		w.Disentangling = u.Disentangling
		for _, o := range u.Effects.Produces {
			if o.From == o.Name {
				w.Args = append(w.Args, o.Name)
				continue
			}
			w.Produce = append(w.Produce, WireOutput(o))
		}
		for _, b := range u.Effects.Borrows {
			if b.Kind == BorrowMut {
				w.BorrowMut = append(w.BorrowMut, b.Name)
			} else {
				w.Borrow = append(w.Borrow, b.Name)
			}
		}
	case NodeObserve:
		w.Name = n.Observe.Op
		w.Args = n.Observe.Operands
		w.ClassAware = n.Observe.ClassAware
		w.Outcomes = n.Observe.Outcomes
	case NodeDiscard:
		w.Args = n.Discard.Operands
	case NodeMove:
		w.From, w.To = n.Move.From, n.Move.To
	case NodeBorrow:
		w.Target, w.Kind, w.As = n.Borrow.Target, n.Borrow.Kind.String(), n.Borrow.Handle
	case NodeCall:
		w.Name, w.Args, w.Results = n.Call.Callee, n.Call.Args, n.Call.Results
	case NodeBranch:
		w.Cond = n.Branch.Cond
		for _, a := range n.Branch.Arms {
			w.Arms = append(w.Arms, WireArm{Label: a.Label, Body: nodesToWire(a.Body)})
		}
	case NodeLoop:
		w.Count = n.Loop.Count
		w.Body = nodesToWire(n.Loop.Body)
	case NodeBlock:
		w.Body = nodesToWire(n.Block.Body)
	case NodeReturn:
		w.Values = n.Return.Values
	}
	return w
}

func nfc(s string) string {
	if s == "" {
		return s
	}
	return norm.NFC.String(s)
}

func nfcAll(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	for i, s := range names {
		out[i] = nfc(s)
	}
	return out
}
