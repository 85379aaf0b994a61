package ir

// Builder assembles a Program in memory. Producers that already hold an IR
// tree and tests use it instead of the wire formats.
type Builder struct {
	version string
	source  string
	ops     []OpDecl
	units   []*Unit
}

func NewBuilder() *Builder {
	return &Builder{version: SchemaVersion}
}

// StandardOps declares the gate set from StandardOps.
func (b *Builder) StandardOps() *Builder {
	b.ops = append(b.ops, StandardOps()...)
	return b
}

// Op declares one operation.
func (b *Builder) Op(d OpDecl) *Builder {
	b.ops = append(b.ops, d)
	return b
}

func (b *Builder) Version(v string) *Builder {
	b.version = v
	return b
}

// Unit starts a new unit. Units are kept in declaration order.
func (b *Builder) Unit(name string) *UnitBuilder {
	u := &Unit{Name: name}
	b.units = append(b.units, u)
	return &UnitBuilder{Body: Body{nodes: &u.Body}, unit: u}
}

// Program numbers every unit and returns the finished program.
func (b *Builder) Program() *Program {
	p := &Program{
		Version: b.version,
		Source:  b.source,
		Ops:     append([]OpDecl(nil), b.ops...),
		Units:   make([]Unit, 0, len(b.units)),
	}
	for _, u := range b.units {
		u.Number()
		p.Units = append(p.Units, *u)
	}
	return p
}

// UnitBuilder appends to the unit's top-level body.
type UnitBuilder struct {
	Body
	unit *Unit
}

func (u *UnitBuilder) Param(name string, mode ParamMode) *UnitBuilder {
	u.unit.Params = append(u.unit.Params, Param{Name: name, Mode: mode})
	return u
}

// Result declares a returned resource threaded from param from, or a fresh
// one when from is empty.
func (u *UnitBuilder) Result(from string) *UnitBuilder {
	u.unit.Results = append(u.unit.Results, ResultSpec{From: from})
	return u
}

// Results declares n fresh results.
func (u *UnitBuilder) Results(n int) *UnitBuilder {
	for range n {
		u.unit.Results = append(u.unit.Results, ResultSpec{})
	}
	return u
}

func (u *UnitBuilder) Reversible() *UnitBuilder {
	u.unit.Reversible = true
	return u
}

func (u *UnitBuilder) Inverse(name string) *UnitBuilder {
	u.unit.Inverse = name
	return u
}

// Body appends nodes to one node list.
type Body struct {
	nodes *[]Node
}

func (b *Body) add(n Node) *Body {
	*b.nodes = append(*b.nodes, n)
	return b
}

// Alloc binds each name to a fresh resource.
func (b *Body) Alloc(names ...string) *Body {
	return b.add(Node{Kind: NodeAllocate, Allocate: AllocateNode{Results: names}})
}

// Ancilla allocates helper resources the planner uncomputes on release.
func (b *Body) Ancilla(names ...string) *Body {
	return b.add(Node{Kind: NodeAllocate, Allocate: AllocateNode{Results: names, Ancilla: true}})
}

// Gate applies op to args in place.
func (b *Body) Gate(op string, args ...string) *Body {
	return b.Apply(op, Effects{Produces: InPlace(args...)})
}

// Ctrl applies op to targets in place with ctrls as shared borrows.
func (b *Body) Ctrl(op string, ctrls []string, targets ...string) *Body {
	fx := Effects{Produces: InPlace(targets...)}
	for _, c := range ctrls {
		fx.Borrows = append(fx.Borrows, BorrowOperand{Name: c, Kind: BorrowShared})
	}
	return b.Apply(op, fx)
}

// Apply adds a unitary node with explicit effects.
func (b *Body) Apply(op string, fx Effects) *Body {
	return b.add(Node{Kind: NodeUnitary, Unitary: UnitaryNode{Op: op, Effects: fx}})
}

// Disentangle applies op in place and marks it as splitting its operands.
func (b *Body) Disentangle(op string, args ...string) *Body {
	return b.add(Node{Kind: NodeUnitary, Unitary: UnitaryNode{
		Op:            op,
		Effects:       Effects{Produces: InPlace(args...)},
		Disentangling: true,
	}})
}

// Measure observes each operand as one measurement node.
func (b *Body) Measure(args ...string) *Body {
	return b.add(Node{Kind: NodeObserve, Observe: ObserveNode{Op: "measure", Operands: args}})
}

// MeasureJoint is a class-aware joint measurement.
func (b *Body) MeasureJoint(args ...string) *Body {
	return b.add(Node{Kind: NodeObserve, Observe: ObserveNode{Op: "measure", Operands: args, ClassAware: true}})
}

func (b *Body) Discard(args ...string) *Body {
	return b.add(Node{Kind: NodeDiscard, Discard: DiscardNode{Operands: args}})
}

func (b *Body) Move(from, to string) *Body {
	return b.add(Node{Kind: NodeMove, Move: MoveNode{From: from, To: to}})
}

func (b *Body) Borrow(target string, kind BorrowKind, handle string) *Body {
	return b.add(Node{Kind: NodeBorrow, Borrow: BorrowNode{Target: target, Kind: kind, Handle: handle}})
}

func (b *Body) Call(callee string, args []string, results ...string) *Body {
	return b.add(Node{Kind: NodeCall, Call: CallNode{Callee: callee, Args: args, Results: results}})
}

// If adds a two-armed branch; a nil els leaves the else arm empty.
func (b *Body) If(cond string, then func(*Body), els func(*Body)) *Body {
	n := Node{Kind: NodeBranch, Branch: BranchNode{Cond: cond}}
	n.Branch.Arms = []Arm{{Label: "then"}, {Label: "else"}}
	if then != nil {
		then(&Body{nodes: &n.Branch.Arms[0].Body})
	}
	if els != nil {
		els(&Body{nodes: &n.Branch.Arms[1].Body})
	}
	return b.add(n)
}

// Loop adds a loop; count zero means data-dependent.
func (b *Body) Loop(count int, body func(*Body)) *Body {
	n := Node{Kind: NodeLoop, Loop: LoopNode{Count: count}}
	if body != nil {
		body(&Body{nodes: &n.Loop.Body})
	}
	return b.add(n)
}

func (b *Body) Block(body func(*Body)) *Body {
	n := Node{Kind: NodeBlock}
	if body != nil {
		body(&Body{nodes: &n.Block.Body})
	}
	return b.add(n)
}

func (b *Body) Return(values ...string) *Body {
	return b.add(Node{Kind: NodeReturn, Return: ReturnNode{Values: values}})
}

// InPlace threads each name through an operation under the same name.
func InPlace(names ...string) []Output {
	out := make([]Output, 0, len(names))
	for _, n := range names {
		out = append(out, Output{Name: n, From: n})
	}
	return out
}
