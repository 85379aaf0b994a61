package ir

import (
	"qcheck/internal/source"
)

// NodeID identifies a node within its unit. Ids are assigned in pre-order
// starting at 1; zero means "not numbered".
type NodeID uint32

// NodeKind enumerates the closed set of IR node kinds.
type NodeKind uint8

const (
	// NodeAllocate creates fresh resources.
	NodeAllocate NodeKind = iota
	// NodeUnitary applies a declared operation.
	NodeUnitary
	// NodeObserve measures resources, consuming them.
	NodeObserve
	// NodeDiscard explicitly drops resources.
	NodeDiscard
	// NodeMove transfers ownership to a new binding.
	NodeMove
	// NodeBorrow opens a scoped borrow handle.
	NodeBorrow
	// NodeCall invokes another unit.
	NodeCall
	// NodeBranch is a conditional with one or more arms.
	NodeBranch
	// NodeLoop repeats its body.
	NodeLoop
	// NodeBlock opens a lexical scope.
	NodeBlock
	// NodeReturn leaves the unit.
	NodeReturn
)

var nodeKindNames = [...]string{
	NodeAllocate: "alloc",
	NodeUnitary:  "gate",
	NodeObserve:  "measure",
	NodeDiscard:  "discard",
	NodeMove:     "move",
	NodeBorrow:   "borrow",
	NodeCall:     "call",
	NodeBranch:   "if",
	NodeLoop:     "loop",
	NodeBlock:    "block",
	NodeReturn:   "return",
}

func (k NodeKind) String() string {
	if int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return "unknown"
}

// ParseNodeKind maps the wire spelling back to a kind.
func ParseNodeKind(s string) (NodeKind, bool) {
	for k, name := range nodeKindNames {
		if name == s {
			return NodeKind(k), true
		}
	}
	return 0, false
}

// Node is one IR instruction. Exactly the payload matching Kind is meaningful.
type Node struct {
	ID   NodeID
	Kind NodeKind
	Span source.Span

	Allocate AllocateNode
	Unitary  UnitaryNode
	Observe  ObserveNode
	Discard  DiscardNode
	Move     MoveNode
	Borrow   BorrowNode
	Call     CallNode
	Branch   BranchNode
	Loop     LoopNode
	Block    BlockNode
	Return   ReturnNode
}

// AllocateNode binds each result name to a fresh resource.
type AllocateNode struct {
	Results []string
	Ancilla bool
}

// Output names a binding produced by an operation. From names the input
// binding whose resource is threaded through; empty From mints a new resource.
type Output struct {
	Name string
	From string
}

// BorrowKind distinguishes shared and exclusive access.
type BorrowKind uint8

const (
	// BorrowShared is read-only access; any number may coexist.
	BorrowShared BorrowKind = iota
	// BorrowMut is exclusive access.
	BorrowMut
)

func (k BorrowKind) String() string {
	if k == BorrowMut {
		return "mut"
	}
	return "shared"
}

// BorrowOperand is an operand the operation accesses without taking ownership.
type BorrowOperand struct {
	Name string
	Kind BorrowKind
}

// Effects lists what a node does to its operands.
type Effects struct {
	Consumes []string
	Produces []Output
	Borrows  []BorrowOperand
}

// UnitaryNode applies Op. Entangling and Disentangling add to whatever the
// operation declaration says.
type UnitaryNode struct {
	Op            string
	Effects       Effects
	Entangling    bool
	Disentangling bool
}

// ObserveNode measures Operands. ClassAware marks joint measurements that may
// consume part of an entanglement class.
type ObserveNode struct {
	Op         string
	Operands   []string
	ClassAware bool
	Outcomes   []string
}

type DiscardNode struct {
	Operands []string
}

type MoveNode struct {
	From string
	To   string
}

// BorrowNode borrows Target for the rest of the enclosing scope and binds the
// borrow handle as Handle.
type BorrowNode struct {
	Target string
	Kind   BorrowKind
	Handle string
}

// CallNode passes Args positionally to Callee's parameters and binds Results.
type CallNode struct {
	Callee  string
	Args    []string
	Results []string
}

type Arm struct {
	Label string
	Body  []Node
}

// BranchNode selects one arm on the classical value Cond. A single-arm branch
// has an implicit empty else arm.
type BranchNode struct {
	Cond string
	Arms []Arm
}

// LoopNode runs Body Count times; Count zero means the count is only known at
// run time.
type LoopNode struct {
	Count int
	Body  []Node
}

type BlockNode struct {
	Body []Node
}

type ReturnNode struct {
	Values []string
}

// Children returns the nested bodies of n in source order.
func (n *Node) Children() [][]Node {
	switch n.Kind {
	case NodeBranch:
		out := make([][]Node, 0, len(n.Branch.Arms))
		for i := range n.Branch.Arms {
			out = append(out, n.Branch.Arms[i].Body)
		}
		return out
	case NodeLoop:
		return [][]Node{n.Loop.Body}
	case NodeBlock:
		return [][]Node{n.Block.Body}
	}
	return nil
}

// Operands lists every binding name n reads, in a stable order.
func (n *Node) Operands() []string {
	switch n.Kind {
	case NodeUnitary:
		e := n.Unitary.Effects
		out := append([]string(nil), e.Consumes...)
		for _, p := range e.Produces {
			if p.From != "" {
				out = append(out, p.From)
			}
		}
		for _, b := range e.Borrows {
			out = append(out, b.Name)
		}
		return out
	case NodeObserve:
		return append([]string(nil), n.Observe.Operands...)
	case NodeDiscard:
		return append([]string(nil), n.Discard.Operands...)
	case NodeMove:
		return []string{n.Move.From}
	case NodeBorrow:
		return []string{n.Borrow.Target}
	case NodeCall:
		return append([]string(nil), n.Call.Args...)
	case NodeReturn:
		return append([]string(nil), n.Return.Values...)
	}
	return nil
}

// Walk visits nodes in pre-order. Returning false from fn skips children.
func Walk(nodes []Node, fn func(*Node) bool) {
	for i := range nodes {
		n := &nodes[i]
		if !fn(n) {
			continue
		}
		for _, body := range n.Children() {
			Walk(body, fn)
		}
	}
}

func walkMut(nodes []Node, fn func(*Node)) {
	for i := range nodes {
		fn(&nodes[i])
		switch nodes[i].Kind {
		case NodeBranch:
			for j := range nodes[i].Branch.Arms {
				walkMut(nodes[i].Branch.Arms[j].Body, fn)
			}
		case NodeLoop:
			walkMut(nodes[i].Loop.Body, fn)
		case NodeBlock:
			walkMut(nodes[i].Block.Body, fn)
		}
	}
}
