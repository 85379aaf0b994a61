package check

import (
	"fmt"
	"strconv"
	"strings"

	"qcheck/internal/diag"
	"qcheck/internal/ir"
)

// Reversibility is the classification of one node.
type Reversibility uint8

const (
	Unitary Reversibility = iota
	Observational
)

func (r Reversibility) String() string {
	if r == Observational {
		return "observational"
	}
	return "unitary"
}

func (r Reversibility) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// NodeTag is the reversibility of one node. Op names the operation or callee
// for gates, measurements and calls.
type NodeTag struct {
	Node ir.NodeID     `yaml:"node" json:"node" msgpack:"node"`
	Kind string        `yaml:"kind" json:"kind" msgpack:"kind"`
	Tag  Reversibility `yaml:"tag" json:"tag" msgpack:"tag"`
	Op   string        `yaml:"op,omitempty" json:"op,omitempty" msgpack:"op,omitempty"`
}

// classify tags every node in pre-order. In a unit that must stay reversible
// every observational leaf is reported.
func (c *checker) classify() []NodeTag {
	pure := c.unit.Reversible || c.unit.Inverse != ""
	var tags []NodeTag
	var visit func(nodes []ir.Node) Reversibility
	visit = func(nodes []ir.Node) Reversibility {
		agg := Unitary
		for i := range nodes {
			n := &nodes[i]
			idx := len(tags)
			tags = append(tags, NodeTag{Node: n.ID, Kind: n.Kind.String()})
			var tag Reversibility
			var op string
			switch n.Kind {
			case ir.NodeBranch:
				tag = Unitary
				for _, arm := range n.Branch.Arms {
					tag = max(tag, visit(arm.Body))
				}
			case ir.NodeLoop:
				tag = visit(n.Loop.Body)
			case ir.NodeBlock:
				tag = visit(n.Block.Body)
			default:
				var why string
				tag, op, why = c.leaf(n)
				if tag == Observational && pure {
					c.errorf(diag.NonUnitaryInPureContext, n.Span,
						"unit %q must stay reversible but %s", c.unit.Name, why).Emit()
				}
			}
			tags[idx].Tag, tags[idx].Op = tag, op
			agg = max(agg, tag)
		}
		return agg
	}
	visit(c.unit.Body)
	return tags
}

// leaf classifies a node without children. why explains an observational tag.
func (c *checker) leaf(n *ir.Node) (tag Reversibility, op, why string) {
	switch n.Kind {
	case ir.NodeAllocate, ir.NodeMove, ir.NodeBorrow, ir.NodeReturn:
		return Unitary, "", ""
	case ir.NodeUnitary:
		op = n.Unitary.Op
		if d, ok := c.sigs.Op(op); ok && d.Observational {
			return Observational, op, fmt.Sprintf("operation %q is observational", op)
		}
		return Unitary, op, ""
	case ir.NodeObserve:
		op = n.Observe.Op
		return Observational, op, fmt.Sprintf("%q measures %s", op, quoteAll(n.Observe.Operands))
	case ir.NodeDiscard:
		clean, seen := c.discardClean[n.ID]
		if !seen {
			names := ancillaNames(c.unit.Body)
			clean = true
			for _, name := range n.Discard.Operands {
				clean = clean && names[name]
			}
		}
		if clean {
			return Unitary, "", ""
		}
		return Observational, "", fmt.Sprintf("discard of %s is not an ancilla release", quoteAll(n.Discard.Operands))
	case ir.NodeCall:
		op = n.Call.Callee
		if sig, ok := c.sigs.Unit(op); ok && sig.Observational {
			return Observational, op, fmt.Sprintf("call to %q is observational through %q", op, sig.Observer)
		}
		return Unitary, op, ""
	}
	panic(fmt.Errorf("classify: unhandled node kind %s", n.Kind))
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = strconv.Quote(n)
	}
	return strings.Join(quoted, ", ")
}
