package check

import (
	"qcheck/internal/ir"
	"qcheck/internal/source"
)

// EventKind enumerates ownership transitions recorded during the first pass.
type EventKind uint8

const (
	EvAllocate EventKind = iota
	EvBind
	EvMove
	EvConsume
	EvApply
	EvBorrow
	EvEndBorrow
	EvMerge
	EvSplit
	EvDiscard
	EvEscape
	EvRelease
	EvJoin
	EvLoop
	EvScopeEnter
	EvScopeExit
)

var eventKindNames = [...]string{
	EvAllocate:   "allocate",
	EvBind:       "bind",
	EvMove:       "move",
	EvConsume:    "consume",
	EvApply:      "apply",
	EvBorrow:     "borrow",
	EvEndBorrow:  "end_borrow",
	EvMerge:      "merge",
	EvSplit:      "split",
	EvDiscard:    "discard",
	EvEscape:     "escape",
	EvRelease:    "release",
	EvJoin:       "join",
	EvLoop:       "loop",
	EvScopeEnter: "scope_enter",
	EvScopeExit:  "scope_exit",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one entry of the ownership trace. The Uncomputation Planner
// replays EvApply entries; EvJoin and EvLoop nest the traces of branch arms
// and loop bodies.
type Event struct {
	Kind      EventKind    `yaml:"kind" json:"kind" msgpack:"kind"`
	Node      ir.NodeID    `yaml:"node,omitempty" json:"node,omitempty" msgpack:"node,omitempty"`
	Span      source.Span  `yaml:"-" json:"-" msgpack:"-"`
	Binding   string       `yaml:"binding,omitempty" json:"binding,omitempty" msgpack:"binding,omitempty"`
	Resources []ResourceID `yaml:"resources,omitempty" json:"resources,omitempty" msgpack:"resources,omitempty"`

	// EvApply
	Op     string       `yaml:"op,omitempty" json:"op,omitempty" msgpack:"op,omitempty"`
	Call   bool         `yaml:"call,omitempty" json:"call,omitempty" msgpack:"call,omitempty"`
	Writes []ResourceID `yaml:"writes,omitempty" json:"writes,omitempty" msgpack:"writes,omitempty"`
	Reads  []ResourceID `yaml:"reads,omitempty" json:"reads,omitempty" msgpack:"reads,omitempty"`
	// Entangles is set when the operation merged its operands' classes.
	Entangles bool `yaml:"entangles,omitempty" json:"entangles,omitempty" msgpack:"entangles,omitempty"`

	// EvBorrow, EvEndBorrow
	Borrow BorrowID `yaml:"borrow,omitempty" json:"borrow,omitempty" msgpack:"borrow,omitempty"`

	// EvMerge, EvSplit
	Class ClassID `yaml:"class,omitempty" json:"class,omitempty" msgpack:"class,omitempty"`

	// EvJoin
	Cond   string    `yaml:"cond,omitempty" json:"cond,omitempty" msgpack:"cond,omitempty"`
	Labels []string  `yaml:"labels,omitempty" json:"labels,omitempty" msgpack:"labels,omitempty"`
	Arms   [][]Event `yaml:"arms,omitempty" json:"arms,omitempty" msgpack:"arms,omitempty"`

	// EvLoop
	Count int     `yaml:"count,omitempty" json:"count,omitempty" msgpack:"count,omitempty"`
	Body  []Event `yaml:"body,omitempty" json:"body,omitempty" msgpack:"body,omitempty"`
}
