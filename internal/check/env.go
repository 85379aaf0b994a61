package check

import (
	"fmt"
	"maps"

	"fortio.org/safecast"

	"qcheck/internal/ir"
	"qcheck/internal/source"
)

// BindingID indexes the binding arena of an Env.
type BindingID uint32

const NoBinding BindingID = 0

// BindingState is the ownership state of a name.
type BindingState uint8

const (
	BindingOwned BindingState = iota
	BindingMoved
	BindingConsumed
)

func (s BindingState) String() string {
	switch s {
	case BindingMoved:
		return "moved"
	case BindingConsumed:
		return "consumed"
	}
	return "owned"
}

// BindingKind separates owners from borrow handles.
type BindingKind uint8

const (
	BindingOwner BindingKind = iota
	// BindingHandle names a borrow; it never owns its resource.
	BindingHandle
)

// Binding associates a name with exactly one resource.
type Binding struct {
	Name     string
	Resource ResourceID
	State    BindingState
	Kind     BindingKind
	Depth    int
	// Token and Borrow are set for handles.
	Token  BorrowID
	Borrow ir.BorrowKind
	Span   source.Span
	// LastUse points at the move or consumption that ended ownership.
	LastUse source.Span
}

// FrameKind tags why a scope was opened.
type FrameKind uint8

const (
	FrameUnit FrameKind = iota
	FrameBlock
	FrameArm
	FrameLoop
)

type frame struct {
	kind     FrameKind
	label    string
	bindings []BindingID
	names    map[string]BindingID
}

// Env is the scoped mapping from names to resources for one control-flow path.
type Env struct {
	bindings []Binding
	frames   []frame
}

func NewEnv() *Env {
	return &Env{bindings: []Binding{{}}}
}

// Push opens a scope and returns its depth (1 for the unit frame).
func (e *Env) Push(kind FrameKind, label string) int {
	e.frames = append(e.frames, frame{kind: kind, label: label, names: make(map[string]BindingID)})
	return len(e.frames)
}

// Pop closes the innermost scope and returns its bindings in declaration
// order, shadowed ones included.
func (e *Env) Pop() []BindingID {
	if len(e.frames) == 0 {
		return nil
	}
	top := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	return top.bindings
}

func (e *Env) Depth() int {
	return len(e.frames)
}

// FrameBindings returns the bindings declared at depth.
func (e *Env) FrameBindings(depth int) []BindingID {
	if depth < 1 || depth > len(e.frames) {
		return nil
	}
	return e.frames[depth-1].bindings
}

// Bind declares name in the innermost frame.
func (e *Env) Bind(name string, res ResourceID, kind BindingKind, span source.Span) BindingID {
	n, err := safecast.Conv[uint32](len(e.bindings))
	if err != nil {
		panic(fmt.Errorf("binding arena overflow: %w", err))
	}
	id := BindingID(n)
	e.bindings = append(e.bindings, Binding{
		Name:     name,
		Resource: res,
		Kind:     kind,
		Depth:    len(e.frames),
		Span:     span,
	})
	top := &e.frames[len(e.frames)-1]
	top.bindings = append(top.bindings, id)
	top.names[name] = id
	return id
}

// Lookup resolves name from the innermost frame outwards.
func (e *Env) Lookup(name string) (BindingID, bool) {
	for i := len(e.frames) - 1; i >= 0; i-- {
		if id, ok := e.frames[i].names[name]; ok {
			return id, true
		}
	}
	return NoBinding, false
}

func (e *Env) Binding(id BindingID) *Binding {
	if id == NoBinding || int(id) >= len(e.bindings) {
		return nil
	}
	return &e.bindings[id]
}

// MoveIssue explains why a binding cannot be moved out.
type MoveIssue uint8

const (
	MoveOK MoveIssue = iota
	MoveAfterMove
	MoveAfterConsume
)

// MoveOut transitions an owned binding to Moved.
func (e *Env) MoveOut(id BindingID, at source.Span) MoveIssue {
	b := e.Binding(id)
	if issue := b.usable(); issue != MoveOK {
		return issue
	}
	b.State = BindingMoved
	b.LastUse = at
	return MoveOK
}

// MarkConsumed records that the binding's resource was consumed through it.
func (e *Env) MarkConsumed(id BindingID, at source.Span) {
	b := e.Binding(id)
	b.State = BindingConsumed
	b.LastUse = at
}

// Restore makes id owned again; used when a join poisons its resource.
func (e *Env) Restore(id BindingID) {
	if b := e.Binding(id); b != nil {
		b.State = BindingOwned
	}
}

func (b *Binding) usable() MoveIssue {
	switch b.State {
	case BindingMoved:
		return MoveAfterMove
	case BindingConsumed:
		return MoveAfterConsume
	}
	return MoveOK
}

// OwnerOf finds the owned owner binding of res, innermost frame first.
func (e *Env) OwnerOf(res ResourceID) (BindingID, bool) {
	for i := len(e.frames) - 1; i >= 0; i-- {
		bs := e.frames[i].bindings
		for j := len(bs) - 1; j >= 0; j-- {
			b := &e.bindings[bs[j]]
			if b.Resource == res && b.Kind == BindingOwner && b.State == BindingOwned {
				return bs[j], true
			}
		}
	}
	return NoBinding, false
}

// NameOf returns the owning binding name of res, or the resource's first name.
func (e *Env) NameOf(res ResourceID, table *ResourceTable) string {
	if id, ok := e.OwnerOf(res); ok {
		return e.bindings[id].Name
	}
	return table.Info(res).Name
}

func (e *Env) Clone() *Env {
	out := &Env{
		bindings: append([]Binding(nil), e.bindings...),
		frames:   make([]frame, len(e.frames)),
	}
	for i, f := range e.frames {
		out.frames[i] = frame{
			kind:     f.kind,
			label:    f.label,
			bindings: append([]BindingID(nil), f.bindings...),
			names:    maps.Clone(f.names),
		}
	}
	return out
}
