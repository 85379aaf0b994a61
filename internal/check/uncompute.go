package check

import (
	"slices"

	"qcheck/internal/diag"
	"qcheck/internal/ir"
	"qcheck/internal/source"
)

// StepKind enumerates the shapes of an inverse step.
type StepKind uint8

const (
	StepApply StepKind = iota
	StepIf
	StepRepeat
)

func (k StepKind) String() string {
	switch k {
	case StepIf:
		return "if"
	case StepRepeat:
		return "repeat"
	}
	return "apply"
}

func (k StepKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// InverseStep is one instruction of an uncomputation sequence. Apply steps
// run Op, the inverse of Of, on Operands. If steps mirror a branch whose arms
// wrote the ancilla; repeat steps mirror a bounded loop.
type InverseStep struct {
	Kind     StepKind        `yaml:"kind" json:"kind" msgpack:"kind"`
	Node     ir.NodeID       `yaml:"node" json:"node" msgpack:"node"`
	Op       string          `yaml:"op,omitempty" json:"op,omitempty" msgpack:"op,omitempty"`
	Of       string          `yaml:"of,omitempty" json:"of,omitempty" msgpack:"of,omitempty"`
	Call     bool            `yaml:"call,omitempty" json:"call,omitempty" msgpack:"call,omitempty"`
	Operands []ResourceID    `yaml:"operands,omitempty" json:"operands,omitempty" msgpack:"operands,omitempty"`
	Cond     string          `yaml:"cond,omitempty" json:"cond,omitempty" msgpack:"cond,omitempty"`
	Labels   []string        `yaml:"labels,omitempty" json:"labels,omitempty" msgpack:"labels,omitempty"`
	Arms     [][]InverseStep `yaml:"arms,omitempty" json:"arms,omitempty" msgpack:"arms,omitempty"`
	Count    int             `yaml:"count,omitempty" json:"count,omitempty" msgpack:"count,omitempty"`
	Body     []InverseStep   `yaml:"body,omitempty" json:"body,omitempty" msgpack:"body,omitempty"`
}

// Uncomputation is the sequence inserted before the ancillas released at
// Node are discarded. Auto marks releases at scope exit.
type Uncomputation struct {
	Node     ir.NodeID     `yaml:"node" json:"node" msgpack:"node"`
	Span     source.Span   `yaml:"-" json:"-" msgpack:"-"`
	Ancillas []ResourceID  `yaml:"ancillas" json:"ancillas" msgpack:"ancillas"`
	Names    []string      `yaml:"names" json:"names" msgpack:"names"`
	Steps    []InverseStep `yaml:"steps" json:"steps" msgpack:"steps"`
	Auto     bool          `yaml:"auto,omitempty" json:"auto,omitempty" msgpack:"auto,omitempty"`
}

type releaseItem struct {
	binding BindingID
	res     ResourceID
	name    string
}

// releaseRequest captures what the planner needs from the first pass: the
// ownership trace up to the release and the statuses at that point.
type releaseRequest struct {
	node      ir.NodeID
	span      source.Span
	ancillas  []ResourceID
	names     []string
	trace     []Event
	status    []ResourceStatus
	others    []ResourceID
	// returning are live at the release but leave the unit right after.
	returning []ResourceID
	auto      bool
}

// release retires a group of ancillas. Planning happens in the second pass.
func (c *checker) release(st *UnitState, node ir.NodeID, span source.Span, items []releaseItem, auto bool) {
	ids := make([]ResourceID, 0, len(items))
	names := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.res)
		names = append(names, it.name)
	}
	if c.recording() {
		var others []ResourceID
		for _, id := range ids {
			for _, m := range st.Tracker.Members(id, nil) {
				if !slices.Contains(ids, m) && !slices.Contains(others, m) {
					others = append(others, m)
				}
			}
		}
		slices.Sort(others)
		c.releases = append(c.releases, releaseRequest{
			node:      node,
			span:      span,
			ancillas:  ids,
			names:     names,
			trace:     st.trace(),
			status:    st.Resources.Snapshot(),
			others:    others,
			returning: slices.Clone(c.returning),
			auto:      auto,
		})
	}
	for _, it := range items {
		st.Resources.SetStatus(it.res, StatusDiscarded)
		st.Tracker.Detach(it.res)
		st.Env.MarkConsumed(it.binding, span)
	}
	st.record(Event{Kind: EvRelease, Node: node, Span: span, Resources: ids})
}

func (c *checker) plan() []Uncomputation {
	var out []Uncomputation
	for i := range c.releases {
		if u, ok := c.planRelease(&c.releases[i]); ok {
			out = append(out, u)
		}
	}
	return out
}

// planner replays one release's trace backwards.
type planner struct {
	c        *checker
	req      *releaseRequest
	reported map[string]bool
	ok       bool
}

func (c *checker) planRelease(req *releaseRequest) (Uncomputation, bool) {
	p := &planner{c: c, req: req, reported: map[string]bool{}, ok: true}
	for _, id := range req.others {
		if int(id) < len(req.status) && req.status[id] == StatusEscaped {
			p.unresolvable(req.span, "%q is entangled with %q, which has left the unit",
				req.names[0], c.resourceName(id))
		}
	}
	steps := p.steps(req.trace)
	if !p.ok {
		return Uncomputation{}, false
	}
	return Uncomputation{
		Node:     req.node,
		Span:     req.span,
		Ancillas: req.ancillas,
		Names:    req.names,
		Steps:    steps,
		Auto:     req.auto,
	}, true
}

func (c *checker) resourceName(id ResourceID) string {
	return c.table.Info(id).Name
}

func (p *planner) inGroup(ids []ResourceID) bool {
	for _, id := range ids {
		if slices.Contains(p.req.ancillas, id) {
			return true
		}
	}
	return false
}

func (p *planner) steps(events []Event) []InverseStep {
	var out []InverseStep
	for i := len(events) - 1; i >= 0; i-- {
		ev := &events[i]
		switch ev.Kind {
		case EvApply:
			if step, ok := p.apply(ev); ok {
				out = append(out, step)
			}
		case EvJoin:
			arms := make([][]InverseStep, len(ev.Arms))
			wrote := false
			for j, arm := range ev.Arms {
				arms[j] = p.steps(arm)
				wrote = wrote || len(arms[j]) > 0
			}
			if wrote {
				out = append(out, InverseStep{Kind: StepIf, Node: ev.Node, Cond: ev.Cond, Labels: ev.Labels, Arms: arms})
			}
		case EvLoop:
			body := p.steps(ev.Body)
			if len(body) == 0 {
				continue
			}
			if ev.Count <= 0 {
				p.noInverse(ev.Span, "loop", "%q is written by a loop whose iteration count is not known statically",
					p.req.names[0])
				continue
			}
			out = append(out, InverseStep{Kind: StepRepeat, Node: ev.Node, Count: ev.Count, Body: body})
		}
	}
	return out
}

// apply replays an operation that wrote an ancilla, or one that used an
// ancilla to entangle other resources. Whatever the inverse writes must
// still belong to the unit at the release.
func (p *planner) apply(ev *Event) (InverseStep, bool) {
	writesAncilla := p.inGroup(ev.Writes)
	if !writesAncilla && !(ev.Entangles && p.inGroup(ev.Resources)) {
		return InverseStep{}, false
	}
	resolvable := true
	for _, id := range ev.Resources {
		if slices.Contains(p.req.ancillas, id) {
			continue
		}
		switch {
		case int(id) >= len(p.req.status) || p.req.status[id] != StatusLive:
			p.unresolvable(ev.Span, "uncomputing %q needs %q, which is no longer live at the release",
				p.req.names[0], p.c.resourceName(id))
			resolvable = false
		case slices.Contains(ev.Writes, id) && slices.Contains(p.req.returning, id):
			p.unresolvable(ev.Span, "%q is entangled with %q, which is returned from the unit",
				p.req.names[0], p.c.resourceName(id))
			resolvable = false
		}
	}
	if !resolvable {
		return InverseStep{}, false
	}
	inv, ok := p.c.sigs.InverseOf(ev.Op, ev.Call)
	if !ok {
		what := "operation"
		if ev.Call {
			what = "unit"
		}
		verb := "written"
		if !writesAncilla {
			verb = "entangled"
		}
		p.noInverse(ev.Span, ev.Op, "ancilla %q is %s by %s %q, which has no known inverse",
			p.req.names[0], verb, what, ev.Op)
		return InverseStep{}, false
	}
	return InverseStep{
		Kind:     StepApply,
		Node:     ev.Node,
		Op:       inv,
		Of:       ev.Op,
		Call:     ev.Call,
		Operands: slices.Clone(ev.Resources),
	}, true
}

func (p *planner) noInverse(at source.Span, key, format string, args ...any) {
	p.ok = false
	if p.reported["inv:"+key] {
		return
	}
	p.reported["inv:"+key] = true
	p.c.errorf(diag.NoKnownInverse, p.req.span, format, args...).
		WithBinding(p.req.names[0]).WithResource(uint32(p.req.ancillas[0])).
		WithNote(at, "written here").Emit()
}

func (p *planner) unresolvable(at source.Span, format string, args ...any) {
	p.ok = false
	if p.reported["unres"] {
		return
	}
	p.reported["unres"] = true
	p.c.errorf(diag.UnresolvableAncilla, p.req.span, format, args...).
		WithBinding(p.req.names[0]).WithResource(uint32(p.req.ancillas[0])).
		WithNote(at, "entangled here").Emit()
}
