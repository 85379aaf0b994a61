package check

import (
	"fmt"
	"slices"

	"qcheck/internal/diag"
	"qcheck/internal/ir"
)

// residue is what a join compares for one pre-branch resource.
type residue struct {
	status ResourceStatus
	owner  string
	class  []ResourceID
}

func residueOf(s *UnitState, id ResourceID, within []ResourceID) residue {
	r := residue{status: s.Resources.Status(id)}
	if b, ok := s.Env.OwnerOf(id); ok {
		r.owner = s.Env.Binding(b).Name
	}
	if r.status == StatusLive {
		r.class = s.Tracker.Members(id, func(m ResourceID) bool {
			return m != id && s.live(m) && slices.Contains(within, m)
		})
	}
	return r
}

// divergence describes how a and b differ, or returns "" when they agree.
// Poisoned resources were already reported and agree with anything.
func divergence(s *UnitState, name string, a residue, la string, b residue, lb string) string {
	if a.status == StatusPoisoned || b.status == StatusPoisoned {
		return ""
	}
	switch {
	case settled(a.status) != settled(b.status):
		return fmt.Sprintf("%q is %s %s but %s %s", name, a.status, la, b.status, lb)
	case a.owner != b.owner:
		return fmt.Sprintf("%q is bound to %q %s but to %q %s", name, a.owner, la, b.owner, lb)
	case !slices.Equal(a.class, b.class):
		return fmt.Sprintf("%q is entangled with %s %s but with %s %s",
			name, classNames(s, a.class), la, classNames(s, b.class), lb)
	}
	return ""
}

// settled folds the ways a resource can end inside the unit together.
func settled(s ResourceStatus) ResourceStatus {
	if s == StatusDiscarded {
		return StatusConsumed
	}
	return s
}

func classNames(s *UnitState, ids []ResourceID) string {
	if len(ids) == 0 {
		return "nothing"
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Env.NameOf(id, s.Resources))
	}
	return quoteAll(out)
}

// reconcile poisons every mismatched resource in merged and gives its
// pre-branch owner binding back so later uses stay quiet.
func reconcile(pre, merged *UnitState, ids []ResourceID) {
	for _, id := range ids {
		merged.Resources.SetStatus(id, StatusPoisoned)
		if b, ok := pre.Env.OwnerOf(id); ok {
			merged.Env.Restore(b)
		}
	}
}

func armLabel(arm ir.Arm, i int) string {
	if arm.Label != "" {
		return arm.Label
	}
	return fmt.Sprintf("#%d", i+1)
}

func (c *checker) branch(st *UnitState, n *ir.Node) {
	br := &n.Branch
	if len(br.Arms) == 0 {
		return
	}
	paths := br.Arms
	if len(paths) == 1 {
		paths = append(slices.Clone(paths), ir.Arm{Label: "else"})
	}
	pre := st.Clone()
	within := pre.Resources.Live()

	arms := make([]*UnitState, len(paths))
	labels := make([]string, len(paths))
	for i, arm := range paths {
		labels[i] = armLabel(arm, i)
		s := pre.Clone()
		s.Env.Push(FrameArm, labels[i])
		s.record(Event{Kind: EvScopeEnter, Node: n.ID, Binding: labels[i]})
		c.walkBlock(s, arm.Body)
		if !s.Diverged {
			c.popScope(s, n.ID, n.Span)
		}
		arms[i] = s
	}

	ref := -1
	for i, s := range arms {
		if !s.Diverged {
			ref = i
			break
		}
	}

	suffixes := make([][]Event, len(arms))
	for i, s := range arms {
		suffixes[i] = s.Events[len(pre.Events):]
	}
	join := Event{Kind: EvJoin, Node: n.ID, Span: n.Span, Cond: br.Cond, Labels: labels, Arms: suffixes}

	if ref < 0 {
		merged := arms[len(arms)-1]
		merged.Events = append(slices.Clone(pre.Events), join)
		*st = *merged
		return
	}

	merged := arms[ref]
	var mismatched []ResourceID
	for _, id := range within {
		want := residueOf(merged, id, within)
		for i := ref + 1; i < len(arms); i++ {
			if arms[i].Diverged {
				continue
			}
			got := residueOf(arms[i], id, within)
			name := pre.Env.NameOf(id, pre.Resources)
			msg := divergence(pre, name,
				want, fmt.Sprintf("in arm %q", labels[ref]),
				got, fmt.Sprintf("in arm %q", labels[i]))
			if msg == "" {
				continue
			}
			c.errorf(diag.BranchConsumptionMismatch, n.Span, "%s", msg).
				WithBinding(name).WithResource(uint32(id)).Emit()
			mismatched = append(mismatched, id)
			break
		}
	}
	reconcile(pre, merged, mismatched)
	merged.Events = append(slices.Clone(pre.Events), join)
	*st = *merged
}

func (c *checker) loopBody(s *UnitState, n *ir.Node) {
	s.Env.Push(FrameLoop, "")
	s.record(Event{Kind: EvScopeEnter, Node: n.ID})
	c.walkBlock(s, n.Loop.Body)
	if !s.Diverged {
		c.popScope(s, n.ID, n.Span)
	}
}

// loop checks the body once from the entry state, requires the exit state to
// match the entry state, then re-runs the body silently to confirm a second
// iteration behaves the same.
func (c *checker) loop(st *UnitState, n *ir.Node) {
	pre := st.Clone()
	within := pre.Resources.Live()

	body := pre.Clone()
	c.loopBody(body, n)
	ev := Event{Kind: EvLoop, Node: n.ID, Span: n.Span, Count: n.Loop.Count, Body: body.Events[len(pre.Events):]}

	if body.Diverged {
		if n.Loop.Count > 0 {
			*st = *body
		} else {
			*st = *pre
		}
		st.Events = append(slices.Clone(pre.Events), ev)
		return
	}

	var mismatched []ResourceID
	for _, id := range within {
		name := pre.Env.NameOf(id, pre.Resources)
		msg := divergence(pre, name,
			residueOf(pre, id, within), "on loop entry",
			residueOf(body, id, within), "after the loop body")
		if msg == "" {
			continue
		}
		c.errorf(diag.BranchConsumptionMismatch, n.Span, "%s", msg).
			WithBinding(name).WithResource(uint32(id)).Emit()
		mismatched = append(mismatched, id)
	}

	if len(mismatched) == 0 && !c.stableIteration(body, n, within) {
		c.errorf(diag.BranchConsumptionMismatch, n.Span, "loop body is not stable across iterations").Emit()
	}

	reconcile(pre, body, mismatched)
	body.Events = append(slices.Clone(pre.Events), ev)
	*st = *body
}

// stableIteration runs the body a second time with diagnostics, annotations
// and releases suppressed and reports whether it ends where it started.
func (c *checker) stableIteration(first *UnitState, n *ir.Node, within []ResourceID) bool {
	saved := c.reporter
	counter := &diag.CountingReporter{Next: diag.NopReporter{}}
	c.reporter = counter
	c.quiet++
	defer func() {
		c.quiet--
		c.reporter = saved
	}()

	again := first.Clone()
	c.loopBody(again, n)
	if counter.Errors > 0 || again.Diverged {
		return counter.Errors == 0
	}
	for _, id := range within {
		a := residueOf(first, id, within)
		b := residueOf(again, id, within)
		if divergence(first, "", a, "", b, "") != "" {
			return false
		}
	}
	return true
}
