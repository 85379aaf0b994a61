package check

import (
	"slices"

	"qcheck/internal/diag"
	"qcheck/internal/ir"
	"qcheck/internal/source"
)

func (c *checker) bindParams(st *UnitState) {
	depth := st.Env.Depth()
	for _, p := range c.unit.Params {
		switch p.Mode {
		case ir.ParamOwned:
			res := c.mint(st, p.Name, OriginParam, false, 0, p.Span)
			st.Env.Bind(p.Name, res, BindingOwner, p.Span)
			st.record(Event{Kind: EvBind, Binding: p.Name, Resources: []ResourceID{res}})
		default:
			kind := ir.BorrowShared
			if p.Mode == ir.ParamBorrowedMut {
				kind = ir.BorrowMut
			}
			res := c.mint(st, p.Name, OriginBorrowedParam, false, 0, p.Span)
			rec, _ := st.Ledger.Borrow(res, kind, depth, p.Name, p.Span)
			id := st.Env.Bind(p.Name, res, BindingHandle, p.Span)
			h := st.Env.Binding(id)
			h.Token, h.Borrow = rec.ID, kind
			st.record(Event{Kind: EvBorrow, Binding: p.Name, Resources: []ResourceID{res}, Borrow: rec.ID})
		}
	}
}

func (c *checker) mint(st *UnitState, name string, origin Origin, ancilla bool, node ir.NodeID, span source.Span) ResourceID {
	res := st.Resources.Allocate(ResourceInfo{
		Name:        name,
		Origin:      origin,
		Ancilla:     ancilla,
		Node:        node,
		Span:        span,
		Speculative: !c.recording(),
	})
	st.Tracker.Add(res)
	return res
}

// poison binds name to a placeholder so an earlier error does not cascade.
func (c *checker) poison(st *UnitState, name string, n *ir.Node) {
	res := c.mint(st, name, OriginProduced, false, n.ID, n.Span)
	st.Resources.SetStatus(res, StatusPoisoned)
	st.Env.Bind(name, res, BindingOwner, n.Span)
}

func (c *checker) walkBlock(st *UnitState, nodes []ir.Node) {
	for i := range nodes {
		if st.Diverged {
			return
		}
		c.walkNode(st, &nodes[i])
	}
}

func (c *checker) walkNode(st *UnitState, n *ir.Node) {
	switch n.Kind {
	case ir.NodeAllocate:
		c.allocate(st, n)
	case ir.NodeUnitary:
		c.unitary(st, n)
	case ir.NodeObserve:
		c.observe(st, n)
	case ir.NodeDiscard:
		c.discard(st, n)
	case ir.NodeMove:
		c.move(st, n)
	case ir.NodeBorrow:
		c.borrow(st, n)
	case ir.NodeCall:
		c.call(st, n)
	case ir.NodeBranch:
		c.branch(st, n)
	case ir.NodeLoop:
		c.loop(st, n)
	case ir.NodeBlock:
		st.Env.Push(FrameBlock, "")
		st.record(Event{Kind: EvScopeEnter, Node: n.ID})
		c.walkBlock(st, n.Block.Body)
		if !st.Diverged {
			c.popScope(st, n.ID, n.Span)
		}
	case ir.NodeReturn:
		c.ret(st, n)
	}
}

func (c *checker) allocate(st *UnitState, n *ir.Node) {
	ids := make([]ResourceID, 0, len(n.Allocate.Results))
	for _, name := range n.Allocate.Results {
		res := c.mint(st, name, OriginAlloc, n.Allocate.Ancilla, n.ID, n.Span)
		st.Env.Bind(name, res, BindingOwner, n.Span)
		ids = append(ids, res)
	}
	st.record(Event{Kind: EvAllocate, Node: n.ID, Span: n.Span, Resources: ids})
}

// jointLive is the membership filter for wholeness checks: live resources
// owned by this unit. Ancillas are excluded because the planner separates
// them before release.
func (c *checker) jointLive(st *UnitState) func(ResourceID) bool {
	return func(id ResourceID) bool {
		if !st.Resources.IsLive(id) {
			return false
		}
		info := st.Resources.Info(id)
		return !info.Ancilla && info.Origin != OriginBorrowedParam
	}
}

// checkJoint reports partial consumption of entanglement classes.
func (c *checker) checkJoint(st *UnitState, n *ir.Node, consumed []ResourceID, verb string) bool {
	var filtered []ResourceID
	for _, id := range consumed {
		if c.jointLive(st)(id) {
			filtered = append(filtered, id)
		}
	}
	violations := st.Tracker.CheckJointConsumption(filtered, c.jointLive(st))
	for _, v := range violations {
		first := v.Consumed[0]
		c.errorf(diag.EntanglementViolation, n.Span, "%s of %q leaves entangled %s live",
			verb, st.Env.NameOf(first, st.Resources), c.names(st, v.Remaining)).
			WithBinding(st.Env.NameOf(first, st.Resources)).WithResource(uint32(first)).Emit()
	}
	return len(violations) == 0
}

func (c *checker) names(st *UnitState, ids []ResourceID) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, st.Env.NameOf(id, st.Resources))
	}
	return quoteAll(out)
}

// consume marks op's resource consumed through its binding.
func (c *checker) consume(st *UnitState, op operand, n *ir.Node) {
	if !st.Resources.Consume(op.res) {
		c.errorf(diag.DoubleConsume, n.Span, "%q is consumed twice", op.name).
			WithBinding(op.name).WithResource(uint32(op.res)).Emit()
		return
	}
	st.Env.MarkConsumed(op.binding, n.Span)
}

// rebind threads op's resource to the output name.
func (c *checker) rebind(st *UnitState, op operand, name string, n *ir.Node) {
	if name == op.name {
		return
	}
	st.Env.MoveOut(op.binding, n.Span)
	st.Env.Bind(name, op.res, BindingOwner, n.Span)
	st.record(Event{Kind: EvMove, Node: n.ID, Binding: name, Resources: []ResourceID{op.res}})
}

func (c *checker) unitary(st *UnitState, n *ir.Node) {
	u := &n.Unitary
	decl, known := c.sigs.Op(u.Op)
	if !known {
		c.errorf(diag.UnknownOperation, n.Span, "gate applies undeclared operation %q", u.Op).Emit()
	}
	entangling := u.Entangling || decl.Entangling
	disentangling := u.Disentangling || decl.Disentangling

	var ops []operand
	for _, name := range u.Effects.Consumes {
		ops = append(ops, c.resolve(st, name, useConsume, n))
	}
	threadStart := len(ops)
	var threadOut []string
	for _, p := range u.Effects.Produces {
		if p.From == "" {
			continue
		}
		mode := useMutate
		if p.Name != p.From {
			mode = useMove
		}
		ops = append(ops, c.resolve(st, p.From, mode, n))
		threadOut = append(threadOut, p.Name)
	}
	borrowStart := len(ops)
	for _, b := range u.Effects.Borrows {
		mode := useRead
		if b.Kind == ir.BorrowMut {
			mode = useMutate
		}
		ops = append(ops, c.resolve(st, b.Name, mode, n))
	}
	c.dedupe(ops, n)

	consumed := resources(ops[:threadStart], nil)
	c.checkJoint(st, n, consumed, u.Op)
	for _, op := range ops[:threadStart] {
		if op.ok {
			c.consume(st, op, n)
		}
	}
	operandIDs := resources(ops[threadStart:], nil)

	var fresh []ResourceID
	ti := 0
	for _, p := range u.Effects.Produces {
		if p.From == "" {
			res := c.mint(st, p.Name, OriginProduced, false, n.ID, n.Span)
			st.Env.Bind(p.Name, res, BindingOwner, n.Span)
			fresh = append(fresh, res)
			continue
		}
		op := ops[threadStart+ti]
		name := threadOut[ti]
		ti++
		switch {
		case op.ok:
			c.rebind(st, op, name, n)
		case name != op.name:
			c.poison(st, name, n)
		}
	}

	switch {
	case disentangling:
		c.split(st, n, operandIDs)
	case entangling:
		c.merge(st, n, append(slices.Clone(operandIDs), fresh...))
	}

	writes := resources(ops[threadStart:], func(op operand) bool { return op.mode != useRead })
	reads := resources(ops[borrowStart:], func(op operand) bool { return op.mode == useRead })
	writes = append(writes, fresh...)
	st.record(Event{
		Kind:      EvApply,
		Node:      n.ID,
		Span:      n.Span,
		Op:        u.Op,
		Resources: append(resources(ops, nil), fresh...),
		Writes:    writes,
		Reads:     reads,
		Entangles: entangling && !disentangling,
	})
}

func (c *checker) merge(st *UnitState, n *ir.Node, ids []ResourceID) {
	class, merged := st.Tracker.Merge(ids...)
	if !merged {
		return
	}
	members := st.Tracker.Members(ids[0], st.live)
	st.record(Event{Kind: EvMerge, Node: n.ID, Class: class, Resources: members})
	if c.recording() {
		c.ann.Merges = append(c.ann.Merges, NodeClass{Node: n.ID, Class: class, Members: members})
	}
}

func (c *checker) split(st *UnitState, n *ir.Node, ids []ResourceID) {
	if len(ids) == 0 {
		return
	}
	class := st.Tracker.Class(ids[0])
	ok, members := st.Tracker.Split(ids, c.jointLive(st))
	if !ok {
		c.errorf(diag.IllegalSplit, n.Span, "disentangling %q names %s but the class holds %s",
			n.Unitary.Op, c.names(st, ids), c.names(st, members)).
			WithBinding(st.Env.NameOf(ids[0], st.Resources)).WithResource(uint32(ids[0])).Emit()
		return
	}
	if class == NoClass {
		return
	}
	st.record(Event{Kind: EvSplit, Node: n.ID, Class: class, Resources: ids})
	if c.recording() {
		c.ann.Splits = append(c.ann.Splits, SplitRecord{Node: n.ID, Class: class, Removed: slices.Clone(ids)})
	}
}

func (c *checker) observe(st *UnitState, n *ir.Node) {
	o := &n.Observe
	decl, _ := c.sigs.Op(o.Op)
	classAware := o.ClassAware || decl.ClassAware

	ops := make([]operand, 0, len(o.Operands))
	for _, name := range o.Operands {
		ops = append(ops, c.resolve(st, name, useConsume, n))
	}
	c.dedupe(ops, n)
	consumed := resources(ops, nil)

	clean := true
	if !classAware {
		clean = c.checkJoint(st, n, consumed, o.Op)
	}
	var splits []SplitRecord
	if clean {
		splits = c.measurementSplits(st, n, consumed)
	}
	for _, op := range ops {
		if op.ok {
			c.consume(st, op, n)
		}
	}
	st.record(Event{Kind: EvConsume, Node: n.ID, Span: n.Span, Op: o.Op, Resources: consumed})
	for _, s := range splits {
		st.record(Event{Kind: EvSplit, Node: n.ID, Class: s.Class, Resources: s.Removed})
	}
	if c.recording() {
		c.ann.Splits = append(c.ann.Splits, splits...)
	}
}

// measurementSplits lists, per class, which members a measurement removes
// and which stay live.
func (c *checker) measurementSplits(st *UnitState, n *ir.Node, consumed []ResourceID) []SplitRecord {
	var out []SplitRecord
	done := map[ClassID]bool{}
	for _, id := range consumed {
		class := st.Tracker.Class(id)
		if class == NoClass || done[class] {
			continue
		}
		done[class] = true
		rec := SplitRecord{Node: n.ID, Class: class}
		for _, m := range st.Tracker.Members(id, st.live) {
			if slices.Contains(consumed, m) {
				rec.Removed = append(rec.Removed, m)
			} else {
				rec.Remaining = append(rec.Remaining, m)
			}
		}
		if len(rec.Remaining) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

func (c *checker) discard(st *UnitState, n *ir.Node) {
	ops := make([]operand, 0, len(n.Discard.Operands))
	for _, name := range n.Discard.Operands {
		ops = append(ops, c.resolve(st, name, useConsume, n))
	}
	c.dedupe(ops, n)

	var group []operand
	var plain []operand
	for _, op := range ops {
		if !op.ok {
			continue
		}
		if st.Resources.Info(op.res).Ancilla {
			group = append(group, op)
		} else {
			plain = append(plain, op)
		}
	}
	if c.recording() {
		c.discardClean[n.ID] = len(plain) == 0 && len(group) == len(ops)
	}
	c.checkJoint(st, n, resources(plain, nil), "discard")
	for _, op := range plain {
		st.Resources.SetStatus(op.res, StatusDiscarded)
		st.Env.MarkConsumed(op.binding, n.Span)
	}
	if len(plain) > 0 {
		st.record(Event{Kind: EvDiscard, Node: n.ID, Span: n.Span, Resources: resources(plain, nil)})
	}
	if len(group) > 0 {
		items := make([]releaseItem, 0, len(group))
		for _, op := range group {
			items = append(items, releaseItem{binding: op.binding, res: op.res, name: op.name})
		}
		c.release(st, n.ID, n.Span, items, false)
	}
}

func (c *checker) move(st *UnitState, n *ir.Node) {
	op := c.resolve(st, n.Move.From, useMove, n)
	if !op.ok {
		if n.Move.To != n.Move.From {
			c.poison(st, n.Move.To, n)
		}
		return
	}
	st.Env.MoveOut(op.binding, n.Span)
	st.Env.Bind(n.Move.To, op.res, BindingOwner, n.Span)
	st.record(Event{Kind: EvMove, Node: n.ID, Span: n.Span, Binding: n.Move.To, Resources: []ResourceID{op.res}})
}

func (c *checker) borrow(st *UnitState, n *ir.Node) {
	b := &n.Borrow
	op := c.resolve(st, b.Target, useBorrow, n)
	if !op.ok {
		c.poison(st, b.Handle, n)
		return
	}
	rec, issue := st.Ledger.Borrow(op.res, b.Kind, st.Env.Depth(), b.Handle, n.Span)
	if !issue.OK() {
		prev := st.Ledger.Record(issue.Borrow)
		held := "shared"
		if issue.Kind == BorrowIssueConflictMut {
			held = "mutable"
		}
		rb := c.errorf(diag.ConflictingBorrow, n.Span, "cannot borrow %q as %s: it already has a %s borrow",
			b.Target, b.Kind, held).WithBinding(b.Target).WithResource(uint32(op.res))
		if prev != nil {
			rb = rb.WithNote(prev.Span, "previous borrow "+prev.Handle+" here")
		}
		rb.Emit()
		c.poison(st, b.Handle, n)
		return
	}
	id := st.Env.Bind(b.Handle, op.res, BindingHandle, n.Span)
	h := st.Env.Binding(id)
	h.Token, h.Borrow = rec.ID, b.Kind
	st.record(Event{Kind: EvBorrow, Node: n.ID, Span: n.Span, Binding: b.Handle, Resources: []ResourceID{op.res}, Borrow: rec.ID})
}

func (c *checker) call(st *UnitState, n *ir.Node) {
	call := &n.Call
	sig, ok := c.sigs.Unit(call.Callee)
	if !ok {
		c.errorf(diag.UnknownOperation, n.Span, "call to undeclared unit %q", call.Callee).Emit()
		c.abandonCall(st, n)
		return
	}
	if len(call.Args) != len(sig.Params) || len(call.Results) != len(sig.Results) {
		c.errorf(diag.SignatureMismatch, n.Span, "call to %q passes %d arguments and binds %d results; the unit takes %d and returns %d",
			call.Callee, len(call.Args), len(call.Results), len(sig.Params), len(sig.Results)).Emit()
		c.abandonCall(st, n)
		return
	}

	threadedTo := make([]int, len(sig.Params))
	for i := range threadedTo {
		threadedTo[i] = -1
	}
	for j, r := range sig.Results {
		if r.From == "" {
			continue
		}
		for i, p := range sig.Params {
			if p.Name == r.From && p.Mode == ir.ParamOwned {
				threadedTo[i] = j
			}
		}
	}

	ops := make([]operand, len(call.Args))
	for i, p := range sig.Params {
		var mode useMode
		switch {
		case p.Mode == ir.ParamBorrowed:
			mode = useRead
		case p.Mode == ir.ParamBorrowedMut:
			mode = useMutate
		case threadedTo[i] < 0:
			mode = useConsume
		case call.Results[threadedTo[i]] == call.Args[i]:
			mode = useMutate
		default:
			mode = useMove
		}
		ops[i] = c.resolve(st, call.Args[i], mode, n)
	}
	c.dedupe(ops, n)

	var consumed []operand
	for i, op := range ops {
		if op.ok && sig.Params[i].Mode == ir.ParamOwned && threadedTo[i] < 0 {
			consumed = append(consumed, op)
		}
	}
	c.checkJoint(st, n, resources(consumed, nil), "call to "+call.Callee)
	for _, op := range consumed {
		c.consume(st, op, n)
	}

	var fresh []ResourceID
	for j, r := range sig.Results {
		name := call.Results[j]
		from := -1
		for i, t := range threadedTo {
			if t == j {
				from = i
			}
		}
		if r.From == "" || from < 0 {
			res := c.mint(st, name, OriginProduced, false, n.ID, n.Span)
			st.Env.Bind(name, res, BindingOwner, n.Span)
			fresh = append(fresh, res)
			continue
		}
		op := ops[from]
		switch {
		case op.ok:
			c.rebind(st, op, name, n)
		case name != op.name:
			c.poison(st, name, n)
		}
	}

	operandIDs := resources(ops, func(op operand) bool { return op.mode != useConsume })
	if sig.Entangling {
		c.merge(st, n, append(slices.Clone(operandIDs), fresh...))
	}
	writes := resources(ops, func(op operand) bool { return op.mode == useMutate || op.mode == useMove })
	st.record(Event{
		Kind:      EvApply,
		Node:      n.ID,
		Span:      n.Span,
		Op:        call.Callee,
		Call:      true,
		Resources: append(resources(ops, nil), fresh...),
		Writes:    append(writes, fresh...),
		Reads:     resources(ops, func(op operand) bool { return op.mode == useRead }),
		Entangles: sig.Entangling,
	})
}

// abandonCall binds a malformed call's results to placeholders and poisons
// its arguments so the error is reported once.
func (c *checker) abandonCall(st *UnitState, n *ir.Node) {
	for _, name := range n.Call.Args {
		if id, ok := st.Env.Lookup(name); ok {
			if b := st.Env.Binding(id); b.Kind == BindingOwner && st.Resources.IsLive(b.Resource) {
				st.Resources.SetStatus(b.Resource, StatusPoisoned)
			}
		}
	}
	for _, name := range n.Call.Results {
		c.poison(st, name, n)
	}
}

func (c *checker) ret(st *UnitState, n *ir.Node) {
	vals := make([]operand, 0, len(n.Return.Values))
	for _, name := range n.Return.Values {
		vals = append(vals, c.resolve(st, name, useMove, n))
	}
	c.dedupe(vals, n)
	if len(vals) != len(c.unit.Results) {
		c.errorf(diag.SignatureMismatch, n.Span, "return of %d values from unit %q declared with %d results",
			len(vals), c.unit.Name, len(c.unit.Results)).Emit()
	}

	returned := resources(vals, nil)
	reported := map[ClassID]bool{}
	for _, id := range returned {
		class := st.Tracker.Class(id)
		if class == NoClass || reported[class] {
			continue
		}
		var left []ResourceID
		for _, m := range st.Tracker.Members(id, c.jointLive(st)) {
			if !slices.Contains(returned, m) {
				left = append(left, m)
			}
		}
		if len(left) > 0 {
			reported[class] = true
			name := st.Env.NameOf(id, st.Resources)
			c.errorf(diag.EntanglementViolation, n.Span, "returning %q leaves entangled %s behind",
				name, c.names(st, left)).WithBinding(name).WithResource(uint32(id)).Emit()
		}
	}

	// Returned bindings leave the frames first; the resources stay live
	// until the scopes are closed so ancilla uncomputation can still read
	// them, but nothing that uncomputation writes may be among them.
	for _, op := range vals {
		if op.ok {
			st.Env.MoveOut(op.binding, n.Span)
		}
	}
	c.returning = returned
	c.exitScopes(st, 1, n.ID, n.Span)
	c.returning = nil
	for _, id := range returned {
		st.Resources.SetStatus(id, StatusEscaped)
	}
	st.record(Event{Kind: EvEscape, Node: n.ID, Span: n.Span, Resources: returned})
	c.recordExit(st)
	st.Diverged = true
}

// exitScopes closes every frame down to and including depth.
func (c *checker) exitScopes(st *UnitState, depth int, node ir.NodeID, span source.Span) {
	for st.Env.Depth() >= depth && st.Env.Depth() > 0 {
		c.popScope(st, node, span)
	}
}

// popScope runs the exhaustiveness check for the innermost frame, retires
// its borrows, releases its ancillas and pops it.
func (c *checker) popScope(st *UnitState, node ir.NodeID, span source.Span) {
	depth := st.Env.Depth()
	var group []releaseItem
	for _, id := range st.Env.FrameBindings(depth) {
		b := st.Env.Binding(id)
		if b.Kind != BindingOwner || b.State != BindingOwned || !st.Resources.IsLive(b.Resource) {
			continue
		}
		if st.Resources.Info(b.Resource).Ancilla {
			group = append(group, releaseItem{binding: id, res: b.Resource, name: b.Name})
			continue
		}
		c.errorf(diag.UnconsumedLinearResource, b.Span, "linear resource %q is never consumed", b.Name).
			WithBinding(b.Name).WithResource(uint32(b.Resource)).
			WithNote(span, "scope ends here").Emit()
		st.Resources.SetStatus(b.Resource, StatusPoisoned)
	}
	for _, rec := range st.Ledger.EndScope(depth) {
		st.record(Event{Kind: EvEndBorrow, Node: node, Binding: rec.Handle, Resources: []ResourceID{rec.Resource}, Borrow: rec.ID})
	}
	if len(group) > 0 {
		c.release(st, node, span, group, true)
	}
	st.Env.Pop()
	st.record(Event{Kind: EvScopeExit, Node: node})
}
