package check

import (
	"qcheck/internal/diag"
	"qcheck/internal/ir"
)

// useMode is how a node touches an operand.
type useMode uint8

const (
	// useConsume ends the resource (measure, discard, consumed argument).
	useConsume useMode = iota
	// useMove transfers ownership to another binding or out of the unit.
	useMove
	// useMutate threads the resource through in place.
	useMutate
	// useRead is a shared access such as a control qubit.
	useRead
	// useBorrow opens an explicit borrow; the ledger checks conflicts.
	useBorrow
)

func (m useMode) takesOwnership() bool {
	return m == useConsume || m == useMove
}

// operand is a resolved binding reference.
type operand struct {
	name    string
	mode    useMode
	binding BindingID
	res     ResourceID
	handle  bool
	token   BorrowID
	ok      bool
}

// resolve looks name up and runs the linearity and borrow checks for mode.
// A failed operand has ok == false; a poisoned resource fails silently.
func (c *checker) resolve(st *UnitState, name string, mode useMode, n *ir.Node) operand {
	op := operand{name: name, mode: mode}
	id, found := st.Env.Lookup(name)
	if !found {
		c.errorf(diag.UnknownBinding, n.Span, "%s refers to undeclared binding %q", n.Kind, name).
			WithBinding(name).Emit()
		return op
	}
	b := st.Env.Binding(id)
	op.binding, op.res = id, b.Resource
	op.handle = b.Kind == BindingHandle
	op.token = b.Token
	if st.Resources.Status(b.Resource) == StatusPoisoned {
		return op
	}
	switch b.State {
	case BindingMoved:
		c.errorf(diag.UseAfterMove, n.Span, "use of %q after it was moved", name).
			WithBinding(name).WithResource(uint32(b.Resource)).
			WithNote(b.LastUse, "moved here").Emit()
		return op
	case BindingConsumed:
		c.errorf(diag.UseAfterConsume, n.Span, "use of %q after it was consumed", name).
			WithBinding(name).WithResource(uint32(b.Resource)).
			WithNote(b.LastUse, "consumed here").Emit()
		return op
	}
	if status := st.Resources.Status(b.Resource); status != StatusLive {
		c.errorf(diag.UseAfterConsume, n.Span, "use of %q whose resource is already %s", name, status).
			WithBinding(name).WithResource(uint32(b.Resource)).Emit()
		return op
	}
	if !c.borrowCheck(st, b, mode, n) {
		return op
	}
	op.ok = true
	return op
}

func (c *checker) borrowCheck(st *UnitState, b *Binding, mode useMode, n *ir.Node) bool {
	if mode == useBorrow {
		return true
	}
	if b.Kind == BindingHandle {
		switch {
		case mode.takesOwnership():
			c.errorf(diag.UseWhileBorrowed, n.Span, "cannot move out of borrow %q", b.Name).
				WithBinding(b.Name).WithResource(uint32(b.Resource)).Emit()
			return false
		case mode == useMutate && b.Borrow != ir.BorrowMut:
			c.errorf(diag.UseWhileBorrowed, n.Span, "cannot modify through shared borrow %q", b.Name).
				WithBinding(b.Name).WithResource(uint32(b.Resource)).Emit()
			return false
		case mode == useMutate:
			return c.borrowIssue(st, b, st.Ledger.MutationAllowed(b.Resource, b.Token), n)
		default:
			return c.borrowIssue(st, b, st.Ledger.ReadAllowed(b.Resource, b.Token), n)
		}
	}
	switch mode {
	case useConsume, useMove:
		return c.borrowIssue(st, b, st.Ledger.MoveAllowed(b.Resource), n)
	case useMutate:
		return c.borrowIssue(st, b, st.Ledger.MutationAllowed(b.Resource, NoBorrowID), n)
	default:
		return c.borrowIssue(st, b, st.Ledger.ReadAllowed(b.Resource, NoBorrowID), n)
	}
}

func (c *checker) borrowIssue(st *UnitState, b *Binding, issue BorrowIssue, n *ir.Node) bool {
	if issue.OK() {
		return true
	}
	rec := st.Ledger.Record(issue.Borrow)
	handle, span := "", n.Span
	if rec != nil {
		handle, span = rec.Handle, rec.Span
	}
	var msg string
	switch issue.Kind {
	case BorrowIssueFrozen:
		msg = "%q is borrowed by %q and cannot be moved or modified"
	default:
		msg = "%q is mutably borrowed by %q; only that borrow may act on it"
	}
	c.errorf(diag.UseWhileBorrowed, n.Span, msg, b.Name, handle).
		WithBinding(b.Name).WithResource(uint32(b.Resource)).
		WithNote(span, "borrowed here").Emit()
	return false
}

// dedupe rejects a resource that appears twice in one node. Two consuming
// uses are a double consumption; any other pair is an aliasing borrow.
func (c *checker) dedupe(ops []operand, n *ir.Node) {
	for j := range ops {
		if !ops[j].ok {
			continue
		}
		for i := 0; i < j; i++ {
			if !ops[i].ok || ops[i].res != ops[j].res {
				continue
			}
			if ops[i].mode == useConsume && ops[j].mode == useConsume {
				c.errorf(diag.DoubleConsume, n.Span, "%s consumes %q twice", n.Kind, ops[j].name).
					WithBinding(ops[j].name).WithResource(uint32(ops[j].res)).Emit()
			} else {
				c.errorf(diag.ConflictingBorrow, n.Span, "%s uses %q more than once", n.Kind, ops[j].name).
					WithBinding(ops[j].name).WithResource(uint32(ops[j].res)).Emit()
			}
			ops[j].ok = false
			break
		}
	}
}

func resources(ops []operand, keep func(operand) bool) []ResourceID {
	var out []ResourceID
	for _, op := range ops {
		if op.ok && (keep == nil || keep(op)) {
			out = append(out, op.res)
		}
	}
	return out
}
