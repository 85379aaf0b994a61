package check

import (
	"testing"

	"qcheck/internal/ir"
	"qcheck/internal/source"
)

func TestLedgerExclusivity(t *testing.T) {
	l := NewLedger()
	if _, issue := l.Borrow(1, ir.BorrowShared, 1, "a", source.Span{}); !issue.OK() {
		t.Fatalf("first shared borrow failed: %+v", issue)
	}
	if _, issue := l.Borrow(1, ir.BorrowShared, 1, "b", source.Span{}); !issue.OK() {
		t.Fatalf("shared borrows coexist: %+v", issue)
	}
	if _, issue := l.Borrow(1, ir.BorrowMut, 2, "c", source.Span{}); issue.Kind != BorrowIssueConflictShared {
		t.Fatalf("mutable borrow must conflict with shared, got %+v", issue)
	}
	mut, issue := l.Borrow(2, ir.BorrowMut, 1, "m", source.Span{})
	if !issue.OK() {
		t.Fatalf("mutable borrow failed: %+v", issue)
	}
	if _, issue := l.Borrow(2, ir.BorrowShared, 2, "s", source.Span{}); issue.Kind != BorrowIssueConflictMut || issue.Borrow != mut.ID {
		t.Fatalf("expected conflict with %d, got %+v", mut.ID, issue)
	}
}

func TestLedgerTokens(t *testing.T) {
	l := NewLedger()
	rec, _ := l.Borrow(1, ir.BorrowMut, 1, "m", source.Span{})
	if issue := l.MutationAllowed(1, rec.ID); !issue.OK() {
		t.Fatalf("holder must be allowed: %+v", issue)
	}
	if issue := l.MutationAllowed(1, NoBorrowID); issue.Kind != BorrowIssueTaken {
		t.Fatalf("owner must be blocked, got %+v", issue)
	}
	if issue := l.ReadAllowed(1, NoBorrowID); issue.Kind != BorrowIssueTaken {
		t.Fatalf("reads must be blocked too, got %+v", issue)
	}
	if issue := l.MoveAllowed(1); issue.OK() {
		t.Fatalf("moves are blocked while borrowed")
	}
}

func TestLedgerEndScope(t *testing.T) {
	l := NewLedger()
	l.Borrow(1, ir.BorrowShared, 1, "outer", source.Span{})
	l.Borrow(1, ir.BorrowShared, 2, "inner", source.Span{})
	l.Borrow(2, ir.BorrowMut, 3, "deep", source.Span{})

	cp := l.Clone()
	retired := l.EndScope(2)
	if len(retired) != 2 || retired[0].Handle != "inner" || retired[1].Handle != "deep" {
		t.Fatalf("unexpected retired records %+v", retired)
	}
	if l.HasBorrows(2) || !l.HasBorrows(1) || l.ActiveCount() != 1 {
		t.Fatalf("unexpected state after EndScope: %v", l.activeResources())
	}
	if cp.ActiveCount() != 3 {
		t.Fatalf("clone must be independent")
	}
	if issue := l.MutationAllowed(1, NoBorrowID); issue.Kind != BorrowIssueFrozen {
		t.Fatalf("outer shared borrow still freezes the resource, got %+v", issue)
	}
}
