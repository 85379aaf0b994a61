package check

import (
	"testing"

	"qcheck/internal/diag"
	"qcheck/internal/ir"
)

func TestBorrowRejectsSecondBorrowAgainstMutable(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Block(func(b *ir.Body) {
			b.Borrow("q", ir.BorrowMut, "r1")
			b.Borrow("q", ir.BorrowShared, "r2")
		}).
		Measure("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.ConflictingBorrow)
	if n := bag.Items()[0].Notes; len(n) != 1 {
		t.Fatalf("expected a note at the first borrow, got %+v", n)
	}
}

func TestBorrowSharedBorrowsCoexist(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q", "t").
		Block(func(b *ir.Body) {
			b.Borrow("q", ir.BorrowShared, "r1")
			b.Borrow("q", ir.BorrowShared, "r2")
			b.Ctrl("cz", []string{"r1"}, "t")
		}).
		MeasureJoint("q", "t")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag)
}

func TestBorrowBlocksConsumeWhileShared(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Block(func(b *ir.Body) {
			b.Borrow("q", ir.BorrowShared, "r")
			b.Measure("q")
		}).
		Measure("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UseWhileBorrowed)
}

func TestBorrowRetiredAtScopeExit(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Block(func(b *ir.Body) {
			b.Borrow("q", ir.BorrowShared, "r")
		}).
		Measure("q")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)

	var ended int
	for _, ev := range results["main"].Annotations.Events {
		if ev.Kind == EvEndBorrow {
			ended++
		}
	}
	if ended != 1 {
		t.Fatalf("expected one end_borrow event, got %d", ended)
	}
}

func TestBorrowMutableTokenMatch(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Block(func(b *ir.Body) {
			b.Borrow("q", ir.BorrowMut, "r")
			b.Gate("x", "r")
		}).
		Measure("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag)

	b = ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Block(func(b *ir.Body) {
			b.Borrow("q", ir.BorrowMut, "r")
			b.Gate("x", "q")
		}).
		Measure("q")
	bag, _ = runCheck(t, b.Program())
	expectCodes(t, bag, diag.UseWhileBorrowed)
}

func TestBorrowMutableBlocksReads(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q", "t").
		Block(func(b *ir.Body) {
			b.Borrow("q", ir.BorrowMut, "r")
			b.Ctrl("cx", []string{"q"}, "t")
		}).
		MeasureJoint("q", "t")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UseWhileBorrowed)
}

func TestBorrowCannotMoveOutOfHandle(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Block(func(b *ir.Body) {
			b.Borrow("q", ir.BorrowMut, "r")
			b.Measure("r")
		}).
		Measure("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UseWhileBorrowed)
}

func TestBorrowSharedHandleIsReadOnly(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Block(func(b *ir.Body) {
			b.Borrow("q", ir.BorrowShared, "r")
			b.Gate("x", "r")
		}).
		Measure("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UseWhileBorrowed)
}

func TestBorrowAliasingInOneNode(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Ctrl("cx", []string{"q"}, "q").
		Measure("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.ConflictingBorrow)
}

func TestBorrowedParameters(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("flip").Param("q", ir.ParamBorrowedMut).Gate("x", "q")
	b.Unit("peek").Param("q", ir.ParamBorrowed).Gate("x", "q")
	b.Unit("main").
		Alloc("q").
		Call("flip", []string{"q"}).
		Measure("q")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UseWhileBorrowed)
	if !results["flip"].Accepted || results["peek"].Accepted || !results["main"].Accepted {
		t.Fatalf("unexpected acceptance flip=%v peek=%v main=%v",
			results["flip"].Accepted, results["peek"].Accepted, results["main"].Accepted)
	}
}

func TestCallConsumesOwnedArgument(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("sink").Param("q", ir.ParamOwned).Measure("q")
	b.Unit("main").
		Alloc("q").
		Call("sink", []string{"q"}).
		Gate("h", "q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UseAfterConsume)
}

func TestCallThreadsOwnedArgument(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("prep").Param("q", ir.ParamOwned).Result("q").Gate("h", "q").Return("q")
	b.Unit("main").
		Alloc("a").
		Call("prep", []string{"a"}, "a").
		Measure("a")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)
	if n := len(results["main"].Annotations.Resources); n != 1 {
		t.Fatalf("threaded argument should keep its resource, got %d records", n)
	}
}

func TestCallArityMismatch(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("sink").Param("q", ir.ParamOwned).Measure("q")
	b.Unit("main").
		Alloc("a", "b").
		Call("sink", []string{"a", "b"})
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.SignatureMismatch)
}

func TestCallUnknownUnit(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("a").
		Call("missing", []string{"a"}, "b").
		Measure("b")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.UnknownOperation)
}

func TestCallEntanglingCalleeMergesClasses(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("pair").
		Param("a", ir.ParamBorrowedMut).
		Param("b", ir.ParamBorrowedMut).
		Ctrl("cx", []string{"a"}, "b")
	b.Unit("main").
		Alloc("x", "y").
		Call("pair", []string{"x", "y"}).
		Measure("x").
		Measure("y")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.EntanglementViolation)
}
