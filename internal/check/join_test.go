package check

import (
	"strings"
	"testing"

	"qcheck/internal/diag"
	"qcheck/internal/ir"
)

func TestJoinAgreeingArms(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		If("c", func(b *ir.Body) {
			b.Gate("x", "q")
		}, func(b *ir.Body) {
			b.Gate("z", "q")
		}).
		Measure("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag)
}

func TestJoinBothArmsConsume(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		If("c", func(b *ir.Body) {
			b.Measure("q")
		}, func(b *ir.Body) {
			b.Discard("q")
		})
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)
	if r := record(t, results["main"], "q"); r.Status != StatusConsumed {
		t.Fatalf("expected the first arm's state, got %v", r.Status)
	}
}

func TestJoinSingleArmHasImplicitElse(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Alloc("q")
	p := b.Program()
	u := &p.Units[0]
	measure := ir.Node{Kind: ir.NodeObserve, Observe: ir.ObserveNode{Op: "measure", Operands: []string{"q"}}}
	u.Body = append(u.Body, ir.Node{Kind: ir.NodeBranch, Branch: ir.BranchNode{
		Cond: "c",
		Arms: []ir.Arm{{Label: "then", Body: []ir.Node{measure}}},
	}})
	u.Number()

	bag, _ := runCheck(t, p)
	expectCodes(t, bag, diag.BranchConsumptionMismatch)
	if msg := bag.Items()[0].Message; !strings.Contains(msg, `arm "else"`) {
		t.Fatalf("message should name the implicit else arm: %q", msg)
	}
	if got := len(u.Body[1].Branch.Arms); got != 1 {
		t.Fatalf("checking must not rewrite the IR, arms = %d", got)
	}
}

func TestJoinDifferentBindingName(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		If("c", func(b *ir.Body) {
			b.Move("q", "q2")
			b.Move("q2", "q3")
		}, nil)
	bag, _ := runCheck(t, b.Program())
	// q3 dies with the arm; the join then sees q poisoned on one side.
	expectCodes(t, bag, diag.UnconsumedLinearResource)
}

func TestJoinEntanglementDiffers(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("a", "b").
		If("c", func(b *ir.Body) {
			b.Ctrl("cx", []string{"a"}, "b")
		}, nil).
		MeasureJoint("a", "b")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.BranchConsumptionMismatch, diag.BranchConsumptionMismatch)
	if !strings.Contains(bag.Items()[0].Message, "entangled") {
		t.Fatalf("expected an entanglement mismatch, got %q", bag.Items()[0].Message)
	}
}

func TestJoinDivergedArmIsIgnored(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Param("q", ir.ParamOwned).Result("q").
		If("c", func(b *ir.Body) {
			b.Return("q")
		}, func(b *ir.Body) {
			b.Gate("h", "q")
		}).
		Return("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag)
}

func TestJoinAllArmsDiverge(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Param("q", ir.ParamOwned).Result("q").
		If("c", func(b *ir.Body) {
			b.Return("q")
		}, func(b *ir.Body) {
			b.Gate("x", "q")
			b.Return("q")
		})
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag)
}

func TestJoinArmLocalResources(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		If("c", func(b *ir.Body) {
			b.Alloc("t")
			b.Ctrl("cx", []string{"q"}, "t")
			b.MeasureJoint("q", "t")
		}, func(b *ir.Body) {
			b.Measure("q")
		})
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag)
}

func TestJoinSpeculativeStateDoesNotLeak(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		If("c", func(b *ir.Body) {
			b.Measure("q")
		}, nil).
		Measure("q")
	bag, _ := runCheck(t, b.Program())
	// The mismatch poisons q, so the later measurement is not a second error.
	expectCodes(t, bag, diag.BranchConsumptionMismatch)
}

func TestLoopConsumingOuterResource(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Loop(2, func(b *ir.Body) {
			b.Measure("q")
		})
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.BranchConsumptionMismatch)
	if !strings.Contains(bag.Items()[0].Message, "loop") {
		t.Fatalf("expected a loop message, got %q", bag.Items()[0].Message)
	}
}

func TestLoopBodyBalanced(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Loop(3, func(b *ir.Body) {
			b.Alloc("t")
			b.Gate("h", "t")
			b.Measure("t")
			b.Gate("t", "q")
		}).
		Measure("q")
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)

	// Resources minted by the silent second iteration are not reported.
	var names []string
	for _, r := range results["main"].Annotations.Resources {
		names = append(names, r.Name)
	}
	if strings.Join(names, ",") != "q,t" {
		t.Fatalf("unexpected resource records %v", names)
	}
}

func TestLoopBorrowsDoNotAccumulate(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("q").
		Loop(2, func(b *ir.Body) {
			b.Borrow("q", ir.BorrowMut, "r")
			b.Gate("x", "r")
		}).
		Measure("q")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag)
}

func TestLoopEntanglesOuterResources(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		Alloc("a", "b").
		Loop(2, func(b *ir.Body) {
			b.Ctrl("cx", []string{"a"}, "b")
		}).
		MeasureJoint("a", "b")
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag, diag.BranchConsumptionMismatch, diag.BranchConsumptionMismatch)
}

func TestLoopWithReturn(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").Param("q", ir.ParamOwned).Result("q").
		Loop(1, func(b *ir.Body) {
			b.Return("q")
		})
	bag, _ := runCheck(t, b.Program())
	expectCodes(t, bag)
}

func TestJoinArmMergesHaveDistinctClasses(t *testing.T) {
	b := ir.NewBuilder().StandardOps()
	b.Unit("main").
		If("c", func(b *ir.Body) {
			b.Alloc("x", "y")
			b.Ctrl("cx", []string{"x"}, "y")
			b.MeasureJoint("x", "y")
		}, func(b *ir.Body) {
			b.Alloc("u", "v")
			b.Ctrl("cx", []string{"u"}, "v")
			b.MeasureJoint("u", "v")
		})
	bag, results := runCheck(t, b.Program())
	expectCodes(t, bag)

	merges := results["main"].Annotations.Merges
	if len(merges) != 2 {
		t.Fatalf("expected one merge per arm, got %+v", merges)
	}
	if merges[0].Class == merges[1].Class {
		t.Fatalf("merges in different arms share class %v", merges[0].Class)
	}
}
