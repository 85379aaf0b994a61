package check

import (
	"testing"

	"qcheck/internal/source"
)

func TestEnvScopesAndShadowing(t *testing.T) {
	env := NewEnv()
	env.Push(FrameUnit, "main")
	outer := env.Bind("q", 1, BindingOwner, source.Span{})
	env.Push(FrameBlock, "")
	inner := env.Bind("q", 2, BindingOwner, source.Span{})

	if id, _ := env.Lookup("q"); id != inner {
		t.Fatalf("inner binding should shadow")
	}
	if got := env.Pop(); len(got) != 1 || got[0] != inner {
		t.Fatalf("pop returned %v", got)
	}
	if id, _ := env.Lookup("q"); id != outer {
		t.Fatalf("outer binding should be visible again")
	}
}

func TestEnvMoveOut(t *testing.T) {
	env := NewEnv()
	env.Push(FrameUnit, "main")
	id := env.Bind("q", 1, BindingOwner, source.Span{})
	if issue := env.MoveOut(id, source.Span{}); issue != MoveOK {
		t.Fatalf("first move failed: %v", issue)
	}
	if issue := env.MoveOut(id, source.Span{}); issue != MoveAfterMove {
		t.Fatalf("second move should fail, got %v", issue)
	}
	if _, ok := env.OwnerOf(1); ok {
		t.Fatalf("moved binding is not an owner")
	}
	env.Restore(id)
	if owner, ok := env.OwnerOf(1); !ok || owner != id {
		t.Fatalf("restore should make the binding own the resource again")
	}

	cp := env.Clone()
	env.MarkConsumed(id, source.Span{})
	if issue := env.MoveOut(id, source.Span{}); issue != MoveAfterConsume {
		t.Fatalf("consumed binding cannot move, got %v", issue)
	}
	if cp.Binding(id).State != BindingOwned {
		t.Fatalf("clone must be independent")
	}
}

func TestResourceTableSharesIdentityAcrossClones(t *testing.T) {
	table := NewResourceTable()
	a := table.Allocate(ResourceInfo{Name: "a"})
	cp := table.Clone()
	b := cp.Allocate(ResourceInfo{Name: "b"})
	if a == b {
		t.Fatalf("ids must be unique across clones")
	}
	if table.Info(b).Name != "b" || table.Minted() != 2 {
		t.Fatalf("identity arena should be shared")
	}
	if table.IsLive(b) {
		t.Fatalf("status is per path")
	}
	if !cp.Consume(b) || cp.Consume(b) {
		t.Fatalf("second consume must fail")
	}
	if got := table.Live(); len(got) != 1 || got[0] != a {
		t.Fatalf("live = %v", got)
	}
}
