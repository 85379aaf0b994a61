package check

import (
	"slices"
	"testing"
)

func newTrackerWith(n int) *Tracker {
	t := NewTracker()
	for id := 1; id <= n; id++ {
		t.Add(ResourceID(id))
	}
	return t
}

func allLive(ResourceID) bool { return true }

func TestTrackerMergeIdentityFollowsFirstMerge(t *testing.T) {
	tr := newTrackerWith(4)
	first, merged := tr.Merge(1, 2)
	if !merged || first == NoClass {
		t.Fatalf("expected a new class, got %v %v", first, merged)
	}
	second, _ := tr.Merge(3, 4)
	if second == first {
		t.Fatalf("independent merges need distinct identities")
	}
	joined, merged := tr.Merge(4, 1)
	if !merged || joined != first {
		t.Fatalf("joining should keep the oldest identity %v, got %v", first, joined)
	}
	if again, merged := tr.Merge(2, 3); merged || again != first {
		t.Fatalf("re-merge must be a no-op, got %v %v", again, merged)
	}
	if got := tr.Members(1, allLive); !slices.Equal(got, []ResourceID{1, 2, 3, 4}) {
		t.Fatalf("members = %v", got)
	}
}

func TestTrackerSplitRequiresWholeClass(t *testing.T) {
	tr := newTrackerWith(3)
	tr.Merge(1, 2, 3)
	ok, members := tr.Split([]ResourceID{1, 2}, allLive)
	if ok || !slices.Equal(members, []ResourceID{1, 2, 3}) {
		t.Fatalf("partial split must fail and report the class, got %v %v", ok, members)
	}
	if !tr.SameClass(1, 3) {
		t.Fatalf("failed split must not change the class")
	}
	ok, _ = tr.Split([]ResourceID{1, 2, 3}, allLive)
	if !ok || tr.SameClass(1, 2) || tr.SameClass(2, 3) {
		t.Fatalf("whole split should detach every member")
	}
}

func TestTrackerSplitIgnoresDeadMembers(t *testing.T) {
	tr := newTrackerWith(3)
	tr.Merge(1, 2, 3)
	live := func(id ResourceID) bool { return id != 3 }
	if ok, _ := tr.Split([]ResourceID{1, 2}, live); !ok {
		t.Fatalf("consumed members do not block a split")
	}
}

func TestTrackerJointConsumption(t *testing.T) {
	tr := newTrackerWith(5)
	tr.Merge(1, 2, 3)
	tr.Merge(4, 5)

	v := tr.CheckJointConsumption([]ResourceID{1}, allLive)
	if len(v) != 1 || !slices.Equal(v[0].Remaining, []ResourceID{2, 3}) {
		t.Fatalf("unexpected violations %+v", v)
	}
	if v := tr.CheckJointConsumption([]ResourceID{1, 2, 3}, allLive); len(v) != 0 {
		t.Fatalf("whole-class consumption is fine, got %+v", v)
	}
	if v := tr.CheckJointConsumption([]ResourceID{1, 4}, allLive); len(v) != 2 {
		t.Fatalf("expected one violation per class, got %+v", v)
	}
	live := func(id ResourceID) bool { return id != 5 }
	if v := tr.CheckJointConsumption([]ResourceID{4}, live); len(v) != 0 {
		t.Fatalf("a class with one live member is not entangled, got %+v", v)
	}
}

func TestTrackerDetachAndClone(t *testing.T) {
	tr := newTrackerWith(3)
	tr.Merge(1, 2, 3)
	cp := tr.Clone()
	tr.Detach(2)
	if tr.SameClass(1, 2) || !tr.SameClass(1, 3) {
		t.Fatalf("detach should remove only the resource")
	}
	if !cp.SameClass(1, 2) {
		t.Fatalf("clone must be independent")
	}
	classes := tr.Classes(nil)
	if len(classes) != 1 || !slices.Equal(classes[0].Members, []ResourceID{1, 3}) {
		t.Fatalf("classes = %+v", classes)
	}
}

func TestTrackerClonesMintDistinctClasses(t *testing.T) {
	tr := newTrackerWith(4)
	left, right := tr.Clone(), tr.Clone()
	a, _ := left.Merge(1, 2)
	b, _ := right.Merge(3, 4)
	if a == NoClass || b == NoClass || a == b {
		t.Fatalf("classes from sibling clones must differ, got %v and %v", a, b)
	}
}
