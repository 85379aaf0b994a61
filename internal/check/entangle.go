package check

import (
	"fmt"
	"slices"

	"fortio.org/safecast"
)

// ClassID names an entanglement class. Identities are handed out in
// first-merge order; a resource that never took part in a merge has none.
type ClassID uint32

const NoClass ClassID = 0

// Tracker maintains entanglement classes as a union-find over integer slots.
// Resources map to slots through slotOf so a resource can be detached into a
// fresh singleton slot without disturbing the rest of its old class.
// Class identities come from a counter shared by every clone, so classes
// formed on different branch arms never share an id.
type Tracker struct {
	parent   []uint32
	rank     []uint8
	identity []ClassID
	slotOf   []uint32
	classes  *classArena
}

type classArena struct {
	next ClassID
}

func NewTracker() *Tracker {
	return &Tracker{
		parent:   []uint32{0},
		rank:     []uint8{0},
		identity: []ClassID{NoClass},
		slotOf:   []uint32{0},
		classes:  &classArena{},
	}
}

func (t *Tracker) newSlot() uint32 {
	n, err := safecast.Conv[uint32](len(t.parent))
	if err != nil {
		panic(fmt.Errorf("entanglement arena overflow: %w", err))
	}
	t.parent = append(t.parent, n)
	t.rank = append(t.rank, 0)
	t.identity = append(t.identity, NoClass)
	return n
}

// Add gives res a singleton class.
func (t *Tracker) Add(res ResourceID) {
	for int(res) >= len(t.slotOf) {
		t.slotOf = append(t.slotOf, 0)
	}
	t.slotOf[res] = t.newSlot()
}

func (t *Tracker) slot(res ResourceID) uint32 {
	if int(res) >= len(t.slotOf) || t.slotOf[res] == 0 {
		t.Add(res)
	}
	return t.slotOf[res]
}

func (t *Tracker) find(s uint32) uint32 {
	root := s
	for t.parent[root] != root {
		root = t.parent[root]
	}
	for t.parent[s] != root {
		next := t.parent[s]
		t.parent[s] = root
		s = next
	}
	return root
}

func (t *Tracker) root(res ResourceID) uint32 {
	return t.find(t.slot(res))
}

// Class returns the identity of res's class.
func (t *Tracker) Class(res ResourceID) ClassID {
	return t.identity[t.root(res)]
}

// SameClass reports whether a and b are entangled.
func (t *Tracker) SameClass(a, b ResourceID) bool {
	return t.root(a) == t.root(b)
}

// Merge unifies the classes of ids. It returns the surviving identity and
// whether two or more distinct classes were joined; re-merging an already
// unified class is a no-op.
func (t *Tracker) Merge(ids ...ResourceID) (ClassID, bool) {
	var roots []uint32
	for _, id := range ids {
		r := t.root(id)
		if !slices.Contains(roots, r) {
			roots = append(roots, r)
		}
	}
	if len(roots) == 0 {
		return NoClass, false
	}
	if len(roots) == 1 {
		return t.identity[roots[0]], false
	}
	survivor := NoClass
	for _, r := range roots {
		if id := t.identity[r]; id != NoClass && (survivor == NoClass || id < survivor) {
			survivor = id
		}
	}
	if survivor == NoClass {
		t.classes.next++
		survivor = t.classes.next
	}
	top := roots[0]
	for _, r := range roots[1:] {
		top = t.union(top, r)
	}
	t.identity[top] = survivor
	return survivor, true
}

func (t *Tracker) union(a, b uint32) uint32 {
	switch {
	case t.rank[a] < t.rank[b]:
		t.parent[a] = b
		return b
	case t.rank[a] > t.rank[b]:
		t.parent[b] = a
		return a
	}
	t.parent[b] = a
	t.rank[a]++
	return a
}

// Members lists res's class members accepted by keep, ascending.
func (t *Tracker) Members(res ResourceID, keep func(ResourceID) bool) []ResourceID {
	root := t.root(res)
	var out []ResourceID
	for id := 1; id < len(t.slotOf); id++ {
		if t.slotOf[id] == 0 {
			continue
		}
		rid := ResourceID(id) // #nosec G115 -- bounded by slotOf growth
		if t.find(t.slotOf[id]) == root && (keep == nil || keep(rid)) {
			out = append(out, rid)
		}
	}
	return out
}

// Detach moves res into a fresh singleton class.
func (t *Tracker) Detach(res ResourceID) {
	t.Add(res)
}

// Split detaches every id when ids cover the complete live membership of the
// classes they belong to. Otherwise it changes nothing and returns the
// membership the operation should have named.
func (t *Tracker) Split(ids []ResourceID, live func(ResourceID) bool) (bool, []ResourceID) {
	var members []ResourceID
	for _, id := range ids {
		for _, m := range t.Members(id, live) {
			if !slices.Contains(members, m) {
				members = append(members, m)
			}
		}
	}
	slices.Sort(members)
	for _, m := range members {
		if !slices.Contains(ids, m) {
			return false, members
		}
	}
	for _, id := range ids {
		t.Detach(id)
	}
	return true, members
}

// JointViolation describes a strict partial consumption of one class.
type JointViolation struct {
	Class     ClassID
	Consumed  []ResourceID
	Remaining []ResourceID
}

// CheckJointConsumption groups consumed by class and reports every class with
// two or more live members of which only a strict subset is consumed.
func (t *Tracker) CheckJointConsumption(consumed []ResourceID, live func(ResourceID) bool) []JointViolation {
	var out []JointViolation
	seen := map[uint32]bool{}
	for _, id := range consumed {
		root := t.root(id)
		if seen[root] {
			continue
		}
		seen[root] = true
		members := t.Members(id, live)
		if len(members) < 2 {
			continue
		}
		v := JointViolation{Class: t.identity[root]}
		for _, m := range members {
			if slices.Contains(consumed, m) {
				v.Consumed = append(v.Consumed, m)
			} else {
				v.Remaining = append(v.Remaining, m)
			}
		}
		if len(v.Remaining) > 0 {
			out = append(out, v)
		}
	}
	return out
}

// Classes returns every class with two or more members accepted by keep,
// ordered by identity.
func (t *Tracker) Classes(keep func(ResourceID) bool) []ClassMembers {
	byRoot := map[uint32]int{}
	var out []ClassMembers
	for id := 1; id < len(t.slotOf); id++ {
		rid := ResourceID(id) // #nosec G115
		if t.slotOf[id] == 0 || (keep != nil && !keep(rid)) {
			continue
		}
		root := t.find(t.slotOf[id])
		idx, ok := byRoot[root]
		if !ok {
			idx = len(out)
			byRoot[root] = idx
			out = append(out, ClassMembers{Class: t.identity[root]})
		}
		out[idx].Members = append(out[idx].Members, rid)
	}
	out = slices.DeleteFunc(out, func(c ClassMembers) bool { return len(c.Members) < 2 })
	slices.SortStableFunc(out, func(a, b ClassMembers) int { return int(a.Class) - int(b.Class) })
	return out
}

// ClassMembers is one class and its members.
type ClassMembers struct {
	Class   ClassID      `yaml:"class" json:"class" msgpack:"class"`
	Members []ResourceID `yaml:"members" json:"members" msgpack:"members"`
}

func (t *Tracker) Clone() *Tracker {
	return &Tracker{
		parent:   slices.Clone(t.parent),
		rank:     slices.Clone(t.rank),
		identity: slices.Clone(t.identity),
		slotOf:   slices.Clone(t.slotOf),
		classes:  t.classes,
	}
}
