package check

import (
	"fmt"
	"maps"
	"slices"

	"fortio.org/safecast"

	"qcheck/internal/ir"
	"qcheck/internal/source"
)

// BorrowID is the token carried by a borrow handle.
type BorrowID uint32

// NoBorrowID marks the absence of a borrow.
const NoBorrowID BorrowID = 0

// BorrowRecord is one active or retired borrow.
type BorrowRecord struct {
	ID       BorrowID
	Resource ResourceID
	Kind     ir.BorrowKind
	// Depth is the scope depth that created the borrow; the record is
	// retired when that scope closes.
	Depth  int
	Handle string
	Span   source.Span
}

type borrowState struct {
	shared []BorrowID
	mut    BorrowID
}

// BorrowIssueKind enumerates reasons a borrow-related action fails.
type BorrowIssueKind uint8

const (
	BorrowIssueNone BorrowIssueKind = iota
	// BorrowIssueConflictShared: a shared borrow blocks the request.
	BorrowIssueConflictShared
	// BorrowIssueConflictMut: a mutable borrow blocks the request.
	BorrowIssueConflictMut
	// BorrowIssueFrozen: shared borrows forbid moving or mutating.
	BorrowIssueFrozen
	// BorrowIssueTaken: a mutable borrow owns access and the token differs.
	BorrowIssueTaken
)

// BorrowIssue carries information about conflicts.
type BorrowIssue struct {
	Kind   BorrowIssueKind
	Borrow BorrowID
}

func (i BorrowIssue) OK() bool {
	return i.Kind == BorrowIssueNone
}

// Ledger tracks active borrows per resource for one control-flow path.
type Ledger struct {
	records      []BorrowRecord
	state        map[ResourceID]borrowState
	scopeBorrows map[int][]BorrowID
}

func NewLedger() *Ledger {
	return &Ledger{
		records:      []BorrowRecord{{}},
		state:        make(map[ResourceID]borrowState),
		scopeBorrows: make(map[int][]BorrowID),
	}
}

// Borrow registers a borrow of res owned by the scope at depth.
func (l *Ledger) Borrow(res ResourceID, kind ir.BorrowKind, depth int, handle string, span source.Span) (BorrowRecord, BorrowIssue) {
	st := l.state[res]
	switch kind {
	case ir.BorrowShared:
		if st.mut != NoBorrowID {
			return BorrowRecord{}, BorrowIssue{Kind: BorrowIssueConflictMut, Borrow: st.mut}
		}
	case ir.BorrowMut:
		if st.mut != NoBorrowID {
			return BorrowRecord{}, BorrowIssue{Kind: BorrowIssueConflictMut, Borrow: st.mut}
		}
		if len(st.shared) > 0 {
			return BorrowRecord{}, BorrowIssue{Kind: BorrowIssueConflictShared, Borrow: st.shared[0]}
		}
	}
	n, err := safecast.Conv[uint32](len(l.records))
	if err != nil {
		panic(fmt.Errorf("borrow ledger overflow: %w", err))
	}
	rec := BorrowRecord{
		ID:       BorrowID(n),
		Resource: res,
		Kind:     kind,
		Depth:    depth,
		Handle:   handle,
		Span:     span,
	}
	l.records = append(l.records, rec)
	switch kind {
	case ir.BorrowShared:
		st.shared = append(st.shared, rec.ID)
	case ir.BorrowMut:
		st.mut = rec.ID
	}
	l.state[res] = st
	l.scopeBorrows[depth] = append(l.scopeBorrows[depth], rec.ID)
	return rec, BorrowIssue{}
}

// MoveAllowed verifies that res has no active borrow at all.
func (l *Ledger) MoveAllowed(res ResourceID) BorrowIssue {
	st, ok := l.state[res]
	if !ok {
		return BorrowIssue{}
	}
	if len(st.shared) > 0 {
		return BorrowIssue{Kind: BorrowIssueFrozen, Borrow: st.shared[0]}
	}
	if st.mut != NoBorrowID {
		return BorrowIssue{Kind: BorrowIssueTaken, Borrow: st.mut}
	}
	return BorrowIssue{}
}

// MutationAllowed verifies that the holder of token may change res. The
// owner passes NoBorrowID.
func (l *Ledger) MutationAllowed(res ResourceID, token BorrowID) BorrowIssue {
	st, ok := l.state[res]
	if !ok {
		return BorrowIssue{}
	}
	if len(st.shared) > 0 {
		return BorrowIssue{Kind: BorrowIssueFrozen, Borrow: st.shared[0]}
	}
	if st.mut != NoBorrowID && st.mut != token {
		return BorrowIssue{Kind: BorrowIssueTaken, Borrow: st.mut}
	}
	return BorrowIssue{}
}

// ReadAllowed verifies that the holder of token may read res.
func (l *Ledger) ReadAllowed(res ResourceID, token BorrowID) BorrowIssue {
	st, ok := l.state[res]
	if !ok {
		return BorrowIssue{}
	}
	if st.mut != NoBorrowID && st.mut != token {
		return BorrowIssue{Kind: BorrowIssueTaken, Borrow: st.mut}
	}
	return BorrowIssue{}
}

// HasBorrows reports whether res has any active borrow.
func (l *Ledger) HasBorrows(res ResourceID) bool {
	st, ok := l.state[res]
	return ok && (len(st.shared) > 0 || st.mut != NoBorrowID)
}

// EndScope retires every borrow created at depth or deeper and returns them
// in creation order.
func (l *Ledger) EndScope(depth int) []BorrowRecord {
	var depths []int
	for d := range l.scopeBorrows {
		if d >= depth {
			depths = append(depths, d)
		}
	}
	slices.Sort(depths)
	var retired []BorrowRecord
	for _, d := range depths {
		for _, id := range l.scopeBorrows[d] {
			rec := l.records[id]
			st := l.state[rec.Resource]
			switch rec.Kind {
			case ir.BorrowShared:
				st.shared = slices.DeleteFunc(st.shared, func(b BorrowID) bool { return b == id })
			case ir.BorrowMut:
				if st.mut == id {
					st.mut = NoBorrowID
				}
			}
			if len(st.shared) == 0 && st.mut == NoBorrowID {
				delete(l.state, rec.Resource)
			} else {
				l.state[rec.Resource] = st
			}
			retired = append(retired, rec)
		}
		delete(l.scopeBorrows, d)
	}
	slices.SortFunc(retired, func(a, b BorrowRecord) int { return int(a.ID) - int(b.ID) })
	return retired
}

// Record returns the record for id.
func (l *Ledger) Record(id BorrowID) *BorrowRecord {
	if id == NoBorrowID || int(id) >= len(l.records) {
		return nil
	}
	return &l.records[id]
}

// ActiveCount returns the number of active borrows.
func (l *Ledger) ActiveCount() int {
	n := 0
	for _, st := range l.state {
		n += len(st.shared)
		if st.mut != NoBorrowID {
			n++
		}
	}
	return n
}

func (l *Ledger) Clone() *Ledger {
	out := &Ledger{
		records:      append([]BorrowRecord(nil), l.records...),
		state:        make(map[ResourceID]borrowState, len(l.state)),
		scopeBorrows: make(map[int][]BorrowID, len(l.scopeBorrows)),
	}
	for res, st := range l.state {
		out.state[res] = borrowState{shared: slices.Clone(st.shared), mut: st.mut}
	}
	for d, ids := range l.scopeBorrows {
		out.scopeBorrows[d] = slices.Clone(ids)
	}
	return out
}

// activeResources lists resources with borrows, for tests and debugging.
func (l *Ledger) activeResources() []ResourceID {
	return slices.Sorted(maps.Keys(l.state))
}
