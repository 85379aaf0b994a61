package check

import (
	"slices"
)

// UnitState bundles everything the first pass mutates along one control-flow
// path. Branch arms and loop bodies run on clones; only the identity arena
// inside Resources is shared.
type UnitState struct {
	Resources *ResourceTable
	Env       *Env
	Ledger    *Ledger
	Tracker   *Tracker
	Events    []Event
	// Diverged is set once the path has returned.
	Diverged bool
}

func NewUnitState() *UnitState {
	return &UnitState{
		Resources: NewResourceTable(),
		Env:       NewEnv(),
		Ledger:    NewLedger(),
		Tracker:   NewTracker(),
	}
}

// Clone returns an independent copy for speculative checking.
func (s *UnitState) Clone() *UnitState {
	return &UnitState{
		Resources: s.Resources.Clone(),
		Env:       s.Env.Clone(),
		Ledger:    s.Ledger.Clone(),
		Tracker:   s.Tracker.Clone(),
		Events:    slices.Clone(s.Events),
		Diverged:  s.Diverged,
	}
}

func (s *UnitState) record(ev Event) {
	s.Events = append(s.Events, ev)
}

// trace returns the events so far with capacity clipped, so later appends
// never write into a slice somebody kept.
func (s *UnitState) trace() []Event {
	return s.Events[:len(s.Events):len(s.Events)]
}

func (s *UnitState) live(id ResourceID) bool {
	return s.Resources.IsLive(id)
}
