// Package check is the ownership, borrowing and entanglement checker.
//
// CheckUnit runs two passes over one unit. The first walks the body with a
// UnitState (resource table, environment, borrow ledger, entanglement
// tracker), forking the state per branch arm and loop body and reconciling
// at the join. The second classifies every node as unitary or observational
// and plans the uncomputation of every released ancilla from the ownership
// trace the first pass recorded.
//
// Units share nothing but the read-only Signatures, so callers may check
// them in parallel.
package check

import (
	"fmt"

	"qcheck/internal/diag"
	"qcheck/internal/ir"
	"qcheck/internal/source"
)

// Options configures one unit check.
type Options struct {
	// Reporter receives diagnostics; nil drops them.
	Reporter diag.Reporter
	// Signatures must be built from the same program.
	Signatures *Signatures
	// Events keeps the ownership trace in the annotations.
	Events bool
}

// Result is the outcome of checking one unit.
type Result struct {
	Unit        string       `yaml:"unit" json:"unit" msgpack:"unit"`
	Accepted    bool         `yaml:"accepted" json:"accepted" msgpack:"accepted"`
	Errors      int          `yaml:"errors" json:"errors" msgpack:"errors"`
	Annotations *Annotations `yaml:"annotations,omitempty" json:"annotations,omitempty" msgpack:"annotations,omitempty"`
}

// Annotations is what code generation receives for an accepted unit.
type Annotations struct {
	Merges         []NodeClass      `yaml:"merges,omitempty" json:"merges,omitempty" msgpack:"merges,omitempty"`
	Splits         []SplitRecord    `yaml:"splits,omitempty" json:"splits,omitempty" msgpack:"splits,omitempty"`
	Classes        []ClassMembers   `yaml:"classes,omitempty" json:"classes,omitempty" msgpack:"classes,omitempty"`
	Uncomputations []Uncomputation  `yaml:"uncomputations,omitempty" json:"uncomputations,omitempty" msgpack:"uncomputations,omitempty"`
	Resources      []ResourceRecord `yaml:"resources" json:"resources" msgpack:"resources"`
	Reversibility  []NodeTag        `yaml:"reversibility" json:"reversibility" msgpack:"reversibility"`
	Events         []Event          `yaml:"events,omitempty" json:"events,omitempty" msgpack:"events,omitempty"`
}

// NodeClass records a merge performed by an entangling node.
type NodeClass struct {
	Node    ir.NodeID    `yaml:"node" json:"node" msgpack:"node"`
	Class   ClassID      `yaml:"class" json:"class" msgpack:"class"`
	Members []ResourceID `yaml:"members" json:"members" msgpack:"members"`
}

// SplitRecord records a class losing members at a measurement or an
// explicit disentangling operation.
type SplitRecord struct {
	Node      ir.NodeID    `yaml:"node" json:"node" msgpack:"node"`
	Class     ClassID      `yaml:"class" json:"class" msgpack:"class"`
	Removed   []ResourceID `yaml:"removed" json:"removed" msgpack:"removed"`
	Remaining []ResourceID `yaml:"remaining,omitempty" json:"remaining,omitempty" msgpack:"remaining,omitempty"`
}

// ResourceRecord is the final state of one resource.
type ResourceRecord struct {
	ID      ResourceID     `yaml:"id" json:"id" msgpack:"id"`
	Name    string         `yaml:"name" json:"name" msgpack:"name"`
	Origin  Origin         `yaml:"origin" json:"origin" msgpack:"origin"`
	Ancilla bool           `yaml:"ancilla,omitempty" json:"ancilla,omitempty" msgpack:"ancilla,omitempty"`
	Status  ResourceStatus `yaml:"status" json:"status" msgpack:"status"`
	Node    ir.NodeID      `yaml:"node,omitempty" json:"node,omitempty" msgpack:"node,omitempty"`
}

// CheckUnit checks u against sigs.
func CheckUnit(u *ir.Unit, opts Options) *Result {
	counter := &diag.CountingReporter{Next: opts.Reporter}
	c := &checker{
		unit:         u,
		sigs:         opts.Signatures,
		out:          counter,
		reporter:     counter,
		ann:          &Annotations{},
		discardClean: map[ir.NodeID]bool{},
	}
	if c.sigs == nil {
		c.sigs = &Signatures{ops: map[string]ir.OpDecl{}, units: map[string]*UnitSignature{}}
	}

	st := NewUnitState()
	c.table = st.Resources
	st.Env.Push(FrameUnit, u.Name)
	st.record(Event{Kind: EvScopeEnter, Binding: u.Name})
	c.bindParams(st)
	c.walkBlock(st, u.Body)
	if !st.Diverged {
		if len(u.Results) > 0 {
			c.errorf(diag.SignatureMismatch, u.Span,
				"unit %q ends without returning its %d declared results", u.Name, len(u.Results)).Emit()
		}
		c.exitScopes(st, 1, 0, u.Span)
		c.recordExit(st)
	}

	c.ann.Reversibility = c.classify()
	c.ann.Uncomputations = c.plan()
	c.finish(st)
	if opts.Events {
		c.ann.Events = st.Events
	}
	return &Result{
		Unit:        u.Name,
		Accepted:    counter.Errors == 0,
		Errors:      counter.Errors,
		Annotations: c.ann,
	}
}

// checker is the per-unit context threaded through both passes.
type checker struct {
	unit *ir.Unit
	sigs *Signatures
	// out is the real sink; reporter is swapped for a silent one during
	// loop re-verification.
	out      diag.Reporter
	reporter diag.Reporter
	quiet    int

	ann          *Annotations
	releases     []releaseRequest
	discardClean map[ir.NodeID]bool
	// returning holds the resources of the return being walked.
	returning []ResourceID

	exitStatus  []ResourceStatus
	exitTracker *Tracker
	// table resolves names for any minted id; the arena is shared by all paths.
	table *ResourceTable
}

func (c *checker) errorf(code diag.Code, span source.Span, format string, args ...any) *diag.ReportBuilder {
	return diag.ReportError(c.reporter, code, span, fmt.Sprintf(format, args...)).WithUnit(c.unit.Name)
}

func (c *checker) recording() bool {
	return c.quiet == 0
}

// recordExit remembers the state at a unit exit. The last exit in walk order
// provides the final resource records.
func (c *checker) recordExit(st *UnitState) {
	if !c.recording() {
		return
	}
	c.exitStatus = st.Resources.Snapshot()
	c.exitTracker = st.Tracker.Clone()
}

func (c *checker) finish(st *UnitState) {
	status := c.exitStatus
	tracker := c.exitTracker
	if status == nil {
		status = st.Resources.Snapshot()
		tracker = st.Tracker
	}
	for id := 1; id <= st.Resources.Minted(); id++ {
		rid := ResourceID(id) // #nosec G115 -- bounded by Minted
		info := st.Resources.Info(rid)
		if info.Speculative {
			continue
		}
		s := StatusUnborn
		if id < len(status) {
			s = status[id]
		}
		c.ann.Resources = append(c.ann.Resources, ResourceRecord{
			ID:      rid,
			Name:    info.Name,
			Origin:  info.Origin,
			Ancilla: info.Ancilla,
			Status:  s,
			Node:    info.Node,
		})
	}
	c.ann.Classes = tracker.Classes(func(id ResourceID) bool {
		return int(id) < len(status) && status[id] != StatusUnborn
	})
}
