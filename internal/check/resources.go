package check

import (
	"fmt"

	"fortio.org/safecast"

	"qcheck/internal/ir"
	"qcheck/internal/source"
)

// ResourceID identifies one linear quantum resource. Ids are never reused
// within a unit, including across branch copies.
type ResourceID uint32

// NoResource marks the absence of a resource.
const NoResource ResourceID = 0

// ResourceStatus is the lifecycle state of a resource on one control-flow path.
type ResourceStatus uint8

const (
	// StatusUnborn means the resource was minted on another path.
	StatusUnborn ResourceStatus = iota
	StatusLive
	// StatusConsumed means observed or consumed by an operation.
	StatusConsumed
	// StatusDiscarded means explicitly discarded or released as an ancilla.
	StatusDiscarded
	// StatusEscaped means returned out of the unit.
	StatusEscaped
	// StatusPoisoned means a diagnostic already covers this resource; later
	// uses are accepted silently.
	StatusPoisoned
)

var statusNames = [...]string{
	StatusUnborn:    "unborn",
	StatusLive:      "live",
	StatusConsumed:  "consumed",
	StatusDiscarded: "discarded",
	StatusEscaped:   "escaped",
	StatusPoisoned:  "poisoned",
}

func (s ResourceStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

func (s ResourceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Origin records how a resource came into existence.
type Origin uint8

const (
	OriginAlloc Origin = iota
	// OriginProduced is a resource minted by an operation's fresh output.
	OriginProduced
	// OriginParam is an owned unit parameter.
	OriginParam
	// OriginBorrowedParam belongs to the caller and is only borrowed here.
	OriginBorrowedParam
)

var originNames = [...]string{
	OriginAlloc:         "alloc",
	OriginProduced:      "produced",
	OriginParam:         "param",
	OriginBorrowedParam: "borrowed_param",
}

func (o Origin) String() string {
	if int(o) < len(originNames) {
		return originNames[o]
	}
	return "unknown"
}

func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ResourceInfo is the identity record kept by the Resource Table.
type ResourceInfo struct {
	ID      ResourceID
	Name    string
	Origin  Origin
	Ancilla bool
	Node    ir.NodeID
	Span    source.Span
	// Speculative resources were minted during quiet loop re-verification.
	Speculative bool
}

// resourceArena is shared by every copy of a ResourceTable so that ids stay
// unique across branches.
type resourceArena struct {
	infos []ResourceInfo
}

// ResourceTable is the sole authority on resource identity. Status is kept
// per control-flow path; the identity arena is shared.
type ResourceTable struct {
	arena  *resourceArena
	status []ResourceStatus
}

func NewResourceTable() *ResourceTable {
	return &ResourceTable{
		arena:  &resourceArena{infos: []ResourceInfo{{}}},
		status: []ResourceStatus{StatusUnborn},
	}
}

// Allocate mints a new live resource.
func (t *ResourceTable) Allocate(info ResourceInfo) ResourceID {
	n, err := safecast.Conv[uint32](len(t.arena.infos))
	if err != nil {
		panic(fmt.Errorf("resource table overflow: %w", err))
	}
	id := ResourceID(n)
	info.ID = id
	t.arena.infos = append(t.arena.infos, info)
	t.SetStatus(id, StatusLive)
	return id
}

// Info returns the identity record of id.
func (t *ResourceTable) Info(id ResourceID) ResourceInfo {
	if int(id) >= len(t.arena.infos) {
		return ResourceInfo{}
	}
	return t.arena.infos[id]
}

func (t *ResourceTable) Status(id ResourceID) ResourceStatus {
	if int(id) >= len(t.status) {
		return StatusUnborn
	}
	return t.status[id]
}

func (t *ResourceTable) IsLive(id ResourceID) bool {
	return t.Status(id) == StatusLive
}

func (t *ResourceTable) SetStatus(id ResourceID, st ResourceStatus) {
	for int(id) >= len(t.status) {
		t.status = append(t.status, StatusUnborn)
	}
	t.status[id] = st
}

// Consume marks id consumed. It returns false when id was already consumed,
// which callers report as a double consumption.
func (t *ResourceTable) Consume(id ResourceID) bool {
	switch t.Status(id) {
	case StatusConsumed, StatusDiscarded, StatusEscaped:
		return false
	case StatusPoisoned:
		return true
	}
	t.SetStatus(id, StatusConsumed)
	return true
}

// Minted returns the number of ids handed out on any path.
func (t *ResourceTable) Minted() int {
	return len(t.arena.infos) - 1
}

// Live returns the ids live on this path in ascending order.
func (t *ResourceTable) Live() []ResourceID {
	var out []ResourceID
	for id := range t.status {
		if t.status[id] == StatusLive {
			out = append(out, ResourceID(id)) // #nosec G115 -- bounded by Allocate
		}
	}
	return out
}

// Snapshot copies the per-path statuses.
func (t *ResourceTable) Snapshot() []ResourceStatus {
	return append([]ResourceStatus(nil), t.status...)
}

// Clone copies the path state and shares the identity arena.
func (t *ResourceTable) Clone() *ResourceTable {
	return &ResourceTable{arena: t.arena, status: t.Snapshot()}
}
