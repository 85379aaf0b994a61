package driver

import "time"

// Stage is a coarse driver phase.
type Stage string

const (
	StageLoad       Stage = "load"
	StageSignatures Stage = "signatures"
	StageCheck      Stage = "check"
	// StageCached marks a unit answered from the disk cache.
	StageCached Stage = "cached"
)

// Status is the state of one unit.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusWorking  Status = "working"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Event reports progress for a unit, or for the whole run when Unit is empty.
type Event struct {
	Unit    string
	Stage   Stage
	Status  Status
	Errors  int
	Elapsed time.Duration
}

// ProgressSink consumes progress events. OnEvent is called from worker
// goroutines.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

func emit(sink ProgressSink, evt Event) {
	if sink != nil {
		sink.OnEvent(evt)
	}
}
