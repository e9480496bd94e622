package supervisor

import (
	"syscall"
	"time"

	"github.com/dshills/procsup/internal/process"
)

// EventType represents the type of supervisor event.
type EventType int

const (
	// ChildSpawned is emitted once a child has reported ready.
	ChildSpawned EventType = iota
	// HintRejected is emitted when a child could not apply its scheduling hint.
	HintRejected
	// SignalSent is emitted when the planned signal was delivered.
	SignalSent
	// SignalDropped is emitted when the signal target had already terminated.
	SignalDropped
	// ChildReaped is emitted for every reaped child, in completion order.
	ChildReaped
	// RunAborted is emitted when a run stops early.
	RunAborted
)

// String returns the string representation of an EventType.
func (et EventType) String() string {
	switch et {
	case ChildSpawned:
		return "ChildSpawned"
	case HintRejected:
		return "HintRejected"
	case SignalSent:
		return "SignalSent"
	case SignalDropped:
		return "SignalDropped"
	case ChildReaped:
		return "ChildReaped"
	case RunAborted:
		return "RunAborted"
	default:
		return "Unknown"
	}
}

// Event is a supervisor lifecycle event.
type Event struct {
	// Time is when the event occurred.
	Time time.Time
	// Type is the type of event.
	Type EventType
	// ChildName is the child involved, if any.
	ChildName string
	// PID is the child's process ID, if any.
	PID int
	// Outcome is set for ChildReaped.
	Outcome process.Outcome
	// Hint is set for ChildSpawned and HintRejected.
	Hint process.HintReport
	// Signal is set for SignalSent and SignalDropped.
	Signal syscall.Signal
	// Captured is the value snapshotted into the child, if any.
	Captured *int
	// Err is set for RunAborted.
	Err error
}

// EventHandler processes supervisor events. Handlers run inline on the
// supervisor's goroutine and should return quickly.
type EventHandler func(e Event)

func (s *Supervisor) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, handler := range s.handlers {
		handler(e)
	}
}
