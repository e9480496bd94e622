// Package signals implements the signal channel between the supervisor and
// its children: delivering a termination request to a child process, and
// receiving one inside a child as a single tagged event.
package signals

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Default is the termination request sent and listened for when none is
// named.
const Default = syscall.SIGTERM

// Sentinel errors.
var (
	// ErrTargetGone is returned when the target process no longer exists.
	ErrTargetGone = errors.New("signal target no longer exists")

	// ErrInvalidTarget is returned for PIDs that would address a process
	// group or the whole session instead of a single process.
	ErrInvalidTarget = errors.New("invalid signal target")

	// ErrUnknownSignal is returned by Parse for unrecognised names.
	ErrUnknownSignal = errors.New("unknown signal")
)

// DeliveryError describes a failed signal delivery.
type DeliveryError struct {
	PID    int
	Signal syscall.Signal
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("send %s to pid %d: %v", Name(e.Signal), e.PID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Send delivers sig to the process pid.
//
// A target that has already terminated and been reaped yields a
// *DeliveryError wrapping ErrTargetGone; callers that treat that case as a
// no-op can test for it with errors.Is.
func Send(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return &DeliveryError{PID: pid, Signal: sig, Err: ErrInvalidTarget}
	}

	err := unix.Kill(pid, sig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return &DeliveryError{PID: pid, Signal: sig, Err: ErrTargetGone}
	default:
		return &DeliveryError{PID: pid, Signal: sig, Err: err}
	}
}

// Deliver sends sig to a started process. Unlike Send it goes through the
// process handle, so a process that has already been waited is reported as
// gone rather than signalled by a possibly reused PID.
func Deliver(proc *os.Process, sig syscall.Signal) error {
	if proc == nil {
		return &DeliveryError{Signal: sig, Err: ErrInvalidTarget}
	}

	err := proc.Signal(sig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, unix.ESRCH):
		return &DeliveryError{PID: proc.Pid, Signal: sig, Err: ErrTargetGone}
	default:
		return &DeliveryError{PID: proc.Pid, Signal: sig, Err: err}
	}
}

// Event is a received termination request.
type Event struct {
	Signal   os.Signal
	Received time.Time
}

// Queue is a single-purpose event queue fed by the process signal handler.
//
// The first matching signal is delivered as one Event on Events(); the
// handler stays installed afterwards so repeated signals are absorbed
// instead of killing the process mid-cleanup.
type Queue struct {
	raw    chan os.Signal
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// Notify installs a handler for sigs and returns the queue it feeds.
// With no signals given it listens for SIGTERM.
func Notify(sigs ...os.Signal) *Queue {
	if len(sigs) == 0 {
		sigs = []os.Signal{Default}
	}

	q := &Queue{
		// Buffered so a signal arriving before the forwarder runs is kept.
		raw:    make(chan os.Signal, 2),
		events: make(chan Event, 1),
		done:   make(chan struct{}),
	}
	signal.Notify(q.raw, sigs...)

	go q.forward()
	return q
}

func (q *Queue) forward() {
	select {
	case sig := <-q.raw:
		q.events <- Event{Signal: sig, Received: time.Now()}
	case <-q.done:
	}
}

// Events returns the channel that receives the first signal.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Stop uninstalls the handler. The signals revert to their previous
// disposition. Stop is idempotent.
func (q *Queue) Stop() {
	q.once.Do(func() {
		signal.Stop(q.raw)
		close(q.done)
	})
}

// Reset restores the default disposition for sig, so that a subsequent
// delivery terminates the process the way an unhandled signal would.
func Reset(sig os.Signal) {
	signal.Reset(sig)
}

// Name returns the conventional name of sig, e.g. "SIGTERM".
func Name(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("SIG%d", int(sig))
}

// Parse converts "TERM", "SIGTERM", "sigterm" or "15" into a signal.
func Parse(s string) (syscall.Signal, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || n > 64 {
			return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, s)
		}
		return syscall.Signal(n), nil
	}

	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, s)
}
