package process

import (
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dshills/procsup/internal/signals"
	"github.com/dshills/procsup/internal/variant"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited with a status code.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
	// StateReaped indicates the outcome has been collected by WaitAny.
	// The handle is inert from here on.
	StateReaped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	case StateReaped:
		return "reaped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is the handle of one spawned child.
//
// A Process is created by Group.Spawn and stays owned by the Group until
// WaitAny returns it. It is safe for concurrent use.
type Process struct {
	// ID is unique within a run and never reused.
	ID string

	// Name is the roster name of the child.
	Name string

	// Variant is the behaviour the child runs.
	Variant variant.Variant

	// Hint is the requested scheduling hint, nil for none.
	Hint *int

	// Applied is what the child reported about its scheduling hint.
	// Set before Spawn returns.
	Applied HintReport

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Started is the time the process was started.
	Started time.Time

	done     chan struct{}
	state    atomic.Int32
	mu       sync.RWMutex
	outcome  Outcome
	exitErr  error
	finished time.Time
	waitOnce sync.Once
}

func newProcess(id, name string, v variant.Variant, hint *int, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:      id,
		Name:    name,
		Variant: v,
		Hint:    hint,
		Cmd:     cmd,
		done:    make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// Done returns a channel that is closed when the process has terminated.
// Termination precedes reaping: a done process stays outstanding until
// WaitAny returns it.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited returns true once the process has terminated, reaped or not.
func (p *Process) HasExited() bool {
	switch p.State() {
	case StateExited, StateKilled, StateReaped:
		return true
	default:
		return false
	}
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd == nil || p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Outcome returns the termination outcome. It is the zero Outcome until
// the process has terminated.
func (p *Process) Outcome() Outcome {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.outcome
}

// ExitError returns the raw error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Runtime returns how long the process ran, or has been running so far.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	p.mu.RLock()
	finished := p.finished
	p.mu.RUnlock()
	if finished.IsZero() {
		return time.Since(p.Started)
	}
	return finished.Sub(p.Started)
}

// signal delivers sig to the process.
// Terminated processes report signals.ErrTargetGone.
func (p *Process) signal(sig syscall.Signal) error {
	switch p.State() {
	case StateCreated:
		return ErrProcessNotStarted
	case StateExited, StateKilled, StateReaped:
		return &signals.DeliveryError{PID: p.PID(), Signal: sig, Err: signals.ErrTargetGone}
	}
	return signals.Deliver(p.Cmd.Process, sig)
}

// start starts the process and begins tracking its exit.
func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	if err := p.Cmd.Start(); err != nil {
		return err
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))

	go p.waitLoop()

	return nil
}

// waitLoop waits for the process to exit and records its outcome.
// The kernel's record is released here; the supervisor-level reap happens
// when WaitAny hands the process out.
func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		outcome, ok := outcomeFromState(p.Cmd.ProcessState)
		state := StateExited
		if ok && outcome.Kind == OutcomeSignaled {
			state = StateKilled
		}

		p.mu.Lock()
		p.exitErr = err
		p.outcome = outcome
		p.finished = time.Now()
		p.mu.Unlock()

		p.state.Store(int32(state))
		close(p.done)
	})
}

// markReaped makes the handle inert.
func (p *Process) markReaped() {
	p.state.Store(int32(StateReaped))
}

// Sentinel errors for process handles.
var (
	// ErrProcessNotStarted is returned when operations require a started process.
	ErrProcessNotStarted = fmt.Errorf("process not started")

	// ErrProcessAlreadyStarted is returned when trying to start an already running process.
	ErrProcessAlreadyStarted = fmt.Errorf("process already started")
)
