package process

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/procsup/internal/logging"
	"github.com/dshills/procsup/internal/signals"
	"github.com/dshills/procsup/internal/variant"
)

// DefaultReadyTimeout bounds how long Spawn waits for a child's handshake.
const DefaultReadyTimeout = 10 * time.Second

// Group spawns children, delivers signals to them and reaps them.
//
// Every successful Spawn adds one outstanding child; every successful
// WaitAny removes exactly one, in the order the children terminated.
// Group is safe for concurrent use.
type Group struct {
	mu          sync.Mutex
	processes   map[string]*Process
	outstanding int
	pending     int
	waiting     int
	spawned     int
	reaped      int

	// exits receives terminated processes in arrival order.
	exits chan *Process

	closed atomic.Bool

	logger        *logging.Logger
	executable    string
	args          []string
	stdout        io.Writer
	stderr        io.Writer
	logLevel      logging.Level
	poll          time.Duration
	readyTimeout  time.Duration
	maxProcesses  int
	onProcessExit func(p *Process)
}

// GroupOption configures a Group instance.
type GroupOption func(*Group)

// WithMaxProcesses sets the maximum number of outstanding children,
// counting spawns still waiting for their handshake.
// A value of 0 (default) means unlimited. Exceeding it fails the spawn.
func WithMaxProcesses(max int) GroupOption {
	return func(g *Group) {
		g.maxProcesses = max
	}
}

// WithProcessExitCallback sets a callback run when a child terminates,
// before it is reaped.
func WithProcessExitCallback(fn func(p *Process)) GroupOption {
	return func(g *Group) {
		g.onProcessExit = fn
	}
}

// WithLogger sets the group's logger.
func WithLogger(l *logging.Logger) GroupOption {
	return func(g *Group) {
		g.logger = l
	}
}

// WithExecutable overrides the binary re-executed for children.
// It defaults to os.Executable().
func WithExecutable(path string, args ...string) GroupOption {
	return func(g *Group) {
		g.executable = path
		g.args = args
	}
}

// WithOutput sets where children write stdout and stderr.
func WithOutput(stdout, stderr io.Writer) GroupOption {
	return func(g *Group) {
		g.stdout = stdout
		g.stderr = stderr
	}
}

// WithChildLogLevel sets the log level passed to children.
func WithChildLogLevel(level logging.Level) GroupOption {
	return func(g *Group) {
		g.logLevel = level
	}
}

// WithWaiterPoll sets the idle sleep period of SignalWaiter children.
func WithWaiterPoll(d time.Duration) GroupOption {
	return func(g *Group) {
		g.poll = d
	}
}

// WithReadyTimeout bounds the wait for a child's handshake.
func WithReadyTimeout(d time.Duration) GroupOption {
	return func(g *Group) {
		if d > 0 {
			g.readyTimeout = d
		}
	}
}

// NewGroup creates an empty process group.
func NewGroup(opts ...GroupOption) *Group {
	g := &Group{
		processes:    make(map[string]*Process),
		exits:        make(chan *Process, 64),
		logger:       logging.Nop(),
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		logLevel:     logging.LevelInfo,
		readyTimeout: DefaultReadyTimeout,
	}

	for _, opt := range opts {
		opt(g)
	}

	g.logger = g.logger.WithComponent("process")
	return g
}

// Spawn starts a child running v with the optional scheduling hint. A
// PriorityWork variant without a hint requests its own nice value.
//
// The child is the current binary re-executed with a snapshot of its
// inputs. Spawn returns once the child has settled its scheduling hint and
// installed its signal handler, so a returned handle can be signalled
// immediately. On failure no handle is produced and nothing is left
// outstanding; the error wraps ErrSpawnFailed.
func (g *Group) Spawn(ctx context.Context, name string, v variant.Variant, hint *int) (*Process, error) {
	fail := func(stage string, err error) (*Process, error) {
		return nil, &SpawnError{Name: name, Stage: stage, Err: err}
	}

	if err := v.Validate(); err != nil {
		return fail("validate", err)
	}
	if hint != nil {
		if err := variant.ValidateNice(*hint); err != nil {
			return fail("validate", err)
		}
		h := *hint
		hint = &h
	} else if v.Kind == variant.PriorityWork {
		h := v.Nice
		hint = &h
	}

	snapshot := Snapshot{
		Name:     name,
		Variant:  v,
		Hint:     hint,
		LogLevel: g.logLevel,
		Poll:     g.poll,
	}
	encoded, err := snapshot.Encode()
	if err != nil {
		return fail("validate", err)
	}

	exe := g.executable
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			return fail("start", fmt.Errorf("locate executable: %w", err))
		}
	}

	g.mu.Lock()
	if g.closed.Load() {
		g.mu.Unlock()
		return fail("start", ErrGroupClosed)
	}
	if g.maxProcesses > 0 && g.outstanding+g.pending >= g.maxProcesses {
		g.mu.Unlock()
		return fail("start", fmt.Errorf("process limit reached: %d", g.maxProcesses))
	}
	// The slot is held until the child is outstanding or the spawn failed.
	g.pending++
	g.mu.Unlock()

	reserved := true
	defer func() {
		if reserved {
			g.mu.Lock()
			g.pending--
			g.mu.Unlock()
		}
	}()

	ready, readyW, err := os.Pipe()
	if err != nil {
		return fail("start", fmt.Errorf("create handshake pipe: %w", err))
	}

	cmd := exec.Command(exe, g.args...)
	cmd.Env = childEnv(encoded)
	cmd.Stdin = nil
	cmd.Stdout = g.stdout
	cmd.Stderr = g.stderr
	cmd.ExtraFiles = []*os.File{readyW}
	setSysProcAttr(cmd)

	proc := newProcess(uuid.New().String(), name, v, hint, cmd)

	err = startProcess(proc)
	// The child holds its own copy of the write end now.
	_ = readyW.Close()
	if err != nil {
		_ = ready.Close()
		return fail("start", err)
	}

	hs, err := g.awaitHandshake(ctx, proc, ready)
	if err != nil {
		_ = signals.Deliver(proc.Cmd.Process, syscall.SIGKILL)
		<-proc.Done()
		proc.markReaped()
		g.logger.Warn("child %s (pid %d) failed before ready: %v", name, proc.PID(), err)
		return fail("handshake", err)
	}
	proc.Applied = hs.Hint

	g.mu.Lock()
	g.processes[proc.ID] = proc
	g.pending--
	g.outstanding++
	g.spawned++
	g.mu.Unlock()
	reserved = false

	go g.monitorProcess(proc)

	g.logger.WithFields(map[string]any{"pid": proc.PID(), "name": name}).
		Debug("spawned %s, nice %s", v, hs.Hint)
	return proc, nil
}

// awaitHandshake reads the child's readiness line.
func (g *Group) awaitHandshake(ctx context.Context, proc *Process, r *os.File) (Handshake, error) {
	type result struct {
		hs  Handshake
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer r.Close()
		line, err := bufio.NewReader(r).ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("child exited before handshake")
			}
			ch <- result{err: err}
			return
		}
		var hs Handshake
		if err := json.Unmarshal(line, &hs); err != nil {
			ch <- result{err: fmt.Errorf("malformed handshake: %w", err)}
			return
		}
		ch <- result{hs: hs}
	}()

	timer := time.NewTimer(g.readyTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.hs, res.err
	case <-timer.C:
		return Handshake{}, fmt.Errorf("no handshake within %s", g.readyTimeout)
	case <-ctx.Done():
		return Handshake{}, ctx.Err()
	}
}

// monitorProcess forwards a terminated process to the reaper queue.
func (g *Group) monitorProcess(proc *Process) {
	<-proc.Done()

	if err := proc.ExitError(); err != nil && !proc.Outcome().Valid() {
		g.logger.Warn("wait for %s (pid %d): %v", proc.Name, proc.PID(), err)
	}

	if g.onProcessExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("exit callback panicked: %v", r)
				}
			}()
			g.onProcessExit(proc)
		}()
	}

	g.exits <- proc
}

// WaitAny blocks until some outstanding child has terminated and returns it
// with its outcome. Children are returned in the order they terminated and
// each exactly once. It returns ErrNoOutstandingChildren when every child
// has been reaped (or is already being waited for by another caller).
func (g *Group) WaitAny(ctx context.Context) (*Process, Outcome, error) {
	g.mu.Lock()
	if g.outstanding-g.waiting <= 0 {
		g.mu.Unlock()
		return nil, Outcome{}, ErrNoOutstandingChildren
	}
	g.waiting++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.waiting--
		g.mu.Unlock()
	}()

	select {
	case proc := <-g.exits:
		g.mu.Lock()
		delete(g.processes, proc.ID)
		g.outstanding--
		g.reaped++
		g.mu.Unlock()

		proc.markReaped()
		return proc, proc.Outcome(), nil
	case <-ctx.Done():
		return nil, Outcome{}, ctx.Err()
	}
}

// Signal sends sig to proc.
//
// Signalling a child that has already terminated, or been reaped, is a
// logged no-op and returns nil. Other delivery failures are returned.
func (g *Group) Signal(proc *Process, sig syscall.Signal) error {
	_, err := g.TrySignal(proc, sig)
	return err
}

// TrySignal is Signal that also reports whether the signal was delivered.
// A terminated target yields false and a nil error.
func (g *Group) TrySignal(proc *Process, sig syscall.Signal) (bool, error) {
	if proc == nil {
		return false, ErrNotMember
	}

	err := proc.signal(sig)
	switch {
	case err == nil:
		g.logger.Debug("sent %s to %s (pid %d)", signals.Name(sig), proc.Name, proc.PID())
		return true, nil
	case errors.Is(err, signals.ErrTargetGone):
		g.logger.Warn("%s not delivered, %s (pid %d) already terminated", signals.Name(sig), proc.Name, proc.PID())
		return false, nil
	default:
		return false, err
	}
}

// List returns the outstanding processes.
func (g *Group) List() []*Process {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := make([]*Process, 0, len(g.processes))
	for _, p := range g.processes {
		result = append(result, p)
	}
	return result
}

// Outstanding returns the number of spawned children not yet reaped.
func (g *Group) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outstanding
}

// Spawned returns the number of children successfully spawned.
func (g *Group) Spawned() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spawned
}

// Reaped returns the number of children returned by WaitAny.
func (g *Group) Reaped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reaped
}

// Reaped pairs a reaped process with its outcome.
type Reaped struct {
	Process *Process
	Outcome Outcome
}

// Shutdown stops accepting spawns, sends SIGTERM to every running child,
// escalates to SIGKILL after timeout and then reaps everything still
// outstanding. It returns what it reaped, in termination order.
func (g *Group) Shutdown(timeout time.Duration) []Reaped {
	g.closed.Store(true)

	procs := g.List()
	for _, p := range procs {
		if p.IsRunning() {
			_ = g.Signal(p, syscall.SIGTERM)
		}
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		for _, p := range procs {
			if !p.HasExited() {
				_ = g.Signal(p, syscall.SIGKILL)
			}
		}
		<-done
	}

	var reaped []Reaped
	for {
		proc, outcome, err := g.WaitAny(context.Background())
		if err != nil {
			break
		}
		reaped = append(reaped, Reaped{Process: proc, Outcome: outcome})
	}
	return reaped
}
