// Package supervisor runs a roster of children to completion: it spawns
// them in order, delivers the planned signal and reaps every child exactly
// once, recording what happened in a report.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/procsup/internal/logging"
	"github.com/dshills/procsup/internal/process"
	"github.com/dshills/procsup/internal/report"
	"github.com/dshills/procsup/internal/variant"
)

// DefaultShutdownTimeout is how long an aborted run waits between SIGTERM
// and SIGKILL.
const DefaultShutdownTimeout = 3 * time.Second

// ErrLeakedHandle is returned when the spawner reports nothing outstanding
// while the supervisor still expects children. It means a handle was reaped
// outside the run.
var ErrLeakedHandle = errors.New("supervisor: child handle leaked")

// Supervisor runs one roster.
type Supervisor struct {
	roster          Roster
	logger          *logging.Logger
	handlers        []EventHandler
	groupOpts       []process.GroupOption
	exitDelay       time.Duration
	shutdownTimeout time.Duration
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor's logger. It is shared with the spawner.
func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithEventHandler adds an event handler. It may be given more than once.
func WithEventHandler(handler EventHandler) Option {
	return func(s *Supervisor) {
		s.handlers = append(s.handlers, handler)
	}
}

// WithGroupOptions passes options through to the process group.
func WithGroupOptions(opts ...process.GroupOption) Option {
	return func(s *Supervisor) {
		s.groupOpts = append(s.groupOpts, opts...)
	}
}

// WithExitDelay overrides the simulated work time of exit variants that do
// not set their own.
func WithExitDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		s.exitDelay = d
	}
}

// WithShutdownTimeout sets the SIGTERM to SIGKILL grace of an aborted run.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// New creates a supervisor for roster.
func New(roster Roster, opts ...Option) *Supervisor {
	s := &Supervisor{
		roster:          roster,
		logger:          logging.Nop(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Roster returns the roster the supervisor runs.
func (s *Supervisor) Roster() Roster {
	return s.roster
}

// Run spawns the roster, delivers the signal plan and reaps every child.
//
// The report lists children in the order they terminated. A spawn failure
// stops the run: children already spawned are terminated and reaped, and
// the returned error wraps process.ErrSpawnFailed. The report is returned
// alongside any error with whatever was reaped.
func (s *Supervisor) Run(ctx context.Context) (*report.Report, error) {
	if err := s.roster.Validate(); err != nil {
		return nil, err
	}

	log := s.logger.WithComponent("supervisor")
	rep := report.New(s.roster.Name)
	defer rep.Finish()

	opts := []process.GroupOption{
		process.WithLogger(s.logger),
		process.WithProcessExitCallback(func(p *process.Process) {
			log.Debug("%s (pid %d) terminated after %s, awaiting reap", p.Name, p.PID(), p.Runtime().Round(time.Millisecond))
		}),
	}
	group := process.NewGroup(append(opts, s.groupOpts...)...)

	log.Info("parent pid %d spawning %d children", rep.Parent.PID, len(s.roster.Children))

	handles := make(map[string]*process.Process, len(s.roster.Children))
	for _, spec := range s.roster.Children {
		p, err := group.Spawn(ctx, spec.Name, s.prepare(spec.Variant), spec.Hint)
		if err != nil {
			return rep, s.abort(group, rep, err)
		}
		handles[spec.Name] = p

		log.Info("spawned %s (pid %d): %s", p.Name, p.PID(), p.Variant)
		s.emit(Event{
			Type:      ChildSpawned,
			ChildName: p.Name,
			PID:       p.PID(),
			Hint:      p.Applied,
			Captured:  p.Variant.Captured,
		})
		if p.Applied.Fallback {
			log.Warn("%s: scheduling hint rejected: %s", p.Name, p.Applied)
			s.emit(Event{Type: HintRejected, ChildName: p.Name, PID: p.PID(), Hint: p.Applied})
		}
	}

	if plan := s.roster.Signal; plan != nil {
		if err := s.deliver(ctx, group, handles[plan.Target], *plan); err != nil {
			return rep, s.abort(group, rep, err)
		}
	}

	expected := group.Spawned()
	for group.Reaped() < expected {
		p, outcome, err := group.WaitAny(ctx)
		if errors.Is(err, process.ErrNoOutstandingChildren) {
			err = fmt.Errorf("%w: reaped %d of %d", ErrLeakedHandle, group.Reaped(), expected)
		}
		if err != nil {
			return rep, s.abort(group, rep, err)
		}
		s.record(rep, p, outcome)
	}

	log.Info("all %d children reaped", expected)
	return rep, nil
}

// prepare applies run-wide defaults to a child's variant.
func (s *Supervisor) prepare(v variant.Variant) variant.Variant {
	if s.exitDelay > 0 && v.Delay == 0 && (v.Kind == variant.NormalExit || v.Kind == variant.ErrorExit) {
		v.Delay = s.exitDelay
	}
	return v
}

// deliver waits for the plan's delay and sends its signal.
func (s *Supervisor) deliver(ctx context.Context, group *process.Group, target *process.Process, plan SignalPlan) error {
	timer := time.NewTimer(plan.After)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	delivered, err := group.TrySignal(target, plan.Signal)
	if err != nil {
		return fmt.Errorf("signal %s: %w", plan.Target, err)
	}

	e := Event{Type: SignalSent, ChildName: target.Name, PID: target.PID(), Signal: plan.Signal}
	if !delivered {
		e.Type = SignalDropped
	}
	s.logger.WithComponent("supervisor").Info("%s: %s", e.Type, plan)
	s.emit(e)
	return nil
}

func (s *Supervisor) record(rep *report.Report, p *process.Process, outcome process.Outcome) {
	entry := rep.Add(p, outcome)
	s.logger.WithComponent("supervisor").
		WithFields(map[string]any{"pid": entry.PID, "order": entry.Order}).
		Info("reaped %s: %s", entry.Name, outcome)
	s.emit(Event{Type: ChildReaped, ChildName: p.Name, PID: entry.PID, Outcome: outcome})
}

// abort shuts the group down, reaps what is left into rep and returns cause.
func (s *Supervisor) abort(group *process.Group, rep *report.Report, cause error) error {
	s.logger.WithComponent("supervisor").Error("run aborted: %v", cause)

	for _, r := range group.Shutdown(s.shutdownTimeout) {
		s.record(rep, r.Process, r.Outcome)
	}
	s.emit(Event{Type: RunAborted, Err: cause})
	return cause
}
