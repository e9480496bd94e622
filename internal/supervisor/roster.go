package supervisor

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/dshills/procsup/internal/signals"
	"github.com/dshills/procsup/internal/variant"
)

// ErrInvalidRoster is returned by Roster.Validate.
var ErrInvalidRoster = errors.New("invalid roster")

// ChildSpec describes one child of a roster.
type ChildSpec struct {
	Name    string
	Variant variant.Variant

	// Hint is the requested scheduling hint. Without one a PriorityWork
	// child requests its variant's nice value.
	Hint *int
}

// SignalPlan sends one signal to one child some time after all children
// have been spawned.
type SignalPlan struct {
	Target string
	After  time.Duration
	Signal syscall.Signal
}

// String renders the plan for logs.
func (p SignalPlan) String() string {
	return fmt.Sprintf("%s to %s after %s", signals.Name(p.Signal), p.Target, p.After)
}

// Roster is the ordered list of children a run spawns.
type Roster struct {
	Name     string
	Children []ChildSpec
	Signal   *SignalPlan
}

// Validate checks the roster before anything is spawned.
//
// A SignalWaiter that is not the target of the signal plan would never
// terminate, so it is rejected here rather than hanging the reaper.
func (r Roster) Validate() error {
	if len(r.Children) == 0 {
		return fmt.Errorf("%w: no children", ErrInvalidRoster)
	}

	names := make(map[string]bool, len(r.Children))
	for i, c := range r.Children {
		if c.Name == "" {
			return fmt.Errorf("%w: child %d has no name", ErrInvalidRoster, i+1)
		}
		if names[c.Name] {
			return fmt.Errorf("%w: duplicate child %q", ErrInvalidRoster, c.Name)
		}
		names[c.Name] = true

		if err := c.Variant.Validate(); err != nil {
			return fmt.Errorf("%w: child %q: %w", ErrInvalidRoster, c.Name, err)
		}
		if c.Hint != nil {
			if err := variant.ValidateNice(*c.Hint); err != nil {
				return fmt.Errorf("%w: child %q: %w", ErrInvalidRoster, c.Name, err)
			}
		}
	}

	if p := r.Signal; p != nil {
		if !names[p.Target] {
			return fmt.Errorf("%w: signal target %q is not a child", ErrInvalidRoster, p.Target)
		}
		if p.After < 0 {
			return fmt.Errorf("%w: negative signal delay %s", ErrInvalidRoster, p.After)
		}
		if p.Signal <= 0 {
			return fmt.Errorf("%w: no signal given for %q", ErrInvalidRoster, p.Target)
		}
	}

	for _, c := range r.Children {
		if c.Variant.Kind != variant.SignalWaiter {
			continue
		}
		if r.Signal == nil || r.Signal.Target != c.Name {
			return fmt.Errorf("%w: signal waiter %q is never signalled", ErrInvalidRoster, c.Name)
		}
	}
	return nil
}

// Destruction is the termination roster: a clean exit, an error exit and a
// signal waiter terminated two seconds after spawning.
func Destruction() Roster {
	return Roster{
		Name: "destruction",
		Children: []ChildSpec{
			{Name: "A", Variant: variant.Normal(0)},
			{Name: "B", Variant: variant.Error(1)},
			{Name: "C", Variant: variant.Waiter()},
		},
		Signal: &SignalPlan{Target: "C", After: 2 * time.Second, Signal: syscall.SIGTERM},
	}
}

// SchedulingIterations is the workload size of the scheduling roster.
const SchedulingIterations = 50

// Scheduling is the priority roster: three CPU-bound children at high,
// default and low priority.
func Scheduling() Roster {
	return Roster{
		Name: "scheduling",
		Children: []ChildSpec{
			{Name: "high", Variant: variant.Work(-10, SchedulingIterations)},
			{Name: "normal", Variant: variant.Work(0, SchedulingIterations)},
			{Name: "low", Variant: variant.Work(10, SchedulingIterations)},
		},
	}
}

// CreationValue is the value the creation roster captures into its child.
const CreationValue = 10

// Creation is the creation roster: one child that receives a copy of a
// parent value and mutates it independently.
func Creation() Roster {
	return Roster{
		Name: "creation",
		Children: []ChildSpec{
			{Name: "child", Variant: variant.Normal(0).WithCapture(CreationValue)},
		},
	}
}
