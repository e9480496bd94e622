// Package variant defines the behaviours a child process can run and how
// each of them is expected to terminate.
package variant

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a task variant.
type Kind int

const (
	// NormalExit waits briefly then exits with its code (usually 0).
	NormalExit Kind = iota
	// ErrorExit waits briefly then exits with a non-zero code.
	ErrorExit
	// SignalWaiter blocks until it receives a termination signal.
	SignalWaiter
	// PriorityWork burns CPU for a fixed number of rounds, then exits 0.
	PriorityWork
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case NormalExit:
		return "normal"
	case ErrorExit:
		return "error"
	case SignalWaiter:
		return "waiter"
	case PriorityWork:
		return "work"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k < NormalExit || k > PriorityWork {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a kind name. Aliases match the names used in rosters.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "normal-exit", "exit":
		return NormalExit, nil
	case "error", "error-exit", "fail":
		return ErrorExit, nil
	case "waiter", "signal-waiter", "signal":
		return SignalWaiter, nil
	case "work", "priority-work", "cpu":
		return PriorityWork, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Nice value bounds accepted by the host scheduler.
const (
	MinNice = -20
	MaxNice = 19
)

// DefaultDelay is the simulated work time of the exit variants.
const DefaultDelay = time.Second

// Sentinel errors.
var (
	ErrUnknownKind = errors.New("unknown task variant")
	ErrInvalid     = errors.New("invalid task variant")
)

// Variant is one child's behaviour. It is a plain value: the spawner
// serialises it into the child, which only ever sees its own copy.
type Variant struct {
	Kind Kind `json:"kind"`

	// Code is the exit code of NormalExit and ErrorExit.
	Code int `json:"code,omitempty"`

	// Nice and Iterations parameterise PriorityWork.
	Nice       int `json:"nice,omitempty"`
	Iterations int `json:"iterations,omitempty"`

	// Reraise makes a SignalWaiter terminate by the received signal after
	// its cleanup, instead of exiting 0.
	Reraise bool `json:"reraise,omitempty"`

	// Delay overrides DefaultDelay for the exit variants.
	Delay time.Duration `json:"delay,omitempty"`

	// Captured is a value snapshotted from the parent at spawn time.
	Captured *int `json:"captured,omitempty"`
}

// Normal returns a NormalExit variant.
func Normal(code int) Variant {
	return Variant{Kind: NormalExit, Code: code}
}

// Error returns an ErrorExit variant.
func Error(code int) Variant {
	return Variant{Kind: ErrorExit, Code: code}
}

// Waiter returns a SignalWaiter variant that exits 0 after cleanup.
func Waiter() Variant {
	return Variant{Kind: SignalWaiter}
}

// Work returns a PriorityWork variant.
func Work(nice, iterations int) Variant {
	return Variant{Kind: PriorityWork, Nice: nice, Iterations: iterations}
}

// WithCapture returns a copy of v carrying value as its captured input.
func (v Variant) WithCapture(value int) Variant {
	v.Captured = &value
	return v
}

// Validate checks the variant's parameters.
func (v Variant) Validate() error {
	switch v.Kind {
	case NormalExit:
		if v.Code < 0 || v.Code > 255 {
			return fmt.Errorf("%w: normal exit code %d outside 0..255", ErrInvalid, v.Code)
		}
	case ErrorExit:
		if v.Code < 1 || v.Code > 255 {
			return fmt.Errorf("%w: error exit code %d outside 1..255", ErrInvalid, v.Code)
		}
	case SignalWaiter:
	case PriorityWork:
		if v.Iterations < 1 {
			return fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalid, v.Iterations)
		}
		if err := ValidateNice(v.Nice); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(v.Kind))
	}
	if v.Delay < 0 {
		return fmt.Errorf("%w: negative delay %v", ErrInvalid, v.Delay)
	}
	return nil
}

// ValidateNice checks that nice is within the scheduler's range.
func ValidateNice(nice int) error {
	if nice < MinNice || nice > MaxNice {
		return fmt.Errorf("%w: nice %d outside %d..%d", ErrInvalid, nice, MinNice, MaxNice)
	}
	return nil
}

// String renders the variant the way reports show it.
func (v Variant) String() string {
	switch v.Kind {
	case NormalExit:
		return fmt.Sprintf("NormalExit(%d)", v.Code)
	case ErrorExit:
		return fmt.Sprintf("ErrorExit(%d)", v.Code)
	case SignalWaiter:
		if v.Reraise {
			return "SignalWaiter(reraise)"
		}
		return "SignalWaiter"
	case PriorityWork:
		return fmt.Sprintf("PriorityWork(nice=%d, iterations=%d)", v.Nice, v.Iterations)
	default:
		return v.Kind.String()
	}
}

func (v Variant) delay() time.Duration {
	if v.Delay > 0 {
		return v.Delay
	}
	return DefaultDelay
}
