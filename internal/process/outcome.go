package process

import (
	"fmt"
	"os"
	"syscall"

	"github.com/dshills/procsup/internal/signals"
)

// OutcomeKind distinguishes the two ways a child can terminate.
type OutcomeKind int

const (
	// OutcomeNone is the zero value: the child has not terminated.
	OutcomeNone OutcomeKind = iota
	// OutcomeExited means the child exited with a status code.
	OutcomeExited
	// OutcomeSignaled means the child was terminated by a signal.
	OutcomeSignaled
)

// String returns a human-readable kind name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeExited:
		return "exited"
	case OutcomeSignaled:
		return "signaled"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Outcome is the termination outcome of a reaped child. Exactly one of
// Code (for OutcomeExited) or Signal (for OutcomeSignaled) is meaningful.
// Neither case is an error.
type Outcome struct {
	Kind   OutcomeKind
	Code   int
	Signal syscall.Signal
}

// Exited returns an exit outcome.
func Exited(code int) Outcome {
	return Outcome{Kind: OutcomeExited, Code: code}
}

// Signaled returns a killed-by-signal outcome.
func Signaled(sig syscall.Signal) Outcome {
	return Outcome{Kind: OutcomeSignaled, Signal: sig}
}

// Valid reports whether the outcome describes a terminated child.
func (o Outcome) Valid() bool {
	return o.Kind == OutcomeExited || o.Kind == OutcomeSignaled
}

// String renders "exited(7)" or "signaled(SIGTERM)".
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeExited:
		return fmt.Sprintf("exited(%d)", o.Code)
	case OutcomeSignaled:
		return fmt.Sprintf("signaled(%s)", signals.Name(o.Signal))
	default:
		return o.Kind.String()
	}
}

// outcomeFromState decodes the wait status of a finished process.
func outcomeFromState(ps *os.ProcessState) (Outcome, bool) {
	if ps == nil {
		return Outcome{}, false
	}
	status, ok := ps.Sys().(syscall.WaitStatus)
	if !ok {
		return Exited(ps.ExitCode()), true
	}
	if status.Signaled() {
		return Signaled(status.Signal()), true
	}
	return Exited(status.ExitStatus()), true
}
