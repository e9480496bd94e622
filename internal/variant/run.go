package variant

import (
	"context"
	"os"
	"time"

	"github.com/dshills/procsup/internal/logging"
	"github.com/dshills/procsup/internal/signals"
)

// DefaultPoll is the idle sleep period of a SignalWaiter.
const DefaultPoll = time.Second

// capturedMutation is added to the child's copy of a captured value.
const capturedMutation = 15

// Env is what a running variant may touch inside its child process.
type Env struct {
	Logger *logging.Logger

	// Stop receives the termination event of a SignalWaiter.
	Stop <-chan signals.Event

	// Poll overrides DefaultPoll.
	Poll time.Duration
}

// Result is how a variant asks its process to terminate.
type Result struct {
	// Code is the exit code.
	Code int

	// Raise, if set, is re-raised with its default disposition instead of
	// exiting with Code.
	Raise os.Signal
}

// Run executes v and returns how the process should terminate.
func Run(ctx context.Context, v Variant, env Env) Result {
	log := env.Logger
	if log == nil {
		log = logging.Nop()
	}
	log = log.WithField("variant", v.Kind.String())

	if v.Captured != nil {
		local := *v.Captured
		log.Info("captured value at spawn: %d", local)
		local += capturedMutation
		log.Info("modified own copy of captured value to: %d", local)
	}

	switch v.Kind {
	case NormalExit, ErrorExit:
		return runExit(ctx, v, log)
	case PriorityWork:
		return runWork(v, log)
	case SignalWaiter:
		return runWaiter(ctx, v, env, log)
	default:
		log.Error("unknown variant %d", int(v.Kind))
		return Result{Code: 2}
	}
}

func runExit(ctx context.Context, v Variant, log *logging.Logger) Result {
	if v.Kind == ErrorExit {
		log.Info("simulating error condition")
	} else {
		log.Info("performing work")
	}

	timer := time.NewTimer(v.delay())
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		log.Warn("interrupted before delay elapsed: %v", ctx.Err())
	}

	log.Info("exiting with status %d", v.Code)
	return Result{Code: v.Code}
}

func runWork(v Variant, log *logging.Logger) Result {
	log.Info("starting CPU work with %d iterations", v.Iterations)

	start := time.Now()
	counter := Burn(v.Iterations)
	elapsed := time.Since(start)

	log.Info("completed CPU work: counter=%d elapsed=%s", counter, elapsed.Round(time.Millisecond))
	return Result{Code: 0}
}

func runWaiter(ctx context.Context, v Variant, env Env, log *logging.Logger) Result {
	poll := env.Poll
	if poll <= 0 {
		poll = DefaultPoll
	}

	log.Info("waiting for termination signal")

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case ev := <-env.Stop:
			log.Info("received %v", ev.Signal)
			log.Info("performing cleanup before termination")
			log.Info("cleanup complete")
			if v.Reraise {
				return Result{Raise: ev.Signal}
			}
			return Result{Code: 0}
		case <-ticker.C:
		case <-ctx.Done():
			log.Warn("context done without a termination signal: %v", ctx.Err())
			return Result{Code: 1}
		}
	}
}
