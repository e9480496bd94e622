// Package child is the entry point of a re-executed child process.
//
// A binary that can spawn children must dispatch to Main before doing
// anything else:
//
//	func main() {
//	    if child.IsChild() {
//	        os.Exit(child.Main())
//	    }
//	    ...
//	}
//
// Test binaries do the same from TestMain.
package child

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dshills/procsup/internal/logging"
	"github.com/dshills/procsup/internal/process"
	"github.com/dshills/procsup/internal/signals"
	"github.com/dshills/procsup/internal/variant"
)

// ExitBadSnapshot is returned when the child cannot decode its inputs or
// report readiness. The parent sees it as a failed spawn.
const ExitBadSnapshot = 2

// raiseGrace is how long a child waits to die from a re-raised signal.
const raiseGrace = 2 * time.Second

// IsChild reports whether the current process was spawned as a child.
func IsChild() bool {
	_, ok := os.LookupEnv(process.EnvSnapshot)
	return ok
}

// Main runs the child and returns its exit code.
func Main() int {
	return run(os.Getenv(process.EnvSnapshot), os.NewFile(uintptr(process.HandshakeFD), "handshake"), os.Stderr)
}

func run(raw string, ready io.WriteCloser, stderr io.Writer) int {
	// Grandchildren must not inherit the role.
	_ = os.Unsetenv(process.EnvSnapshot)

	// Keep the hint and the work on the same OS thread.
	runtime.LockOSThread()

	base := logging.New(logging.Config{Level: logging.LevelInfo, Output: stderr, Prefix: "procsup"})

	snap, err := process.DecodeSnapshot(raw)
	if err != nil {
		base.WithComponent("child").Error("%v", err)
		return ExitBadSnapshot
	}
	log := logging.New(logging.Config{Level: snap.LogLevel, Output: stderr, Prefix: "procsup"}).WithFields(map[string]any{
		"component": "child",
		"name":      snap.Name,
		"pid":       os.Getpid(),
	})
	log.Info("started, parent pid %d", os.Getppid())

	hint := ApplyHint(snap.Hint)
	if hint.Fallback {
		log.Warn("scheduling hint rejected, running at nice %d: %s", hint.Applied, hint.Reason)
	} else {
		log.Debug("running at nice %d", hint.Applied)
	}

	var queue *signals.Queue
	if snap.Variant.Kind == variant.SignalWaiter {
		queue = signals.Notify(syscall.SIGTERM, syscall.SIGINT)
		defer queue.Stop()
	}

	if err := writeHandshake(ready, process.Handshake{PID: os.Getpid(), Hint: hint}); err != nil {
		log.Error("report readiness: %v", err)
		return ExitBadSnapshot
	}

	env := variant.Env{Logger: log, Poll: snap.Poll}
	if queue != nil {
		env.Stop = queue.Events()
	}

	res := variant.Run(context.Background(), snap.Variant, env)
	if sig, ok := res.Raise.(syscall.Signal); ok {
		return reraise(log, queue, sig)
	}
	return res.Code
}

// ApplyHint applies the requested nice value to the calling thread. A
// rejected request leaves the inherited priority in place and is reported
// as a fallback; the returned report always carries the value read back.
func ApplyHint(requested *int) process.HintReport {
	return applyHint(requested, setNice, getNice)
}

func applyHint(requested *int, set func(int) error, get func() (int, error)) process.HintReport {
	rep := process.HintReport{Requested: requested}

	if requested != nil {
		if err := set(*requested); err != nil {
			rep.Fallback = true
			rep.Reason = hintReason(err)
		}
	}

	nice, err := get()
	if err != nil {
		rep.Reason = fmt.Sprintf("read back priority: %v", err)
		return rep
	}
	rep.Applied = nice
	return rep
}

func hintReason(err error) string {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return "insufficient privilege"
	default:
		return err.Error()
	}
}

func writeHandshake(w io.WriteCloser, hs process.Handshake) error {
	if w == nil {
		return errors.New("no handshake descriptor")
	}
	defer w.Close()
	return json.NewEncoder(w).Encode(hs)
}

// reraise terminates the process by sig with its default disposition.
func reraise(log *logging.Logger, queue *signals.Queue, sig syscall.Signal) int {
	if queue != nil {
		queue.Stop()
	}
	signals.Reset(sig)

	log.Info("terminating by %s", signals.Name(sig))
	if err := signals.Send(os.Getpid(), sig); err != nil {
		log.Error("re-raise %s: %v", signals.Name(sig), err)
		return 1
	}

	time.Sleep(raiseGrace)
	log.Error("still alive after re-raising %s", signals.Name(sig))
	return 1
}
