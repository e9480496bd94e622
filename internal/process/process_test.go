package process

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/dshills/procsup/internal/logging"
	"github.com/dshills/procsup/internal/signals"
	"github.com/dshills/procsup/internal/variant"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateCreated, "created"},
		{StateRunning, "running"},
		{StateExited, "exited"},
		{StateKilled, "killed"},
		{StateReaped, "reaped"},
		{State(99), "unknown(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
		valid   bool
	}{
		{Exited(0), "exited(0)", true},
		{Exited(7), "exited(7)", true},
		{Signaled(syscall.SIGTERM), "signaled(SIGTERM)", true},
		{Outcome{}, "none", false},
	}

	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if tt.outcome.Valid() != tt.valid {
			t.Errorf("%v: Valid() = %v, want %v", tt.outcome, tt.outcome.Valid(), tt.valid)
		}
	}
}

func TestProcess_LifecycleWithPlainCommand(t *testing.T) {
	proc := newProcess("id", "sh", variant.Error(3), nil, exec.Command("sh", "-c", "exit 3"))

	if proc.PID() != -1 || proc.IsRunning() || proc.HasExited() {
		t.Fatalf("unexpected pre-start state: pid=%d state=%v", proc.PID(), proc.State())
	}
	if err := proc.signal(syscall.SIGTERM); !errors.Is(err, ErrProcessNotStarted) {
		t.Errorf("expected ErrProcessNotStarted, got %v", err)
	}

	if err := proc.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := proc.start(); !errors.Is(err, ErrProcessAlreadyStarted) {
		t.Errorf("expected ErrProcessAlreadyStarted, got %v", err)
	}

	<-proc.Done()

	if proc.State() != StateExited {
		t.Errorf("expected exited, got %v", proc.State())
	}
	if proc.Outcome() != Exited(3) {
		t.Errorf("expected exited(3), got %v", proc.Outcome())
	}
	if proc.ExitError() == nil {
		t.Error("expected raw exit error for non-zero status")
	}
	if proc.Runtime() <= 0 {
		t.Error("expected positive runtime")
	}

	err := proc.signal(syscall.SIGTERM)
	if !errors.Is(err, signals.ErrTargetGone) {
		t.Errorf("expected ErrTargetGone after exit, got %v", err)
	}
}

func TestProcess_KilledBySignal(t *testing.T) {
	proc := newProcess("id", "sleep", variant.Waiter(), nil, exec.Command("sleep", "10"))
	if err := proc.start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := proc.signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	if proc.State() != StateKilled {
		t.Errorf("expected killed, got %v", proc.State())
	}
	if proc.Outcome() != Signaled(syscall.SIGTERM) {
		t.Errorf("expected signaled(SIGTERM), got %v", proc.Outcome())
	}
}

func TestSnapshot_RoundTripAndValidation(t *testing.T) {
	hint := -5
	in := Snapshot{Name: "c", Variant: variant.Work(-5, 10), Hint: &hint, LogLevel: logging.LevelWarn, Poll: time.Second}

	raw, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := DecodeSnapshot(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Name != "c" || out.Variant.Kind != variant.PriorityWork || out.Hint == nil || *out.Hint != -5 || out.Poll != time.Second || out.LogLevel != logging.LevelWarn {
		t.Errorf("unexpected snapshot: %+v", out)
	}

	if _, err := DecodeSnapshot(`{"variant":{"kind":"error","code":0}}`); !errors.Is(err, variant.ErrInvalid) {
		t.Errorf("expected ErrInvalid for error exit 0, got %v", err)
	}
	if _, err := DecodeSnapshot(`{"variant":{"kind":"normal"},"hint":-30}`); !errors.Is(err, variant.ErrInvalid) {
		t.Errorf("expected ErrInvalid for out of range hint, got %v", err)
	}
	if _, err := DecodeSnapshot(`{"variant":{"kind":"respawn"}}`); !errors.Is(err, variant.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestChildEnv_SingleSnapshot(t *testing.T) {
	t.Setenv(EnvSnapshot, "stale")

	env := childEnv("fresh")

	count := 0
	for _, kv := range env {
		if strings.HasPrefix(kv, EnvSnapshot+"=") {
			count++
			if kv != EnvSnapshot+"=fresh" {
				t.Errorf("unexpected snapshot entry %q", kv)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one snapshot entry, got %d", count)
	}
	if len(env) != len(os.Environ()) {
		t.Errorf("expected the stale entry to be replaced, got %d entries for %d", len(env), len(os.Environ()))
	}
}

func TestHintReport_String(t *testing.T) {
	ten := 10
	minus := -10
	tests := []struct {
		rep  HintReport
		want string
	}{
		{HintReport{Applied: 0}, "0 (default)"},
		{HintReport{Requested: &ten, Applied: 10}, "10 (requested 10)"},
		{HintReport{Requested: &minus, Applied: 0, Fallback: true, Reason: "insufficient privilege"}, "0 (requested -10, rejected: insufficient privilege)"},
	}

	for _, tt := range tests {
		if got := tt.rep.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSpawnError_Unwrap(t *testing.T) {
	err := &SpawnError{Name: "x", Stage: "start", Err: os.ErrNotExist}

	if !errors.Is(err, ErrSpawnFailed) {
		t.Error("expected SpawnError to match ErrSpawnFailed")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("expected SpawnError to match its cause")
	}
	if !strings.Contains(err.Error(), "spawn x: start") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
