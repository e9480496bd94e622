package signals

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestName(t *testing.T) {
	tests := []struct {
		sig  syscall.Signal
		want string
	}{
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGKILL, "SIGKILL"},
		{syscall.SIGINT, "SIGINT"},
	}

	for _, tt := range tests {
		if got := Name(tt.sig); got != tt.want {
			t.Errorf("Name(%d) = %q, want %q", int(tt.sig), got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    syscall.Signal
		wantErr bool
	}{
		{"TERM", syscall.SIGTERM, false},
		{"SIGTERM", syscall.SIGTERM, false},
		{"sigkill", syscall.SIGKILL, false},
		{" usr1 ", syscall.SIGUSR1, false},
		{"15", syscall.SIGTERM, false},
		{"0", 0, true},
		{"NOPE", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownSignal) {
					t.Errorf("expected ErrUnknownSignal, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSend_InvalidTarget(t *testing.T) {
	for _, pid := range []int{0, -1} {
		err := Send(pid, syscall.SIGTERM)
		if !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("Send(%d): expected ErrInvalidTarget, got %v", pid, err)
		}
	}
}

func TestSend_ReapedTarget(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run true: %v", err)
	}

	err := Send(cmd.Process.Pid, syscall.SIGTERM)
	if !errors.Is(err, ErrTargetGone) {
		t.Fatalf("expected ErrTargetGone, got %v", err)
	}

	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DeliveryError, got %T", err)
	}
	if de.PID != cmd.Process.Pid || de.Signal != syscall.SIGTERM {
		t.Errorf("unexpected delivery error fields: %+v", de)
	}
}

func TestSend_LiveTarget(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}

	if err := Send(cmd.Process.Pid, syscall.SIGTERM); err != nil {
		t.Fatalf("send: %v", err)
	}

	err := cmd.Wait()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected exit error, got %v", err)
	}
	status := exitErr.Sys().(syscall.WaitStatus)
	if !status.Signaled() || status.Signal() != syscall.SIGTERM {
		t.Errorf("expected SIGTERM termination, got %v", status)
	}
}

func TestDeliver(t *testing.T) {
	if err := Deliver(nil, syscall.SIGTERM); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("Deliver(nil): expected ErrInvalidTarget, got %v", err)
	}

	cmd := exec.Command("sleep", "10")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	if err := Deliver(cmd.Process, syscall.SIGKILL); err != nil {
		t.Fatalf("deliver to live process: %v", err)
	}
	_ = cmd.Wait()

	err := Deliver(cmd.Process, syscall.SIGTERM)
	if !errors.Is(err, ErrTargetGone) {
		t.Errorf("deliver to waited process: expected ErrTargetGone, got %v", err)
	}
}

func TestQueue_DeliversOneEvent(t *testing.T) {
	q := Notify(syscall.SIGUSR1)
	defer q.Stop()

	if err := Send(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("send to self: %v", err)
	}

	select {
	case ev := <-q.Events():
		if ev.Signal != syscall.SIGUSR1 {
			t.Errorf("expected SIGUSR1, got %v", ev.Signal)
		}
		if ev.Received.IsZero() {
			t.Error("expected Received to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal event")
	}

	// A second signal is absorbed by the still-installed handler.
	if err := Send(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("second send: %v", err)
	}
	select {
	case ev := <-q.Events():
		t.Errorf("unexpected second event: %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueue_StopIdempotent(t *testing.T) {
	q := Notify(syscall.SIGUSR2)
	q.Stop()
	q.Stop()
}
