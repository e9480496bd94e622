package variant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/dshills/procsup/internal/logging"
	"github.com/dshills/procsup/internal/signals"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{"normal", NormalExit},
		{"NORMAL-EXIT", NormalExit},
		{"error", ErrorExit},
		{"fail", ErrorExit},
		{"waiter", SignalWaiter},
		{"signal-waiter", SignalWaiter},
		{"work", PriorityWork},
		{" priority-work ", PriorityWork},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.input)
		if err != nil {
			t.Errorf("ParseKind(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := ParseKind("respawn"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		v       Variant
		wantErr bool
	}{
		{"normal zero", Normal(0), false},
		{"normal 255", Normal(255), false},
		{"normal out of range", Normal(256), true},
		{"error one", Error(1), false},
		{"error zero", Error(0), true},
		{"waiter", Waiter(), false},
		{"work", Work(-10, 50), false},
		{"work no iterations", Work(0, 0), true},
		{"work nice too low", Work(-21, 1), true},
		{"work nice too high", Work(20, 1), true},
		{"negative delay", Variant{Kind: NormalExit, Delay: -time.Second}, true},
		{"unknown kind", Variant{Kind: Kind(42)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVariant_String(t *testing.T) {
	tests := []struct {
		v    Variant
		want string
	}{
		{Normal(0), "NormalExit(0)"},
		{Error(7), "ErrorExit(7)"},
		{Waiter(), "SignalWaiter"},
		{Variant{Kind: SignalWaiter, Reraise: true}, "SignalWaiter(reraise)"},
		{Work(10, 50), "PriorityWork(nice=10, iterations=50)"},
	}

	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestVariant_SnapshotIsACopy(t *testing.T) {
	parent := 10
	v := Normal(0).WithCapture(parent)
	parent = 50

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"kind":"normal"`) {
		t.Errorf("expected textual kind in snapshot, got %s", data)
	}

	var decoded Variant
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Captured == nil || *decoded.Captured != 10 {
		t.Errorf("expected captured value 10, got %v", decoded.Captured)
	}
	if parent != 50 {
		t.Errorf("parent copy changed: %d", parent)
	}
}

func TestBurn(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		if got, want := Burn(n), Expected(n); got != want {
			t.Errorf("Burn(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestRun_ExitVariantsReturnTheirCode(t *testing.T) {
	tests := []struct {
		v    Variant
		code int
	}{
		{Normal(0), 0},
		{Error(7), 7},
		{Work(0, 1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.v.String(), func(t *testing.T) {
			tt.v.Delay = time.Millisecond
			res := Run(context.Background(), tt.v, Env{})
			if res.Code != tt.code || res.Raise != nil {
				t.Errorf("Run() = %+v, want code %d", res, tt.code)
			}
		})
	}
}

func TestRun_CapturedValueIsLocal(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Output: &buf})

	v := Normal(0).WithCapture(10)
	v.Delay = time.Millisecond
	Run(context.Background(), v, Env{Logger: logger})

	if *v.Captured != 10 {
		t.Errorf("Run mutated the caller's captured value: %d", *v.Captured)
	}
	if !strings.Contains(buf.String(), "captured value at spawn: 10") ||
		!strings.Contains(buf.String(), "modified own copy of captured value to: 25") {
		t.Errorf("unexpected log output: %s", buf.String())
	}
}

func TestRun_WaiterExitsCleanlyOnEvent(t *testing.T) {
	stop := make(chan signals.Event, 1)
	done := make(chan Result, 1)

	go func() {
		done <- Run(context.Background(), Waiter(), Env{Stop: stop, Poll: 5 * time.Millisecond})
	}()

	select {
	case res := <-done:
		t.Fatalf("waiter returned before a signal: %+v", res)
	case <-time.After(30 * time.Millisecond):
	}

	stop <- signals.Event{Signal: syscall.SIGTERM, Received: time.Now()}

	select {
	case res := <-done:
		if res.Code != 0 || res.Raise != nil {
			t.Errorf("expected clean exit, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not return after the event")
	}
}

func TestRun_WaiterReraise(t *testing.T) {
	stop := make(chan signals.Event, 1)
	stop <- signals.Event{Signal: syscall.SIGTERM}

	v := Waiter()
	v.Reraise = true
	res := Run(context.Background(), v, Env{Stop: stop})
	if res.Raise != syscall.SIGTERM {
		t.Errorf("expected SIGTERM to be re-raised, got %+v", res)
	}
}

func TestRun_WaiterContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Run(ctx, Waiter(), Env{Poll: time.Millisecond})
	if res.Code != 1 {
		t.Errorf("expected code 1 on context cancellation, got %+v", res)
	}
}
