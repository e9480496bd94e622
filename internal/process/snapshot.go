package process

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dshills/procsup/internal/logging"
	"github.com/dshills/procsup/internal/variant"
)

// EnvSnapshot is the environment variable that carries a child's inputs.
// Its presence is what makes a re-executed binary behave as a child.
const EnvSnapshot = "PROCSUP_CHILD_SPEC"

// HandshakeFD is the descriptor on which a child reports readiness.
const HandshakeFD = 3

// Snapshot is the immutable copy of everything a child needs. It is
// serialised into the child's environment at spawn time.
type Snapshot struct {
	Name     string          `json:"name"`
	Variant  variant.Variant `json:"variant"`
	Hint     *int            `json:"hint,omitempty"`
	LogLevel logging.Level   `json:"log_level"`
	Poll     time.Duration   `json:"poll,omitempty"`
}

// Encode serialises the snapshot.
func (s Snapshot) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return string(data), nil
}

// DecodeSnapshot parses a serialised snapshot and validates its variant.
func DecodeSnapshot(raw string) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := s.Variant.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Hint != nil {
		if err := variant.ValidateNice(*s.Hint); err != nil {
			return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	return s, nil
}

// HintReport is the scheduling hint a child actually runs with.
type HintReport struct {
	// Requested is the hint asked for, nil if none was.
	Requested *int `json:"requested,omitempty" yaml:"requested,omitempty"`

	// Applied is the nice value read back after applying the hint.
	Applied int `json:"applied" yaml:"applied"`

	// Fallback is set when the request was rejected and the default
	// priority was kept.
	Fallback bool `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	// Reason explains a fallback.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// String renders the report for logs and text reports.
func (h HintReport) String() string {
	switch {
	case h.Fallback && h.Requested != nil:
		return fmt.Sprintf("%d (requested %d, rejected: %s)", h.Applied, *h.Requested, h.Reason)
	case h.Requested != nil:
		return fmt.Sprintf("%d (requested %d)", h.Applied, *h.Requested)
	default:
		return fmt.Sprintf("%d (default)", h.Applied)
	}
}

// Handshake is the single line a child writes on HandshakeFD once its
// scheduling hint is settled and its signal handler (if any) is installed.
type Handshake struct {
	PID  int        `json:"pid"`
	Hint HintReport `json:"hint"`
}

// childEnv returns the parent's environment with exactly one snapshot.
func childEnv(encoded string) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if strings.HasPrefix(kv, EnvSnapshot+"=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, EnvSnapshot+"="+encoded)
}
