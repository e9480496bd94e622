// Package report assembles what a supervisor run observed, one entry per
// reaped child in completion order, and writes it as text or YAML.
package report

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/procsup/internal/process"
	"github.com/dshills/procsup/internal/signals"
)

// ParentInfo identifies the supervising process.
type ParentInfo struct {
	PID        int    `yaml:"pid"`
	PPID       int    `yaml:"ppid"`
	Executable string `yaml:"executable,omitempty"`
}

// Entry is one reaped child.
type Entry struct {
	// Order is the 1-based position in completion order.
	Order int

	Name    string
	PID     int
	Variant string

	// RequestedHint is nil when no scheduling hint was asked for.
	RequestedHint *int
	AppliedHint   int

	// HintNote explains a rejected hint.
	HintNote string

	Outcome process.Outcome
	Runtime time.Duration

	// Captured is the value the parent snapshotted for the child, if any.
	Captured *int
}

// Report is the result of one supervisor run.
type Report struct {
	RunID    string
	Scenario string
	Parent   ParentInfo
	Entries  []Entry
	Started  time.Time
	Finished time.Time

	// Notes are parent-side observations, such as the parent's own copy
	// of a captured value after spawning.
	Notes []string
}

// New starts an empty report for the calling process.
func New(scenario string) *Report {
	exe, _ := os.Executable()
	return &Report{
		RunID:    uuid.NewString(),
		Scenario: scenario,
		Parent: ParentInfo{
			PID:        os.Getpid(),
			PPID:       os.Getppid(),
			Executable: exe,
		},
		Started: time.Now(),
	}
}

// Add appends a reaped child. Entries must be added in completion order.
func (r *Report) Add(p *process.Process, outcome process.Outcome) Entry {
	e := Entry{
		Order:       len(r.Entries) + 1,
		Name:        p.Name,
		PID:         p.PID(),
		Variant:     p.Variant.String(),
		AppliedHint: p.Applied.Applied,
		Outcome:     outcome,
		Runtime:     p.Runtime(),
		Captured:    p.Variant.Captured,
	}
	if p.Hint != nil {
		h := *p.Hint
		e.RequestedHint = &h
	}
	if p.Applied.Fallback {
		e.HintNote = "rejected: " + p.Applied.Reason
	}
	r.Entries = append(r.Entries, e)
	return e
}

// Note records a parent-side observation.
func (r *Report) Note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Finish stamps the end of the run.
func (r *Report) Finish() {
	r.Finished = time.Now()
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}

// Len returns the number of reaped children recorded.
func (r *Report) Len() int {
	return len(r.Entries)
}

// Find returns the entry for name.
func (r *Report) Find(name string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Summary counts outcomes.
type Summary struct {
	Total    int `yaml:"total"`
	Clean    int `yaml:"clean"`
	Failed   int `yaml:"failed"`
	Signaled int `yaml:"signaled"`
}

// String renders the summary on one line.
func (s Summary) String() string {
	return fmt.Sprintf("%d children: %d exited cleanly, %d exited with an error, %d killed by a signal",
		s.Total, s.Clean, s.Failed, s.Signaled)
}

// Summary counts the outcomes of the reaped children.
func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Entries)}
	for _, e := range r.Entries {
		switch e.Outcome.Kind {
		case process.OutcomeExited:
			if e.Outcome.Code == 0 {
				s.Clean++
			} else {
				s.Failed++
			}
		case process.OutcomeSignaled:
			s.Signaled++
		}
	}
	return s
}

// hintText renders the applied hint with its annotation.
func (e Entry) hintText() string {
	switch {
	case e.HintNote != "" && e.RequestedHint != nil:
		return fmt.Sprintf("%d (requested %d, %s)", e.AppliedHint, *e.RequestedHint, e.HintNote)
	case e.RequestedHint != nil:
		return fmt.Sprintf("%d", e.AppliedHint)
	default:
		return fmt.Sprintf("%d (default)", e.AppliedHint)
	}
}

// outcomeText renders the outcome as the text report shows it.
func (e Entry) outcomeText() string {
	switch e.Outcome.Kind {
	case process.OutcomeExited:
		return fmt.Sprintf("exited with status %d", e.Outcome.Code)
	case process.OutcomeSignaled:
		return "killed by " + signals.Name(e.Outcome.Signal)
	default:
		return e.Outcome.String()
	}
}
