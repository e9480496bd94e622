package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/procsup/internal/process"
	"github.com/dshills/procsup/internal/signals"
)

// Format selects a report writer.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText, "":
		return FormatText, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// Write writes r to w in format f.
func (r *Report) Write(w io.Writer, f Format) error {
	switch f {
	case FormatYAML:
		return r.WriteYAML(w)
	default:
		return r.WriteText(w)
	}
}

// WriteText writes the line-oriented report.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "run %s", r.RunID)
	if r.Scenario != "" {
		fmt.Fprintf(&b, " (%s)", r.Scenario)
	}
	fmt.Fprintf(&b, ", parent pid %d\n", r.Parent.PID)

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tPID\tVARIANT\tNICE\tOUTCOME\tRUNTIME")
	for _, e := range r.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			e.Order, e.Name, e.PID, e.Variant, e.hintText(), e.outcomeText(), e.Runtime.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, note := range r.Notes {
		fmt.Fprintf(&b, "note: %s\n", note)
	}
	fmt.Fprintf(&b, "%s in %s\n", r.Summary(), r.Duration().Round(time.Millisecond))

	_, err := io.WriteString(w, b.String())
	return err
}

type yamlOutcome struct {
	Kind   string `yaml:"kind"`
	Code   *int   `yaml:"code,omitempty"`
	Signal string `yaml:"signal,omitempty"`
}

type yamlHint struct {
	Requested *int   `yaml:"requested,omitempty"`
	Applied   int    `yaml:"applied"`
	Note      string `yaml:"note,omitempty"`
}

type yamlEntry struct {
	Order    int         `yaml:"order"`
	Name     string      `yaml:"name"`
	PID      int         `yaml:"pid"`
	Variant  string      `yaml:"variant"`
	Hint     yamlHint    `yaml:"hint"`
	Outcome  yamlOutcome `yaml:"outcome"`
	Runtime  string      `yaml:"runtime"`
	Captured *int        `yaml:"captured,omitempty"`
}

type yamlReport struct {
	RunID    string      `yaml:"run_id"`
	Scenario string      `yaml:"scenario,omitempty"`
	Parent   ParentInfo  `yaml:"parent"`
	Started  time.Time   `yaml:"started"`
	Finished time.Time   `yaml:"finished"`
	Children []yamlEntry `yaml:"children"`
	Notes    []string    `yaml:"notes,omitempty"`
	Summary  Summary     `yaml:"summary"`
}

// MarshalYAML implements yaml.Marshaler.
func (e Entry) MarshalYAML() (any, error) {
	return e.document(), nil
}

func (e Entry) document() yamlEntry {
	out := yamlEntry{
		Order:   e.Order,
		Name:    e.Name,
		PID:     e.PID,
		Variant: e.Variant,
		Hint: yamlHint{
			Requested: e.RequestedHint,
			Applied:   e.AppliedHint,
			Note:      e.HintNote,
		},
		Outcome:  yamlOutcome{Kind: e.Outcome.Kind.String()},
		Runtime:  e.Runtime.Round(time.Millisecond).String(),
		Captured: e.Captured,
	}
	switch e.Outcome.Kind {
	case process.OutcomeExited:
		code := e.Outcome.Code
		out.Outcome.Code = &code
	case process.OutcomeSignaled:
		out.Outcome.Signal = signals.Name(e.Outcome.Signal)
	}
	return out
}

// WriteYAML writes the report as a YAML document.
func (r *Report) WriteYAML(w io.Writer) error {
	doc := yamlReport{
		RunID:    r.RunID,
		Scenario: r.Scenario,
		Parent:   r.Parent,
		Started:  r.Started,
		Finished: r.Finished,
		Notes:    r.Notes,
		Summary:  r.Summary(),
	}
	for _, e := range r.Entries {
		doc.Children = append(doc.Children, e.document())
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}
