package report

import (
	"bytes"
	"strings"
	"syscall"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/dshills/procsup/internal/process"
	"github.com/dshills/procsup/internal/variant"
)

func sampleReport() *Report {
	r := New("destruction")

	minus := -10
	r.Add(&process.Process{Name: "B", Variant: variant.Error(1)}, process.Exited(1))
	r.Add(&process.Process{Name: "A", Variant: variant.Normal(0)}, process.Exited(0))
	r.Add(&process.Process{
		Name:    "W",
		Variant: variant.Work(-10, 5),
		Hint:    &minus,
		Applied: process.HintReport{Requested: &minus, Applied: 0, Fallback: true, Reason: "insufficient privilege"},
	}, process.Exited(0))
	r.Add(&process.Process{Name: "C", Variant: variant.Waiter()}, process.Signaled(syscall.SIGTERM))
	r.Finish()
	return r
}

func TestReport_AddKeepsCompletionOrder(t *testing.T) {
	r := sampleReport()

	want := []string{"B", "A", "W", "C"}
	for i, e := range r.Entries {
		if e.Name != want[i] || e.Order != i+1 {
			t.Errorf("entry %d = %s/%d, want %s/%d", i, e.Name, e.Order, want[i], i+1)
		}
	}
	if r.RunID == "" {
		t.Error("expected a run id")
	}
}

func TestReport_HintIsCopied(t *testing.T) {
	hint := 5
	p := &process.Process{Name: "x", Variant: variant.Work(5, 1), Hint: &hint}

	r := New("")
	e := r.Add(p, process.Exited(0))
	hint = 7

	if e.RequestedHint == nil || *e.RequestedHint != 5 {
		t.Errorf("expected requested hint 5, got %v", e.RequestedHint)
	}
}

func TestReport_Summary(t *testing.T) {
	s := sampleReport().Summary()

	want := Summary{Total: 4, Clean: 2, Failed: 1, Signaled: 1}
	if s != want {
		t.Errorf("Summary() = %+v, want %+v", s, want)
	}
	if !strings.HasPrefix(s.String(), "4 children: 2 exited cleanly") {
		t.Errorf("unexpected summary line %q", s.String())
	}
}

func TestReport_Find(t *testing.T) {
	r := sampleReport()

	e, ok := r.Find("C")
	if !ok || e.Outcome != process.Signaled(syscall.SIGTERM) {
		t.Errorf("Find(C) = %+v, %v", e, ok)
	}
	if _, ok := r.Find("missing"); ok {
		t.Error("expected Find to miss")
	}
}

func TestReport_WriteText(t *testing.T) {
	r := sampleReport()
	r.Note("parent value is %d", 50)

	var buf bytes.Buffer
	if err := r.Write(&buf, FormatText); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"(destruction)",
		"exited with status 1",
		"killed by SIGTERM",
		"ErrorExit(1)",
		"0 (requested -10, rejected: insufficient privilege)",
		"note: parent value is 50",
		"4 children",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text report missing %q:\n%s", want, out)
		}
	}

	if strings.Index(out, "ErrorExit(1)") > strings.Index(out, "SignalWaiter") {
		t.Error("text report does not follow completion order")
	}
}

func TestReport_WriteYAML(t *testing.T) {
	r := sampleReport()

	var buf bytes.Buffer
	if err := r.Write(&buf, FormatYAML); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}

	var doc struct {
		RunID    string `yaml:"run_id"`
		Children []struct {
			Name    string `yaml:"name"`
			Outcome struct {
				Kind   string `yaml:"kind"`
				Code   *int   `yaml:"code"`
				Signal string `yaml:"signal"`
			} `yaml:"outcome"`
			Hint struct {
				Requested *int   `yaml:"requested"`
				Applied   int    `yaml:"applied"`
				Note      string `yaml:"note"`
			} `yaml:"hint"`
		} `yaml:"children"`
		Summary Summary `yaml:"summary"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("report is not YAML: %v\n%s", err, buf.String())
	}

	if doc.RunID != r.RunID {
		t.Errorf("run_id = %q, want %q", doc.RunID, r.RunID)
	}
	if len(doc.Children) != 4 {
		t.Fatalf("expected 4 children, got %d", len(doc.Children))
	}

	b := doc.Children[0]
	if b.Name != "B" || b.Outcome.Kind != "exited" || b.Outcome.Code == nil || *b.Outcome.Code != 1 {
		t.Errorf("unexpected first child: %+v", b)
	}
	c := doc.Children[3]
	if c.Outcome.Kind != "signaled" || c.Outcome.Signal != "SIGTERM" || c.Outcome.Code != nil {
		t.Errorf("unexpected last child: %+v", c)
	}
	w := doc.Children[2]
	if w.Hint.Requested == nil || *w.Hint.Requested != -10 || w.Hint.Note == "" {
		t.Errorf("unexpected hint: %+v", w.Hint)
	}
	if doc.Summary.Signaled != 1 {
		t.Errorf("unexpected summary: %+v", doc.Summary)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"YAML", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"json", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}
