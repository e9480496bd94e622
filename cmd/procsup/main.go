// Package main is the entry point for procsup, a supervisor that spawns
// child processes, signals them and reaps them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/procsup/internal/child"
	"github.com/dshills/procsup/internal/config"
	"github.com/dshills/procsup/internal/logging"
	"github.com/dshills/procsup/internal/procinfo"
	"github.com/dshills/procsup/internal/process"
	"github.com/dshills/procsup/internal/report"
	"github.com/dshills/procsup/internal/supervisor"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes.
const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

// Scenarios.
const (
	scenarioDestruction = "destruction"
	scenarioScheduling  = "scheduling"
	scenarioCreation    = "creation"
	scenarioInfo        = "info"
	scenarioCustom      = "custom"
)

// creationMutation is what the parent adds to its own copy of the value
// captured by the creation child.
const creationMutation = 40

func main() {
	// A re-executed child never reaches the CLI.
	if child.IsChild() {
		os.Exit(child.Main())
	}
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath  string
	format      string
	logLevel    string
	signalDelay time.Duration
	workDelay   time.Duration
	maxChildren int
	scenario    string
	set         map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (options, int, bool) {
	var opts options
	var showVersion bool

	fs := flag.NewFlagSet("procsup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to a TOML or YAML roster file")
	fs.StringVar(&opts.configPath, "c", "", "Path to a TOML or YAML roster file (shorthand)")
	fs.StringVar(&opts.format, "format", "text", "Report format (text, yaml)")
	fs.StringVar(&opts.format, "f", "text", "Report format (shorthand)")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.DurationVar(&opts.signalDelay, "signal-delay", 0, "Override the delay before the planned signal")
	fs.DurationVar(&opts.workDelay, "work-delay", 0, "Override the simulated work time of exiting children")
	fs.IntVar(&opts.maxChildren, "max-children", 0, "Maximum number of live children (0 for no limit)")
	fs.BoolVar(&showVersion, "version", false, "Show version information")
	fs.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "procsup - spawn, signal and reap child processes\n\n")
		fmt.Fprintf(stderr, "Usage: procsup [options] [scenario]\n\n")
		fmt.Fprintf(stderr, "Scenarios:\n")
		fmt.Fprintf(stderr, "  destruction   exit 0, exit 1 and a signalled waiter (default)\n")
		fmt.Fprintf(stderr, "  scheduling    three CPU-bound children at nice -10, 0 and 10\n")
		fmt.Fprintf(stderr, "  creation      one child with a copied parent value\n")
		fmt.Fprintf(stderr, "  info          process identity and status\n")
		fmt.Fprintf(stderr, "  custom        the roster of -config\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nEnvironment:\n")
		fmt.Fprintf(stderr, "  PROCSUP_LOG_LEVEL, PROCSUP_FORMAT, PROCSUP_SIGNAL_DELAY, PROCSUP_WORK_DELAY,\n")
		fmt.Fprintf(stderr, "  PROCSUP_MAX_CHILDREN\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, exitOK, true
		}
		return opts, exitUsage, true
	}

	if showVersion {
		fmt.Fprintf(stderr, "procsup %s\nCommit: %s\nBuilt: %s\n", version, commit, date)
		return opts, exitOK, true
	}

	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "c":
			opts.set["config"] = true
		case "f":
			opts.set["format"] = true
		default:
			opts.set[f.Name] = true
		}
	})

	switch fs.NArg() {
	case 0:
		opts.scenario = scenarioDestruction
		if opts.configPath != "" {
			opts.scenario = scenarioCustom
		}
	case 1:
		opts.scenario = fs.Arg(0)
	default:
		fmt.Fprintf(stderr, "Error: expected at most one scenario, got %d\n", fs.NArg())
		return opts, exitUsage, true
	}

	return opts, exitOK, false
}

// resolve layers the flags over the loaded settings.
func resolve(opts options) (*config.Settings, error) {
	settings, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.set["log-level"] {
		level, ok := logging.ParseLevel(opts.logLevel)
		if !ok {
			return nil, fmt.Errorf("%w: log level %q (must be debug, info, warn, or error)", config.ErrInvalidValue, opts.logLevel)
		}
		settings.LogLevel = level
	}
	if opts.set["format"] {
		if settings.Format, err = report.ParseFormat(opts.format); err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidValue, err)
		}
	}
	if opts.set["signal-delay"] {
		settings.SignalDelay = opts.signalDelay
	}
	if opts.set["work-delay"] {
		settings.WorkDelay = opts.workDelay
	}
	if opts.set["max-children"] {
		if opts.maxChildren < 0 {
			return nil, fmt.Errorf("%w: max children %d is negative", config.ErrInvalidValue, opts.maxChildren)
		}
		settings.MaxChildren = opts.maxChildren
	}
	return settings, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, code, done := parseFlags(args, stderr)
	if done {
		return code
	}

	settings, err := resolve(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, config.ErrInvalidValue) && opts.configPath == "" {
			return exitUsage
		}
		return exitFatal
	}

	log := logging.New(logging.Config{Level: settings.LogLevel, Output: stderr, Prefix: "procsup"})

	if opts.scenario == scenarioInfo {
		return runInfo(stdout, stderr, settings.Format)
	}

	roster, err := pickRoster(opts.scenario, settings)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	roster = settings.ApplyTo(roster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An interrupted run terminates and reaps its children before exiting.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	go func() {
		select {
		case sig := <-interrupts:
			log.Warn("received %s, stopping", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var notes []string
	sup := supervisor.New(roster,
		supervisor.WithLogger(log),
		supervisor.WithExitDelay(settings.WorkDelay),
		supervisor.WithGroupOptions(
			process.WithOutput(stderr, stderr),
			process.WithChildLogLevel(settings.LogLevel),
			process.WithMaxProcesses(settings.MaxChildren),
		),
		supervisor.WithEventHandler(func(e supervisor.Event) {
			if e.Type != supervisor.ChildSpawned || e.Captured == nil {
				return
			}
			// The parent's copy changes; the child's snapshot cannot.
			value := *e.Captured
			before := value
			value += creationMutation
			log.Info("parent changed its copy of %s's value from %d to %d", e.ChildName, before, value)
			notes = append(notes, fmt.Sprintf("parent copy of %s's value: %d -> %d", e.ChildName, before, value))
		}),
	)

	rep, runErr := sup.Run(ctx)
	if rep != nil {
		for _, n := range notes {
			rep.Note("%s", n)
		}
		if err := rep.Write(stdout, settings.Format); err != nil {
			fmt.Fprintf(stderr, "Error: writing report: %v\n", err)
			return exitFatal
		}
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		if errors.Is(runErr, supervisor.ErrInvalidRoster) {
			return exitUsage
		}
		return exitFatal
	}
	return exitOK
}

func pickRoster(scenario string, settings *config.Settings) (supervisor.Roster, error) {
	switch scenario {
	case scenarioDestruction:
		return supervisor.Destruction(), nil
	case scenarioScheduling:
		return supervisor.Scheduling(), nil
	case scenarioCreation:
		return supervisor.Creation(), nil
	case scenarioCustom:
		if settings.Roster == nil {
			if settings.Source == "" {
				return supervisor.Roster{}, errors.New("custom scenario requires -config")
			}
			return supervisor.Roster{}, fmt.Errorf("%s has no roster", settings.Source)
		}
		return *settings.Roster, nil
	default:
		return supervisor.Roster{}, fmt.Errorf("unknown scenario %q", scenario)
	}
}

type infoDoc struct {
	Identity procinfo.IdentityInfo `yaml:"identity"`
	Status   []procinfo.Field      `yaml:"status,omitempty"`
	Error    string                `yaml:"status_error,omitempty"`
}

// runInfo prints the identity of this process and the head of its status
// pseudo-file. A missing status file is reported, not fatal.
func runInfo(stdout, stderr io.Writer, format report.Format) int {
	doc := infoDoc{Identity: procinfo.Identity()}

	fields, err := procinfo.ReadStatus(procinfo.System(), doc.Identity.PID, procinfo.DefaultLimit)
	doc.Status = fields
	if err != nil {
		doc.Error = err.Error()
	}

	if format == report.FormatYAML {
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFatal
		}
		_ = enc.Close()
		return exitOK
	}

	id := doc.Identity
	fmt.Fprintf(stdout, "PID:  %d\nPPID: %d\nUID:  %d\nEUID: %d\nGID:  %d\n\n", id.PID, id.PPID, id.UID, id.EUID, id.GID)
	fmt.Fprintf(stdout, "Status (%s/%s):\n", procinfo.ProcRoot, procinfo.StatusPath(id.PID))
	if doc.Error != "" {
		fmt.Fprintf(stdout, "  unavailable: %s\n", doc.Error)
		return exitOK
	}
	for _, f := range doc.Status {
		fmt.Fprintf(stdout, "  %s\n", f)
	}
	return exitOK
}
