package process

import (
	"errors"
	"fmt"
)

// Sentinel errors for the group.
var (
	// ErrSpawnFailed is wrapped by every SpawnError. It is fatal for a run.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrNoOutstandingChildren is returned by WaitAny when every spawned
	// child has already been reaped.
	ErrNoOutstandingChildren = errors.New("no outstanding children")

	// ErrGroupClosed is returned when spawning after Shutdown.
	ErrGroupClosed = errors.New("process group is shut down")

	// ErrNotMember is returned when signalling a process of another group.
	ErrNotMember = errors.New("process does not belong to this group")
)

// SpawnError describes a child that could not be brought up. No handle
// exists for it and nothing is left outstanding.
type SpawnError struct {
	Name  string
	Stage string // "validate", "start" or "handshake"
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %s: %v", e.Name, e.Stage, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawnFailed, e.Err}
}
