// Package procinfo reports the identity of the current process and reads
// its entry in the host's process status pseudo-filesystem.
package procinfo

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultLimit is the number of status lines read by default.
const DefaultLimit = 10

// ProcRoot is where the status pseudo-filesystem is mounted.
const ProcRoot = "/proc"

// ErrUnavailable is returned when the status pseudo-file cannot be read.
// Callers report it and carry on.
var ErrUnavailable = errors.New("process status unavailable")

// IdentityInfo holds the process and user identifiers of a process.
type IdentityInfo struct {
	PID  int `yaml:"pid"`
	PPID int `yaml:"ppid"`
	UID  int `yaml:"uid"`
	EUID int `yaml:"euid"`
	GID  int `yaml:"gid"`
}

// Identity returns the identifiers of the calling process.
func Identity() IdentityInfo {
	return IdentityInfo{
		PID:  unix.Getpid(),
		PPID: unix.Getppid(),
		UID:  unix.Getuid(),
		EUID: unix.Geteuid(),
		GID:  unix.Getgid(),
	}
}

// Field is one "Key:\tValue" line of a status file.
type Field struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// String renders the field as it appears in the status file.
func (f Field) String() string {
	if f.Value == "" {
		return f.Key + ":"
	}
	return f.Key + ":\t" + f.Value
}

// StatusPath returns the status file of pid relative to ProcRoot.
func StatusPath(pid int) string {
	return strconv.Itoa(pid) + "/status"
}

// System returns the host status filesystem.
func System() fs.FS {
	return os.DirFS(ProcRoot)
}

// ReadStatus reads at most limit lines of the status file of pid from fsys,
// which is rooted at ProcRoot. A limit of zero or less means DefaultLimit.
// Lines without a colon are kept whole as the key.
func ReadStatus(fsys fs.FS, pid, limit int) ([]Field, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	path := StatusPath(pid)
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	fields := make([]Field, 0, limit)
	scanner := bufio.NewScanner(f)
	for len(fields) < limit && scanner.Scan() {
		key, value, _ := strings.Cut(scanner.Text(), ":")
		fields = append(fields, Field{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
		})
	}
	if err := scanner.Err(); err != nil {
		return fields, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, path, err)
	}
	return fields, nil
}
