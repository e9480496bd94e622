//go:build linux

package child

import "golang.org/x/sys/unix"

// On Linux the nice value belongs to a thread. The caller must be locked
// to its OS thread for the value to govern the work it runs next.

func setNice(nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}

func getNice() (int, error) {
	// The raw syscall returns 20-nice so that it is never negative.
	prio, err := unix.Getpriority(unix.PRIO_PROCESS, unix.Gettid())
	if err != nil {
		return 0, err
	}
	return 20 - prio, nil
}
