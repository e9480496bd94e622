//go:build unix && !linux

package child

import "golang.org/x/sys/unix"

func setNice(nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, 0, nice)
}

func getNice() (int, error) {
	return unix.Getpriority(unix.PRIO_PROCESS, 0)
}
