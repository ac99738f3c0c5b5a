//go:build unix

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockDataDir takes an exclusive lock on 'path', so that two daemons never
// write to the same sqlite DB. The lock is held until the returned file is
// closed (or the process exits)
func lockDataDir(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open lock file: %v", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("another machine daemon is using %s", path)
		}
		return nil, fmt.Errorf("could not lock %s: %v", path, err)
	}
	return f, nil
}
