//go:build !unix

package main

import "os"

// lockDataDir only creates the lock file; advisory locks are unix-only
func lockDataDir(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
}
