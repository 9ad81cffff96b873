//go:build unix

package imagedev

import (
	"os"

	"golang.org/x/sys/unix"
)

// lock takes an exclusive advisory lock on f so two processes never program
// the same image.
func lock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
