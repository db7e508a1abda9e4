//go:build unix

package flash

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockTarget takes an exclusive advisory lock on the opened target. The lock
// is released when the file is closed.
func lockTarget(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return fmt.Errorf("%w: %s", ErrTargetBusy, f.Name())
	default:
		return fmt.Errorf("failed to lock target: %w", err)
	}
}
