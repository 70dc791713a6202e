package porterr

import (
	"fmt"
	"syscall"

	"github.com/cockroachdb/errors"
)

// PlatformError preserves the OS error code from a failed reserve, commit, decommit or free
type PlatformError struct {
	Op    string
	Errno int
	Err   error
}

func (e *PlatformError) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("%s failed (errno %d): %v", e.Op, e.Errno, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// NewPlatformError wraps an OS error, extracting its errno when one is present. The
// result matches ErrOperationFailed.
func NewPlatformError(op string, err error) error {
	if err == nil {
		return nil
	}

	return errors.Mark(&PlatformError{
		Op:    op,
		Errno: Errno(err),
		Err:   err,
	}, ErrOperationFailed)
}

// Errno returns the OS error code carried by err, or 0 if there isn't one
func Errno(err error) int {
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Errno
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}

	return 0
}
