// Package porterr holds the error taxonomy shared by the heap and vmem packages, along with
// the last-error diagnostics sink that records a (kind, errno, message) triple for every failure.
package porterr

import (
	"github.com/cockroachdb/errors"
)

// Kind classifies an error returned from this module
type Kind int

const (
	KindNone Kind = iota
	KindHeapFull
	KindInsufficientSpace
	KindInsufficientAddressSpace
	KindInvalidParams
	KindUnsupportedPageSize
	KindPreconditionViolation
	KindOperationFailed
	KindUnsupported
)

var kindNames = map[Kind]string{
	KindNone:                     "None",
	KindHeapFull:                 "HeapFull",
	KindInsufficientSpace:        "InsufficientSpace",
	KindInsufficientAddressSpace: "InsufficientAddressSpace",
	KindInvalidParams:            "InvalidParams",
	KindUnsupportedPageSize:      "UnsupportedPageSize",
	KindPreconditionViolation:    "PreconditionViolation",
	KindOperationFailed:          "OperationFailed",
	KindUnsupported:              "Unsupported",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return "Unknown"
	}
	return name
}

var (
	// ErrHeapFull is returned when a heap has no free block large enough for a request
	ErrHeapFull = errors.New("heap full")
	// ErrInsufficientSpace is returned when a memory range is too small to hold a heap, or to grow one
	ErrInsufficientSpace = errors.New("insufficient space")
	// ErrInsufficientAddressSpace is returned when no acceptable address range could be reserved
	ErrInsufficientAddressSpace = errors.New("insufficient address space")
	// ErrInvalidParams is returned for malformed requests: bad alignment, zero sizes, ranges outside a reservation
	ErrInvalidParams = errors.New("invalid parameters")
	// ErrUnsupportedPageSize is returned when a strict page size request cannot be honored
	ErrUnsupportedPageSize = errors.New("unsupported page size")
	// ErrPreconditionViolation marks caller errors that would corrupt allocator state if carried out
	ErrPreconditionViolation = errors.New("precondition violation")
	// ErrDoubleFree is returned when releasing something that has already been released
	ErrDoubleFree = errors.New("double free")
	// ErrInvalidHandle is returned when a handle or region does not belong to the object it was passed to
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrOperationFailed marks failures reported by the operating system
	ErrOperationFailed = errors.New("platform operation failed")
	// ErrUnsupported is returned for operations the current platform cannot perform
	ErrUnsupported = errors.New("operation not supported on this platform")
)

// InvalidParams wraps ErrInvalidParams with a formatted message
func InvalidParams(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidParams, format, args...)
}

// UnsupportedPageSize wraps ErrUnsupportedPageSize and marks it as an invalid parameter
func UnsupportedPageSize(format string, args ...any) error {
	return errors.Mark(errors.Wrapf(ErrUnsupportedPageSize, format, args...), ErrInvalidParams)
}

// DoubleFree wraps ErrDoubleFree and marks it as a precondition violation
func DoubleFree(format string, args ...any) error {
	return errors.Mark(errors.Wrapf(ErrDoubleFree, format, args...), ErrPreconditionViolation)
}

// InvalidHandle wraps ErrInvalidHandle and marks it as a precondition violation
func InvalidHandle(format string, args ...any) error {
	return errors.Mark(errors.Wrapf(ErrInvalidHandle, format, args...), ErrPreconditionViolation)
}

// KindOf recovers the Kind of an error produced by this module. Errors from elsewhere
// are reported as KindOperationFailed.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrHeapFull):
		return KindHeapFull
	case errors.Is(err, ErrInsufficientAddressSpace):
		return KindInsufficientAddressSpace
	case errors.Is(err, ErrInsufficientSpace):
		return KindInsufficientSpace
	case errors.Is(err, ErrUnsupportedPageSize):
		return KindUnsupportedPageSize
	case errors.Is(err, ErrInvalidParams):
		return KindInvalidParams
	case errors.Is(err, ErrPreconditionViolation), errors.Is(err, ErrDoubleFree), errors.Is(err, ErrInvalidHandle):
		return KindPreconditionViolation
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	default:
		return KindOperationFailed
	}
}
