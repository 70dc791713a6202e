package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

// Number is the set of integer types used for sizes, offsets and addresses
type Number interface {
	~int | ~uint | ~uint64 | ~int64 | ~uintptr
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckAligned verifies that value is a multiple of alignment, which must be a power of two
func CheckAligned[T Number](value T, alignment T, name string) error {
	if !IsAligned(value, alignment) {
		return cerrors.Wrapf(AlignmentError, "%s (0x%x) is not aligned to 0x%x", name, uint64(value), uint64(alignment))
	}
	return nil
}

func IsAligned[T Number](value T, alignment T) bool {
	return value&(alignment-1) == 0
}

// AlignUp rounds value up to the next multiple of alignment. The result wraps to a smaller value
// when the rounding overflows T, so callers that care must compare against the input.
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}
