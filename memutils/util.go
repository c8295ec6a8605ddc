package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// CheckPow2 returns PowerOfTwoError, annotated with the provided name, if number is not a power of two.
// Zero is rejected as well.
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T constraints.Unsigned](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// IsAligned returns true if value is a multiple of alignment, which must be a power of two
func IsAligned[T constraints.Unsigned](value T, alignment T) bool {
	return value&(alignment-1) == 0
}
