package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// NextPow2 returns the smallest power of two that is greater than or equal to value. Values below 1 return 1.
func NextPow2[T constraints.Unsigned](value T) T {
	if value <= 1 {
		return 1
	}

	return T(1) << bits.Len64(uint64(value-1))
}

// Log2 returns the base-2 logarithm of a power of two
func Log2[T constraints.Unsigned](value T) int {
	return bits.TrailingZeros64(uint64(value))
}
