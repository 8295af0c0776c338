package money

import (
	"math/big"
	"sync"
)

// All monetary amounts in the engine are int64 minor currency units
// (SP cents). Intermediate products use big.Int to prevent overflow.

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// RoundingMode selects the rounding applied by DivideInt128.
type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncate toward zero (default for payouts)
	RoundHalfEven                 // Banker's rounding
)

// DivideInt128 performs numerator / denominator with rounding,
// also returning the integer remainder before rounding.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) (int64, int64) {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()
	rem := remainder.Int64()

	if roundingMode == RoundHalfEven {
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result, rem
}
