// Package amm reproduces the exchange pool's fixed-point pricing math off-chain.
package amm

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// Precision is the denominator of feeInPrecision (1e18).
	Precision = uint256.NewInt(1_000_000_000_000_000_000)

	// ErrMath is returned when the pool formula cannot be evaluated for the given operands.
	ErrMath = errors.New("amm math failure")
)

// QuoteSellForBuy returns the amount that has to be sold into a pool to buy
// exactly buyAmount of the other token:
//
//	impreciseAmountIn = floor(vReserveIn * buyAmount / (vReserveOut - buyAmount))
//	sellAmount        = floor(impreciseAmountIn * Precision / (Precision - feeInPrecision))
//
// Products are taken at 512-bit width; a result wider than 256 bits is an error.
func QuoteSellForBuy(vReserveIn, vReserveOut, feeInPrecision, buyAmount *uint256.Int) (*uint256.Int, error) {
	if vReserveIn == nil || vReserveOut == nil || feeInPrecision == nil || buyAmount == nil {
		return nil, fmt.Errorf("%w: nil operand", ErrMath)
	}
	if buyAmount.Cmp(vReserveOut) >= 0 {
		return nil, fmt.Errorf("%w: buy amount %s >= reserve out %s", ErrMath, buyAmount.ToBig(), vReserveOut.ToBig())
	}
	if feeInPrecision.Cmp(Precision) >= 0 {
		return nil, fmt.Errorf("%w: fee %s >= precision", ErrMath, feeInPrecision.ToBig())
	}

	remaining := new(uint256.Int).Sub(vReserveOut, buyAmount)
	impreciseAmountIn, overflow := new(uint256.Int).MulDivOverflow(vReserveIn, buyAmount, remaining)
	if overflow {
		return nil, fmt.Errorf("%w: imprecise amount in overflows 256 bits", ErrMath)
	}

	feeComplement := new(uint256.Int).Sub(Precision, feeInPrecision)
	sellAmount, overflow := new(uint256.Int).MulDivOverflow(impreciseAmountIn, Precision, feeComplement)
	if overflow {
		return nil, fmt.Errorf("%w: sell amount overflows 256 bits", ErrMath)
	}

	return sellAmount, nil
}
