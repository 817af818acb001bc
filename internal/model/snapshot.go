package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolSnapshot is the trading state of a pool read at a single point in time.
type PoolSnapshot struct {
	Pool           common.Address
	Token0         common.Address
	Token1         common.Address
	Reserve0       *big.Int
	Reserve1       *big.Int
	VReserve0      *big.Int
	VReserve1      *big.Int
	FeeInPrecision *big.Int
}
