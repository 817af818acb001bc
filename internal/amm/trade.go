package amm

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"rateScope/internal/model"
)

// RateDecimals is the number of fractional digits kept when rendering a rate.
const RateDecimals = 18

// MaxProbeExponent caps probe magnitudes; 10^30 already exceeds any uint112 reserve.
const MaxProbeExponent = 30

// Direction selects which token is sold into the pool.
type Direction int

const (
	Sell0Buy1 Direction = iota
	Sell1Buy0
)

func (d Direction) String() string {
	switch d {
	case Sell0Buy1:
		return "sell0_buy1"
	case Sell1Buy0:
		return "sell1_buy0"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Inputs are the pricing-curve operands of a snapshot.
type Inputs struct {
	VReserve0      *uint256.Int
	VReserve1      *uint256.Int
	FeeInPrecision *uint256.Int
}

// InputsFromSnapshot converts snapshot values into 256-bit operands.
func InputsFromSnapshot(s model.PoolSnapshot) (Inputs, error) {
	v0, err := toUint256("vreserve0", s.VReserve0)
	if err != nil {
		return Inputs{}, err
	}
	v1, err := toUint256("vreserve1", s.VReserve1)
	if err != nil {
		return Inputs{}, err
	}
	fee, err := toUint256("fee", s.FeeInPrecision)
	if err != nil {
		return Inputs{}, err
	}
	return Inputs{VReserve0: v0, VReserve1: v1, FeeInPrecision: fee}, nil
}

func toUint256(name string, value *big.Int) (*uint256.Int, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: %s is nil", ErrMath, name)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative", ErrMath, name)
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", ErrMath, name)
	}
	return out, nil
}

// Quote is one successful probe: sell Sell of the input token to receive Buy.
type Quote struct {
	Sell *uint256.Int
	Buy  *uint256.Int
}

// Rate returns Buy/Sell exactly.
func (q Quote) Rate() *big.Rat {
	return new(big.Rat).SetFrac(q.Buy.ToBig(), q.Sell.ToBig())
}

// ExchangeRate renders Buy/Sell rounded to RateDecimals digits.
func (q Quote) ExchangeRate() decimal.Decimal {
	buy := decimal.NewFromBigInt(q.Buy.ToBig(), 0)
	sell := decimal.NewFromBigInt(q.Sell.ToBig(), 0)
	return buy.DivRound(sell, RateDecimals)
}

// Better reports whether q has a strictly higher rate than other.
func (q Quote) Better(other Quote) bool {
	return q.Rate().Cmp(other.Rate()) > 0
}

// Model converts q into its persisted form.
func (q Quote) Model() *model.TradeQuote {
	return &model.TradeQuote{
		SellAmount:   q.Sell.ToBig().String(),
		BuyAmount:    q.Buy.ToBig().String(),
		ExchangeRate: q.ExchangeRate().String(),
	}
}

// Probes returns buy amounts 10^minExp .. 10^maxExp.
func Probes(minExp, maxExp uint) ([]*uint256.Int, error) {
	if minExp > maxExp {
		return nil, fmt.Errorf("probe min exponent %d > max exponent %d", minExp, maxExp)
	}
	if maxExp > MaxProbeExponent {
		return nil, fmt.Errorf("probe max exponent %d exceeds %d", maxExp, MaxProbeExponent)
	}

	ten := uint256.NewInt(10)
	value := uint256.NewInt(1)
	probes := make([]*uint256.Int, 0, maxExp-minExp+1)
	for exp := uint(0); exp <= maxExp; exp++ {
		if exp >= minExp {
			probes = append(probes, new(uint256.Int).Set(value))
		}
		value.Mul(value, ten)
	}
	return probes, nil
}

// DefaultProbes returns 10^0 .. 10^14.
func DefaultProbes() []*uint256.Int {
	probes, _ := Probes(0, 14)
	return probes
}

// BestTrade evaluates every probe as a buy amount in the given direction and
// returns the quote with the strictly highest rate. Probes that fail the
// formula or price to a zero sell amount are skipped; on ties the smaller
// probe wins.
func BestTrade(in Inputs, dir Direction, probes []*uint256.Int) (Quote, bool) {
	vIn, vOut := in.VReserve0, in.VReserve1
	if dir == Sell1Buy0 {
		vIn, vOut = in.VReserve1, in.VReserve0
	}

	var best Quote
	found := false
	for _, buy := range probes {
		if buy == nil || buy.IsZero() {
			continue
		}
		sell, err := QuoteSellForBuy(vIn, vOut, in.FeeInPrecision, buy)
		if err != nil {
			continue
		}
		// A zero sell amount has no finite rate.
		if sell.IsZero() {
			continue
		}
		candidate := Quote{Sell: sell, Buy: new(uint256.Int).Set(buy)}
		if !found || candidate.Better(best) {
			best = candidate
			found = true
		}
	}
	return best, found
}
