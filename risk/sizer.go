package risk

import (
	"errors"

	"github.com/rustyeddy/autotrader/config"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidStopDistance = errors.New("invalid stop distance")
	ErrInvalidPipValue     = errors.New("invalid pip value")
)

// Sizer converts a risk budget into lots.
type Sizer struct {
	increment decimal.Decimal
	minLots   float64
	maxLots   decimal.Decimal
}

func NewSizer(cfg config.SizingConfig) Sizer {
	return Sizer{
		increment: decimal.NewFromFloat(cfg.LotIncrement),
		minLots:   cfg.MinLots,
		maxLots:   decimal.NewFromFloat(cfg.MaxLots),
	}
}

// Compute returns balance*riskFraction / (stopPips*pipValue) lots floored
// to the lot increment and capped at the maximum. A result below one
// increment is 0, not an error.
func (s Sizer) Compute(balance, riskFraction, stopPips, pipValue float64) (float64, error) {
	if stopPips <= 0 {
		return 0, ErrInvalidStopDistance
	}
	if pipValue <= 0 {
		return 0, ErrInvalidPipValue
	}
	if balance <= 0 || riskFraction <= 0 {
		return 0, nil
	}

	riskAmount := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(riskFraction))
	perLot := decimal.NewFromFloat(stopPips).Mul(decimal.NewFromFloat(pipValue))
	lots := riskAmount.Div(perLot)

	steps := lots.Div(s.increment).Floor()
	lots = steps.Mul(s.increment)
	if lots.GreaterThan(s.maxLots) {
		lots = s.maxLots.Div(s.increment).Floor().Mul(s.increment)
	}
	f, _ := lots.Float64()
	return f, nil
}

// TooSmall reports whether lots is below the broker minimum.
func (s Sizer) TooSmall(lots float64) bool {
	return lots < s.minLots
}
