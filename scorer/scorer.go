// Package scorer assigns a confidence to signals that arrive without one.
// The coordinator never calls it; intake paths do before a signal is built.
package scorer

import (
	"context"
	"fmt"
	"math"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/market/indicators"
	"github.com/rustyeddy/autotrader/market/strategies"
	"github.com/rustyeddy/autotrader/signal"
)

// MarketContext is what a scorer may look at besides the signal itself.
// Decision is set when the signal came from the scanner.
type MarketContext struct {
	Candles  []market.Candle
	Decision *strategies.Decision
}

type Scorer interface {
	Score(ctx context.Context, sig signal.Signal, mc MarketContext) (float64, error)
}

// Func adapts a plain function, mostly for tests.
type Func func(ctx context.Context, sig signal.Signal, mc MarketContext) (float64, error)

func (f Func) Score(ctx context.Context, sig signal.Signal, mc MarketContext) (float64, error) {
	return f(ctx, sig, mc)
}

// Static returns the same confidence for every signal.
type Static struct {
	Confidence float64
}

func (s Static) Score(context.Context, signal.Signal, MarketContext) (float64, error) {
	return clamp01(s.Confidence), nil
}

// Trend scores from trend strength, DI alignment with the direction and the
// signal's reward/risk. Without enough candles only the base and
// reward/risk terms apply.
type Trend struct {
	Base      float64
	ADXPeriod int
}

func NewTrend(base float64) Trend {
	return Trend{Base: base, ADXPeriod: 14}
}

func (t Trend) Score(ctx context.Context, sig signal.Signal, mc MarketContext) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d := mc.Decision
	if d == nil && len(mc.Candles) > 0 {
		d = t.readIndicators(mc.Candles)
	}

	score := t.Base
	if d != nil && d.ADX > 0 {
		score += 0.25 * clamp01((d.ADX-15)/25)
		aligned := d.PlusDI > d.MinusDI
		if sig.Direction == market.Short {
			aligned = d.MinusDI > d.PlusDI
		}
		if aligned {
			score += 0.15
		} else {
			score -= 0.15
		}
	}
	score += 0.10 * clamp01((sig.RiskReward-1)/2)
	return clamp01(score), nil
}

func (t Trend) readIndicators(candles []market.Candle) *strategies.Decision {
	period := t.ADXPeriod
	if period <= 0 {
		period = 14
	}
	adx := indicators.NewADX(period)
	for _, c := range candles {
		adx.Update(c)
	}
	if !adx.Ready() {
		return nil
	}
	return &strategies.Decision{ADX: adx.Value(), PlusDI: adx.PlusDI(), MinusDI: adx.MinusDI()}
}

func New(cfg config.ExecutionConfig) (Scorer, error) {
	switch cfg.Scorer {
	case "", "static":
		return Static{Confidence: cfg.DefaultConfidence}, nil
	case "trend":
		return NewTrend(cfg.DefaultConfidence), nil
	}
	return nil, fmt.Errorf("unknown scorer %q", cfg.Scorer)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}
