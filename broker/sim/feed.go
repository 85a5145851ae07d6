package sim

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// DefaultPrices seeds the random walk.
var DefaultPrices = map[string]float64{
	"EUR_USD": 1.0850,
	"GBP_USD": 1.2700,
	"AUD_USD": 0.6600,
	"NZD_USD": 0.6100,
	"USD_JPY": 150.00,
	"USD_CHF": 0.8800,
	"USD_CAD": 1.3600,
}

// Feed drives an Engine with a random-walk quote stream. It is only a
// price source for paper trading.
type Feed struct {
	engine     *Engine
	rng        *rand.Rand
	prices     map[string]float64
	order      []string
	spreadPips float64
	volPips    float64 // per-tick standard deviation
}

func NewFeed(e *Engine, instruments []string, spreadPips float64, seed int64) *Feed {
	f := &Feed{
		engine:     e,
		rng:        rand.New(rand.NewSource(seed)),
		prices:     make(map[string]float64, len(instruments)),
		spreadPips: spreadPips,
		volPips:    2,
	}
	for _, inst := range instruments {
		p, ok := DefaultPrices[inst]
		if !ok {
			p = 1
		}
		f.prices[inst] = p
		f.order = append(f.order, inst)
	}
	return f
}

func (f *Feed) tick(inst string, at time.Time) market.Tick {
	meta, err := market.Lookup(inst)
	pip := 0.0001
	if err == nil {
		pip = meta.PipSize()
	}
	mid := f.prices[inst] + f.rng.NormFloat64()*f.volPips*pip
	mid = math.Max(mid, pip)
	f.prices[inst] = mid
	half := f.spreadPips * pip / 2
	return market.Tick{Instrument: inst, Time: at, Bid: mid - half, Ask: mid + half}
}

// Warmup back-fills history ending now, one tick per step, so the scanner
// has candles to work with immediately.
func (f *Feed) Warmup(now time.Time, n int, step time.Duration) error {
	start := now.Add(-time.Duration(n) * step)
	for i := 0; i < n; i++ {
		at := start.Add(time.Duration(i) * step)
		for _, inst := range f.order {
			if err := f.engine.UpdatePrice(f.tick(inst, at)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run publishes a tick per instrument every interval until ctx is done.
func (f *Feed) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, inst := range f.order {
				if err := f.engine.UpdatePrice(f.tick(inst, now.UTC())); err != nil {
					return err
				}
			}
		}
	}
}
