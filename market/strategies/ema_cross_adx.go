package strategies

import (
	"fmt"

	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/market/indicators"
)

type EMACrossADX struct {
	fast *indicators.EMA
	slow *indicators.EMA
	adx  *indicators.ADX
	atr  *indicators.ATR

	// prevRel tracks prior fast/slow relationship: -1 below, +1 above, 0 unknown
	prevRel int

	adxThreshold    float64
	requireDI       bool
	requireADXReady bool

	minSpread float64 // optional EMA diff filter in price units
	name      string
}

type EMACrossADXConfig struct {
	FastPeriod int
	SlowPeriod int
	ADXPeriod  int
	ATRPeriod  int

	ADXThreshold    float64 // e.g. 20.0 or 25.0
	RequireDI       bool    // confirm direction with DI (+DI>-DI for buy, opposite for sell)
	RequireADXReady bool    // don't signal until ADX ready

	MinSpread float64 // optional; 0 disables
}

func DefaultEMACrossADXConfig() EMACrossADXConfig {
	return EMACrossADXConfig{
		FastPeriod:      9,
		SlowPeriod:      21,
		ADXPeriod:       14,
		ATRPeriod:       14,
		ADXThreshold:    20,
		RequireDI:       true,
		RequireADXReady: true,
	}
}

func NewEMACrossADX(cfg EMACrossADXConfig) *EMACrossADX {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 || cfg.ADXPeriod <= 0 {
		panic("periods must be > 0")
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		panic("EMACrossADX requires FastPeriod < SlowPeriod")
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = cfg.ADXPeriod
	}
	if cfg.ADXThreshold <= 0 {
		cfg.ADXThreshold = 20.0
	}

	return &EMACrossADX{
		fast:            indicators.NewEMA(cfg.FastPeriod),
		slow:            indicators.NewEMA(cfg.SlowPeriod),
		adx:             indicators.NewADX(cfg.ADXPeriod),
		atr:             indicators.NewATR(cfg.ATRPeriod),
		adxThreshold:    cfg.ADXThreshold,
		requireDI:       cfg.RequireDI,
		requireADXReady: cfg.RequireADXReady,
		minSpread:       cfg.MinSpread,
		name:            fmt.Sprintf("EMA_CROSS_ADX(%d,%d,ADX%d@%.1f)", cfg.FastPeriod, cfg.SlowPeriod, cfg.ADXPeriod, cfg.ADXThreshold),
	}
}

func (x *EMACrossADX) Name() string { return x.name }

func (x *EMACrossADX) Reset() {
	x.fast.Reset()
	x.slow.Reset()
	x.adx.Reset()
	x.atr.Reset()
	x.prevRel = 0
}

func (x *EMACrossADX) Ready() bool {
	if !x.fast.Ready() || !x.slow.Ready() {
		return false
	}
	if x.requireADXReady && !x.adx.Ready() {
		return false
	}
	return true
}

func (x *EMACrossADX) Update(c market.Candle) Decision {
	x.fast.Update(c)
	x.slow.Update(c)
	x.adx.Update(c)
	x.atr.Update(c)

	d := Decision{
		Signal: Hold,
		Time:   c.Time,
		Fast:   x.fast.Value(),
		Slow:   x.slow.Value(),
		Close:  c.Close,
	}
	if x.adx.Ready() {
		d.ADX = x.adx.Value()
		d.PlusDI = x.adx.PlusDI()
		d.MinusDI = x.adx.MinusDI()
	}
	if x.atr.Ready() {
		d.ATR = x.atr.Value()
	}

	if !x.fast.Ready() || !x.slow.Ready() {
		d.Reason = "warming up EMAs"
		return d
	}
	if x.requireADXReady && !x.adx.Ready() {
		d.Reason = "warming up ADX"
		return d
	}

	diff := d.Fast - d.Slow
	if x.minSpread > 0 && abs(diff) < x.minSpread {
		d.Reason = "min-spread filter"
		return d
	}

	rel := 0
	if diff > 0 {
		rel = +1
	} else if diff < 0 {
		rel = -1
	}

	// Don't emit on the first usable relationship.
	if x.prevRel == 0 {
		x.prevRel = rel
		d.Reason = "baseline set"
		if rel == 0 {
			d.Reason = "baseline pending"
		}
		return d
	}

	prev := x.prevRel
	x.prevRel = rel

	if x.adx.Ready() && d.ADX < x.adxThreshold {
		d.Reason = "ADX below threshold"
		return d
	}

	switch {
	case prev == -1 && rel == +1:
		if x.requireDI && x.adx.Ready() && !(d.PlusDI > d.MinusDI) {
			d.Reason = "DI confirmation failed (buy)"
			return d
		}
		d.Signal = Buy
		d.Reason = "EMA cross up + ADX gate"
	case prev == +1 && rel == -1:
		if x.requireDI && x.adx.Ready() && !(d.MinusDI > d.PlusDI) {
			d.Reason = "DI confirmation failed (sell)"
			return d
		}
		d.Signal = Sell
		d.Reason = "EMA cross down + ADX gate"
	default:
		d.Reason = "no cross"
	}
	return d
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
