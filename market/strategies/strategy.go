package strategies

import (
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// Strategy consumes closed candles one at a time and emits a decision per candle.
type Strategy interface {
	Name() string
	Reset()
	Ready() bool
	Update(c market.Candle) Decision
}

type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

type Decision struct {
	Signal Signal
	Reason string
	Time   time.Time

	Fast  float64
	Slow  float64
	Close float64

	// Trend context, zero when the indicators are still warming up.
	ADX     float64
	PlusDI  float64
	MinusDI float64
	ATR     float64
}

// Factory builds a fresh strategy instance; scanners keep one per instrument.
type Factory func() Strategy

var registry = map[string]Factory{
	"ema_cross_adx": func() Strategy { return NewEMACrossADX(DefaultEMACrossADXConfig()) },
}

func Register(name string, f Factory) {
	registry[name] = f
}

func New(name string) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(), nil
}

func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
