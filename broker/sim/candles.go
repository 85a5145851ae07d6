package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

const maxBars = 10_000

// bars accumulates one-minute mid candles for one instrument.
type bars struct {
	list []market.Candle
}

func (e *Engine) barsFor(instrument string) *bars {
	b, ok := e.bars[instrument]
	if !ok {
		b = &bars{}
		e.bars[instrument] = b
	}
	return b
}

func (b *bars) add(t time.Time, price float64) {
	start := t.UTC().Truncate(time.Minute)
	if n := len(b.list); n > 0 && b.list[n-1].Time.Equal(start) {
		c := &b.list[n-1]
		c.High = max(c.High, price)
		c.Low = min(c.Low, price)
		c.Close = price
		c.Volume++
		return
	}
	b.list = append(b.list, market.Candle{Open: price, High: price, Low: price, Close: price, Time: start, Volume: 1})
	if len(b.list) > maxBars {
		b.list = b.list[len(b.list)-maxBars:]
	}
}

// Granularity converts a broker granularity code into a duration.
func Granularity(code string) (time.Duration, error) {
	switch code {
	case "M1":
		return time.Minute, nil
	case "M5":
		return 5 * time.Minute, nil
	case "M15":
		return 15 * time.Minute, nil
	case "M30":
		return 30 * time.Minute, nil
	case "H1":
		return time.Hour, nil
	case "H4":
		return 4 * time.Hour, nil
	case "D":
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported granularity %q", code)
}

// Candles aggregates the recorded one-minute bars. The newest bucket is
// still forming and is left out.
func (e *Engine) Candles(ctx context.Context, instrument, granularity string, count int) ([]market.Candle, error) {
	step, err := Granularity(granularity)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.bars[instrument]
	if !ok || len(b.list) == 0 {
		return nil, fmt.Errorf("candles %s: %w", instrument, market.ErrNoPrice)
	}

	var out []market.Candle
	for _, m := range b.list {
		start := m.Time.Truncate(step)
		if n := len(out); n > 0 && out[n-1].Time.Equal(start) {
			c := &out[n-1]
			c.High = max(c.High, m.High)
			c.Low = min(c.Low, m.Low)
			c.Close = m.Close
			c.Volume += m.Volume
			continue
		}
		m.Time = start
		out = append(out, m)
	}
	out = out[:len(out)-1]
	if count > 0 && len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}
