package indicators

import "github.com/rustyeddy/autotrader/market"

// EMA of closes, seeded with the first close and ready after n candles.
type EMA struct {
	n     int
	k     float64
	count int
	value float64
}

func NewEMA(n int) *EMA {
	mustPeriod("EMA", n)
	return &EMA{n: n, k: 2 / float64(n+1)}
}

func (e *EMA) Update(c market.Candle) {
	e.count++
	if e.count == 1 {
		e.value = c.Close
		return
	}
	e.value += e.k * (c.Close - e.value)
}

func (e *EMA) Warmup() int    { return e.n }
func (e *EMA) Ready() bool    { return e.count >= e.n }
func (e *EMA) Value() float64 { return e.value }
func (e *EMA) Reset()         { *e = EMA{n: e.n, k: e.k} }
