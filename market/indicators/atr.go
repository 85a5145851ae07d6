package indicators

import "github.com/rustyeddy/autotrader/market"

// ATR is the Wilder-smoothed true range. The first candle only provides
// a previous close, so it is ready after n+1 candles.
type ATR struct {
	tr        wilder
	prevClose float64
	started   bool
}

func NewATR(n int) *ATR {
	mustPeriod("ATR", n)
	return &ATR{tr: wilder{n: n}}
}

func (a *ATR) Update(c market.Candle) {
	if a.started {
		a.tr.add(trueRange(a.prevClose, c))
	}
	a.prevClose = c.Close
	a.started = true
}

func (a *ATR) Warmup() int    { return a.tr.n + 1 }
func (a *ATR) Ready() bool    { return a.tr.ready() }
func (a *ATR) Value() float64 { return a.tr.mean }

func (a *ATR) Reset() {
	a.tr.reset()
	a.prevClose, a.started = 0, false
}
