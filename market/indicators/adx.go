package indicators

import (
	"math"

	"github.com/rustyeddy/autotrader/market"
)

// ADX is Wilder's Average Directional Index with its +DI and -DI lines.
// The directional lines need n candle-to-candle moves and the index then
// averages n more DX readings, so it is ready after 2n moves.
type ADX struct {
	tr, plusDM, minusDM wilder
	dx                  wilder

	prev    market.Candle
	started bool

	plusDI, minusDI float64
}

func NewADX(n int) *ADX {
	mustPeriod("ADX", n)
	return &ADX{
		tr:      wilder{n: n},
		plusDM:  wilder{n: n},
		minusDM: wilder{n: n},
		dx:      wilder{n: n},
	}
}

func (a *ADX) Update(c market.Candle) {
	if !a.started {
		a.prev, a.started = c, true
		return
	}
	up := c.High - a.prev.High
	down := a.prev.Low - c.Low
	var pdm, mdm float64
	switch {
	case up > down && up > 0:
		pdm = up
	case down > up && down > 0:
		mdm = down
	}
	a.tr.add(trueRange(a.prev.Close, c))
	a.plusDM.add(pdm)
	a.minusDM.add(mdm)
	a.prev = c

	if !a.tr.ready() {
		return
	}
	a.plusDI, a.minusDI = 0, 0
	if tr := a.tr.mean; tr > 0 {
		a.plusDI = 100 * a.plusDM.mean / tr
		a.minusDI = 100 * a.minusDM.mean / tr
	}
	var dx float64
	if sum := a.plusDI + a.minusDI; sum > 0 {
		dx = 100 * math.Abs(a.plusDI-a.minusDI) / sum
	}
	a.dx.add(dx)
}

func (a *ADX) Warmup() int    { return 2 * a.tr.n }
func (a *ADX) Ready() bool    { return a.dx.ready() }
func (a *ADX) Value() float64 { return a.dx.mean }

func (a *ADX) PlusDI() float64  { return a.plusDI }
func (a *ADX) MinusDI() float64 { return a.minusDI }

func (a *ADX) Reset() {
	n := a.tr.n
	*a = *NewADX(n)
}
