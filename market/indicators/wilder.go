// Package indicators holds the streaming indicators the scanner strategy
// and the trend scorer read. Each consumes closed candles one at a time.
package indicators

import (
	"math"

	"github.com/rustyeddy/autotrader/market"
)

// wilder is Wilder's running mean. The first n inputs are averaged, after
// that each input moves the mean by 1/n of its distance.
type wilder struct {
	n     int
	count int
	sum   float64
	mean  float64
}

func (w *wilder) add(x float64) {
	w.count++
	if w.count < w.n {
		w.sum += x
		return
	}
	if w.count == w.n {
		w.mean = (w.sum + x) / float64(w.n)
		return
	}
	w.mean += (x - w.mean) / float64(w.n)
}

func (w *wilder) ready() bool { return w.count >= w.n }

func (w *wilder) reset() { *w = wilder{n: w.n} }

// trueRange of c against the close before it.
func trueRange(prevClose float64, c market.Candle) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

func mustPeriod(kind string, n int) {
	if n <= 0 {
		panic(kind + " period must be > 0")
	}
}
