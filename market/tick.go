package market

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNoPrice = errors.New("no quote for instrument")

// Tick is a two-sided quote.
type Tick struct {
	Instrument string
	Time       time.Time
	Bid        float64
	Ask        float64
}

func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// Side is the price a market order in direction d fills at: longs pay the
// ask, shorts hit the bid.
func (t Tick) Side(d Direction) float64 {
	if d == Short {
		return t.Bid
	}
	return t.Ask
}

func (t Tick) Validate() error {
	if t.Instrument == "" {
		return errors.New("tick without instrument")
	}
	if t.Bid <= 0 || t.Ask < t.Bid {
		return fmt.Errorf("tick %s: bid %.5f ask %.5f", t.Instrument, t.Bid, t.Ask)
	}
	return nil
}

// Quotes keeps the latest tick per instrument.
type Quotes struct {
	mu   sync.RWMutex
	last map[string]Tick
}

func NewQuotes() *Quotes {
	return &Quotes{last: make(map[string]Tick)}
}

func (q *Quotes) Put(t Tick) {
	q.mu.Lock()
	q.last[t.Instrument] = t
	q.mu.Unlock()
}

func (q *Quotes) Last(instrument string) (Tick, error) {
	q.mu.RLock()
	t, ok := q.last[instrument]
	q.mu.RUnlock()
	if !ok {
		return Tick{}, fmt.Errorf("%w %s", ErrNoPrice, instrument)
	}
	return t, nil
}
