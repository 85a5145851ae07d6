// Package journal is the append-only audit trail of the execution
// pipeline: one Entry per terminal or ownership-changing transition.
package journal

import (
	"time"

	"github.com/rustyeddy/autotrader/pkg/id"
)

type Stage string

const (
	StageRejected Stage = "rejected"
	StageOpen     Stage = "open"
	StageClosed   Stage = "closed"
	StageFailed   Stage = "failed"
)

type Entry struct {
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	Stage         Stage     `json:"stage"`
	SignalID      string    `json:"signal_id"`
	Source        string    `json:"source"`
	Instrument    string    `json:"instrument"`
	Direction     string    `json:"direction"`
	TradeID       string    `json:"trade_id,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Confidence    float64   `json:"confidence"`
	EntryPrice    float64   `json:"entry_price"`
	Stop          float64   `json:"stop"`
	Target        float64   `json:"target"`
	Lots          float64   `json:"lots,omitempty"`
	Units         float64   `json:"units,omitempty"`
	Risk          float64   `json:"risk,omitempty"`
	FillPrice     float64   `json:"fill_price,omitempty"`
	ClosePrice    float64   `json:"close_price,omitempty"`
	PnL           float64   `json:"pnl,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
}

// Stamp fills in the id and time when missing.
func (e Entry) Stamp(now time.Time) Entry {
	if e.ID == "" {
		e.ID = id.New()
	}
	if e.Time.IsZero() {
		e.Time = now.UTC()
	}
	return e
}

type Journal interface {
	Record(Entry) error
	Close() error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(Entry) error { return nil }
func (Nop) Close() error       { return nil }
