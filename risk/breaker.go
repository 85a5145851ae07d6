package risk

import (
	"time"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/ledger"
)

type BreakerState string

const (
	OK        BreakerState = "OK"
	Throttled BreakerState = "THROTTLED"
	Halted    BreakerState = "HALTED"
)

func (s BreakerState) Level() int {
	switch s {
	case Throttled:
		return 1
	case Halted:
		return 2
	}
	return 0
}

// Breaker derives the circuit state from ledger aggregates. The state is
// never stored; call Evaluate whenever it is needed.
type Breaker struct {
	cfg config.SafetyConfig
}

func NewBreaker(cfg config.SafetyConfig) Breaker {
	return Breaker{cfg: cfg}
}

// Evaluate is HALTED iff drawdown from peak reaches the emergency stop.
func (b Breaker) Evaluate(daily ledger.DailyStats, balance, peak float64) BreakerState {
	if peak > 0 && (peak-balance)/peak >= b.cfg.EmergencyStopDrawdown {
		return Halted
	}
	if b.cfg.WarningDrawdown > 0 && daily.LossDrawdown() >= b.cfg.WarningDrawdown {
		return Throttled
	}
	if b.cfg.MaxConsecutiveLosses > 1 && daily.ConsecutiveLosses >= b.cfg.MaxConsecutiveLosses-1 {
		return Throttled
	}
	return OK
}

func (b Breaker) FromSnapshot(s ledger.Snapshot) BreakerState {
	return b.Evaluate(s.Daily, s.Balance, s.PeakBalance)
}

// Alert records a breaker state change.
type Alert struct {
	Time     time.Time    `json:"time"`
	From     BreakerState `json:"from"`
	To       BreakerState `json:"to"`
	Balance  float64      `json:"balance"`
	Drawdown float64      `json:"drawdown"`
	Message  string       `json:"message,omitempty"`
}
