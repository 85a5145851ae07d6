package ledger

import (
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/signal"
)

// DailyStats are the per-day counters the safety policy and breaker read.
// Day is YYYY-MM-DD in the ledger's time zone.
type DailyStats struct {
	Day               string  `json:"day"`
	TradesToday       int     `json:"trades_today"`
	WinsToday         int     `json:"wins_today"`
	LossesToday       int     `json:"losses_today"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	DailyPnL          float64 `json:"daily_pnl"`
	DayStartBalance   float64 `json:"day_start_balance"`
	OpenedToday       int     `json:"opened_today"`
}

// DayTradeCount is the count compared against the daily trade limit.
// Closed trades are what trades_today counts, but a trade opened today and
// still running must count as well or the limit could be bypassed.
func (d DailyStats) DayTradeCount() int {
	return max(d.TradesToday, d.OpenedToday)
}

// LossDrawdown is today's realized loss as a fraction of the day-start
// balance. It is zero on a winning day.
func (d DailyStats) LossDrawdown() float64 {
	if d.DailyPnL >= 0 || d.DayStartBalance <= 0 {
		return 0
	}
	return -d.DailyPnL / d.DayStartBalance
}

type LifetimeStats struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
	BestTrade   float64 `json:"best_trade"`
	WorstTrade  float64 `json:"worst_trade"`
}

func (l LifetimeStats) WinRate() float64 {
	if l.TotalTrades == 0 {
		return 0
	}
	return float64(l.Wins) / float64(l.TotalTrades)
}

// OpenTrade is a broker-confirmed position owned by the ledger.
type OpenTrade struct {
	TradeID        string           `json:"trade_id"`
	ClientOrderID  string           `json:"client_order_id"`
	Instrument     string           `json:"instrument"`
	Direction      market.Direction `json:"direction"`
	RequestedEntry float64          `json:"requested_entry"`
	Entry          float64          `json:"entry"`
	Lots           float64          `json:"lots"`
	Units          float64          `json:"units"` // signed
	Stop           float64          `json:"stop"`
	Target         float64          `json:"target"`
	Risk           float64          `json:"risk"` // account currency at stop
	OpenTime       time.Time        `json:"open_time"`
	Signal         signal.Signal    `json:"signal"`
}

type Outcome string

const (
	Win  Outcome = "win"
	Loss Outcome = "loss"
)

type ClosedTrade struct {
	OpenTrade
	ClosePrice  float64   `json:"close_price"`
	CloseTime   time.Time `json:"close_time"`
	RealizedPnL float64   `json:"realized_pnl"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason"`
}

// Orphan is an order whose submission timed out. The broker may or may not
// have filled it, so it keeps its concurrency slot and risk until the
// reconciler adopts or abandons it.
type Orphan struct {
	ClientOrderID string           `json:"client_order_id"`
	Instrument    string           `json:"instrument"`
	Direction     market.Direction `json:"direction"`
	Lots          float64          `json:"lots"`
	Units         float64          `json:"units"`
	Stop          float64          `json:"stop"`
	Target        float64          `json:"target"`
	Risk          float64          `json:"risk"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	Signal        signal.Signal    `json:"signal"`
}

// Reservation holds an admission slot between Reserve and the broker
// result.
type Reservation struct {
	id   uint64
	Risk float64
}

type CloseResult int

const (
	Applied CloseResult = iota
	AlreadyClosed
)

func (r CloseResult) String() string {
	if r == Applied {
		return "applied"
	}
	return "already_closed"
}

// Snapshot is a deep copy of ledger state at one instant.
type Snapshot struct {
	// Version increases with every change, so of two snapshots the one
	// with the higher version is the more recent.
	Version     uint64        `json:"version"`
	Time        time.Time     `json:"time"`
	Balance     float64       `json:"balance"`
	PeakBalance float64       `json:"peak_balance"`
	Daily       DailyStats    `json:"daily"`
	Lifetime    LifetimeStats `json:"lifetime"`
	Open        []OpenTrade   `json:"open"`
	Orphans     []Orphan      `json:"orphans"`
	Pending     int           `json:"pending"`
	PendingRisk float64       `json:"pending_risk"`
	Recent      []ClosedTrade `json:"recent,omitempty"`
}

// SlotsInUse counts every trade that occupies a concurrency slot.
func (s Snapshot) SlotsInUse() int {
	return len(s.Open) + s.Pending + len(s.Orphans)
}

// CommittedRisk sums the risk of open, reserved and orphaned trades.
func (s Snapshot) CommittedRisk() float64 {
	total := s.PendingRisk
	for _, t := range s.Open {
		total += t.Risk
	}
	for _, o := range s.Orphans {
		total += o.Risk
	}
	return total
}

// DayTradeCount includes admissions that have not resolved yet.
func (s Snapshot) DayTradeCount() int {
	return s.Daily.DayTradeCount() + s.Pending + len(s.Orphans)
}

func (s Snapshot) Drawdown() float64 {
	if s.PeakBalance <= 0 {
		return 0
	}
	return (s.PeakBalance - s.Balance) / s.PeakBalance
}
