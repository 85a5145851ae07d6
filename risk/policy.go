// Package risk holds the pure decision functions of the execution
// pipeline: the ordered safety policy, the circuit breaker and the
// position sizer. Nothing here locks or performs I/O.
package risk

import (
	"fmt"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/signal"
)

type Reason string

const (
	ReasonHalted            Reason = "circuit_breaker_halted"
	ReasonBalance           Reason = "balance_below_minimum"
	ReasonDailyTradeLimit   Reason = "daily_trade_limit"
	ReasonConsecutiveLosses Reason = "consecutive_loss_limit"
	ReasonDailyDrawdown     Reason = "daily_drawdown_limit"
	ReasonLowConfidence     Reason = "low_confidence"
	ReasonPoorRiskReward    Reason = "poor_risk_reward"
	ReasonConcurrency       Reason = "concurrency_limit"
	ReasonWeakTrend         Reason = "weak_trend"

	// Raised outside Evaluate by the coordinator.
	ReasonDailyRisk         Reason = "daily_risk_limit"
	ReasonSizeTooSmall      Reason = "size_too_small"
	ReasonInvalidStop       Reason = "invalid_stop_distance"
	ReasonUnknownInstrument Reason = "unknown_instrument"
	ReasonInvalidSignal     Reason = "invalid_signal"
)

// Rejection is an expected, non-retryable refusal to trade.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func Reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Decision is the outcome of Evaluate. When Allowed, RiskFraction is the
// fraction of balance the sizer should risk.
type Decision struct {
	Allowed      bool
	Rejection    *Rejection
	State        BreakerState
	RiskFraction float64
}

// Input is what Evaluate needs from the ledger and breaker.
type Input struct {
	Daily     ledger.DailyStats
	Balance   float64
	State     BreakerState
	OpenCount int
}

// Evaluate applies the safety rules in a fixed order and reports the first
// one violated.
func Evaluate(cfg config.SafetyConfig, sig signal.Signal, in Input) Decision {
	d := Decision{State: in.State}
	reject := func(r *Rejection) Decision {
		d.Rejection = r
		return d
	}

	if in.State == Halted {
		return reject(Reject(ReasonHalted, "trading halted by circuit breaker"))
	}
	if in.Balance < cfg.MinAccountBalance {
		return reject(Reject(ReasonBalance, "balance %.2f < %.2f", in.Balance, cfg.MinAccountBalance))
	}
	if n := in.Daily.DayTradeCount(); n >= cfg.MaxTradesPerDay {
		return reject(Reject(ReasonDailyTradeLimit, "%d trades today, max %d", n, cfg.MaxTradesPerDay))
	}
	if in.Daily.ConsecutiveLosses >= cfg.MaxConsecutiveLosses {
		return reject(Reject(ReasonConsecutiveLosses, "%d consecutive losses, max %d",
			in.Daily.ConsecutiveLosses, cfg.MaxConsecutiveLosses))
	}
	if dd := dailyDrawdown(in.Daily); dd >= cfg.MaxDailyDrawdown {
		return reject(Reject(ReasonDailyDrawdown, "daily drawdown %.2f%% >= %.2f%%",
			100*dd, 100*cfg.MaxDailyDrawdown))
	}
	if minConf := MinConfidence(cfg, in.State); sig.Confidence < minConf {
		return reject(Reject(ReasonLowConfidence, "confidence %.2f < %.2f", sig.Confidence, minConf))
	}
	if sig.RiskReward < cfg.MinRiskReward {
		return reject(Reject(ReasonPoorRiskReward, "risk/reward %.2f < %.2f", sig.RiskReward, cfg.MinRiskReward))
	}
	if in.OpenCount >= cfg.MaxConcurrentTrades {
		return reject(Reject(ReasonConcurrency, "%d open trades, max %d", in.OpenCount, cfg.MaxConcurrentTrades))
	}
	if sig.Strength > 0 && cfg.MinTrendStrength > 0 && sig.Strength < cfg.MinTrendStrength {
		return reject(Reject(ReasonWeakTrend, "trend strength %.1f < %.1f", sig.Strength, cfg.MinTrendStrength))
	}

	d.Allowed = true
	d.RiskFraction = RiskFraction(cfg, in.State)
	return d
}

// dailyDrawdown measures the day's P/L in either direction against the
// day-start balance.
func dailyDrawdown(d ledger.DailyStats) float64 {
	if d.DayStartBalance <= 0 {
		return 0
	}
	pnl := d.DailyPnL
	if pnl < 0 {
		pnl = -pnl
	}
	return pnl / d.DayStartBalance
}

func MinConfidence(cfg config.SafetyConfig, state BreakerState) float64 {
	if state == Throttled {
		return cfg.MinConfidence + cfg.ThrottleConfidenceBoost
	}
	return cfg.MinConfidence
}

func RiskFraction(cfg config.SafetyConfig, state BreakerState) float64 {
	if state == Throttled {
		return cfg.MaxRiskPerTrade * cfg.ThrottleSizeFactor
	}
	return cfg.MaxRiskPerTrade
}

// Admission re-checks the limits that concurrent submissions can race on.
// It is meant to run as a ledger.Reserve guard, so it sees reservations and
// orphans that Evaluate's snapshot may have missed.
func Admission(cfg config.SafetyConfig, breaker Breaker, risk float64) func(ledger.Snapshot) error {
	return func(s ledger.Snapshot) error {
		if breaker.Evaluate(s.Daily, s.Balance, s.PeakBalance) == Halted {
			return Reject(ReasonHalted, "trading halted by circuit breaker")
		}
		if n := s.SlotsInUse(); n >= cfg.MaxConcurrentTrades {
			return Reject(ReasonConcurrency, "%d open trades, max %d", n, cfg.MaxConcurrentTrades)
		}
		if n := s.DayTradeCount(); n >= cfg.MaxTradesPerDay {
			return Reject(ReasonDailyTradeLimit, "%d trades today, max %d", n, cfg.MaxTradesPerDay)
		}
		limit := cfg.MaxDailyRisk * s.Daily.DayStartBalance
		if committed := s.CommittedRisk(); committed+risk > limit {
			return Reject(ReasonDailyRisk, "committed risk %.2f + %.2f > %.2f", committed, risk, limit)
		}
		return nil
	}
}
