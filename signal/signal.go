// Package signal defines the trade signal value passed from the intake
// paths (webhook and scanner) to the execution coordinator.
package signal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/pkg/id"
)

type Source string

const (
	SourceWebhook Source = "webhook"
	SourceScan    Source = "scan"
)

// Signal is a request to open a trade. It is not modified after New.
type Signal struct {
	ID         string           `json:"id"`
	Instrument string           `json:"instrument"`
	Direction  market.Direction `json:"direction"`
	Entry      float64          `json:"entry"`
	Stop       float64          `json:"stop"`
	Target     float64          `json:"target"`
	Confidence float64          `json:"confidence"`
	RiskReward float64          `json:"risk_reward"`
	Strength   float64          `json:"strength,omitempty"` // 0 when unknown
	Source     Source           `json:"source"`
	ReceivedAt time.Time        `json:"received_at"`
}

var ErrInvalid = errors.New("invalid signal")

// New stamps an id and receive time, normalizes the instrument and fills
// in the risk-reward ratio from the prices when the caller did not supply
// one. The returned signal has been validated.
func New(s Signal, now time.Time) (Signal, error) {
	if s.ID == "" {
		s.ID = id.New()
	}
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = now.UTC()
	}
	s.Instrument = market.NormalizeInstrument(s.Instrument)
	if s.RiskReward == 0 {
		s.RiskReward = s.ComputedRiskReward()
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// Validate checks structural soundness. It says nothing about whether the
// signal is worth trading.
func (s Signal) Validate() error {
	if s.Instrument == "" {
		return fmt.Errorf("%w: instrument is required", ErrInvalid)
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalid, s.Direction)
	}
	for name, v := range map[string]float64{"entry": s.Entry, "stop": s.Stop, "target": s.Target} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}
	switch s.Direction {
	case market.Long:
		if s.Stop >= s.Entry || s.Target <= s.Entry {
			return fmt.Errorf("%w: long needs stop < entry < target", ErrInvalid)
		}
	case market.Short:
		if s.Stop <= s.Entry || s.Target >= s.Entry {
			return fmt.Errorf("%w: short needs target < entry < stop", ErrInvalid)
		}
	}
	if s.Confidence < 0 || s.Confidence > 1 || math.IsNaN(s.Confidence) {
		return fmt.Errorf("%w: confidence must be within [0,1]", ErrInvalid)
	}
	for name, v := range map[string]float64{"risk_reward": s.RiskReward, "strength": s.Strength} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a finite non-negative number", ErrInvalid, name)
		}
	}
	return nil
}

// StopDistance is the absolute price distance from entry to stop.
func (s Signal) StopDistance() float64 {
	return math.Abs(s.Entry - s.Stop)
}

// ComputedRiskReward derives reward/risk from the prices.
func (s Signal) ComputedRiskReward() float64 {
	risk := s.StopDistance()
	if risk == 0 {
		return 0
	}
	return math.Abs(s.Target-s.Entry) / risk
}
