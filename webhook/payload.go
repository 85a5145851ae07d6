package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/signal"
)

// Payload is the alert body. Charting tools disagree on field names, so
// the common aliases are all accepted.
type Payload struct {
	Instrument string `json:"instrument"`
	Ticker     string `json:"ticker"`
	Symbol     string `json:"symbol"`
	Action     string `json:"action"`

	Price      flexFloat  `json:"price"`
	Stop       flexFloat  `json:"stop"`
	StopLoss   flexFloat  `json:"stop_loss"`
	Target     flexFloat  `json:"target"`
	TakeProfit flexFloat  `json:"take_profit"`
	Confidence *flexFloat `json:"confidence"`
	RiskReward *flexFloat `json:"risk_reward"`
	Strength   *flexFloat `json:"strength"`

	Secret string `json:"secret"`
}

// flexFloat accepts 1.1 and "1.1".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("not a number: %q", s)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// decodePayload decodes strictly: unknown fields and wrong types fail.
func decodePayload(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return Payload{}, err
	}
	if dec.More() {
		return Payload{}, errors.New("trailing data after payload")
	}
	return p, nil
}

func firstNonZero(vals ...flexFloat) float64 {
	for _, v := range vals {
		if v != 0 {
			return float64(v)
		}
	}
	return 0
}

// Draft maps the payload onto an unvalidated signal. scored reports
// whether the alert carried its own confidence.
func (p Payload) Draft() (sig signal.Signal, scored bool, err error) {
	inst := p.Instrument
	for _, alt := range []string{p.Ticker, p.Symbol} {
		if inst == "" {
			inst = alt
		}
	}
	dir, err := market.ParseDirection(p.Action)
	if err != nil {
		return signal.Signal{}, false, err
	}
	sig = signal.Signal{
		Instrument: inst,
		Direction:  dir,
		Entry:      float64(p.Price),
		Stop:       firstNonZero(p.Stop, p.StopLoss),
		Target:     firstNonZero(p.Target, p.TakeProfit),
		Source:     signal.SourceWebhook,
	}
	if p.RiskReward != nil {
		sig.RiskReward = float64(*p.RiskReward)
	}
	if sig.RiskReward == 0 {
		sig.RiskReward = sig.ComputedRiskReward()
	}
	if p.Strength != nil {
		sig.Strength = float64(*p.Strength)
	}
	if p.Confidence != nil {
		sig.Confidence = float64(*p.Confidence)
		scored = true
	}
	return sig, scored, nil
}
