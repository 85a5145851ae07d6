package market

import (
	"fmt"
	"math"
	"strings"
)

// StandardLot is the number of base-currency units in one lot.
const StandardLot = 100_000

type InstrumentMeta struct {
	Name                string
	BaseCurrency        string
	QuoteCurrency       string
	PipLocation         int
	DisplayPrecision    int
	TradeUnitsPrecision int
	MinimumTradeSize    float64 // units
	MarginRate          float64
}

var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {
		Name:             "EUR_USD",
		BaseCurrency:     "EUR",
		QuoteCurrency:    "USD",
		PipLocation:      -4,
		DisplayPrecision: 5,
		MinimumTradeSize: 1,
		MarginRate:       0.0333,
	},
	"GBP_USD": {
		Name:             "GBP_USD",
		BaseCurrency:     "GBP",
		QuoteCurrency:    "USD",
		PipLocation:      -4,
		DisplayPrecision: 5,
		MinimumTradeSize: 1,
		MarginRate:       0.0333,
	},
	"AUD_USD": {
		Name:             "AUD_USD",
		BaseCurrency:     "AUD",
		QuoteCurrency:    "USD",
		PipLocation:      -4,
		DisplayPrecision: 5,
		MinimumTradeSize: 1,
		MarginRate:       0.05,
	},
	"NZD_USD": {
		Name:             "NZD_USD",
		BaseCurrency:     "NZD",
		QuoteCurrency:    "USD",
		PipLocation:      -4,
		DisplayPrecision: 5,
		MinimumTradeSize: 1,
		MarginRate:       0.05,
	},
	"USD_JPY": {
		Name:             "USD_JPY",
		BaseCurrency:     "USD",
		QuoteCurrency:    "JPY",
		PipLocation:      -2,
		DisplayPrecision: 3,
		MinimumTradeSize: 1,
		MarginRate:       0.04,
	},
	"USD_CHF": {
		Name:             "USD_CHF",
		BaseCurrency:     "USD",
		QuoteCurrency:    "CHF",
		PipLocation:      -4,
		DisplayPrecision: 5,
		MinimumTradeSize: 1,
		MarginRate:       0.0333,
	},
	"USD_CAD": {
		Name:             "USD_CAD",
		BaseCurrency:     "USD",
		QuoteCurrency:    "CAD",
		PipLocation:      -4,
		DisplayPrecision: 5,
		MinimumTradeSize: 1,
		MarginRate:       0.0333,
	},
}

// NormalizeInstrument maps charting-tool tickers such as "EURUSD",
// "EUR/USD" or "OANDA:EURUSD" onto the broker form "EUR_USD".
func NormalizeInstrument(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.NewReplacer("/", "_", "-", "_").Replace(s)
	if len(s) == 6 && !strings.Contains(s, "_") {
		s = s[:3] + "_" + s[3:]
	}
	return s
}

// Lookup returns the metadata for an instrument in any accepted spelling.
func Lookup(instrument string) (InstrumentMeta, error) {
	name := NormalizeInstrument(instrument)
	meta, ok := Instruments[name]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("unknown instrument %q", instrument)
	}
	return meta, nil
}

func (m InstrumentMeta) PipSize() float64 {
	return PipSize(m.PipLocation)
}

// Pips converts an absolute price distance into pips, rounded to a
// millionth of a pip so price subtraction noise cannot cross a lot step.
func (m InstrumentMeta) Pips(distance float64) float64 {
	if distance < 0 {
		distance = -distance
	}
	return math.Round(distance/m.PipSize()*1e6) / 1e6
}
