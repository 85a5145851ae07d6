package risk

import (
	"math"

	"github.com/rustyeddy/autotrader/market"
)

// StopPips is the entry-to-stop distance in pips.
func StopPips(meta market.InstrumentMeta, entry, stop float64) float64 {
	return meta.Pips(math.Abs(entry - stop))
}

// PlannedRisk is the account-currency loss if the stop is hit.
func PlannedRisk(lots, stopPips, pipValuePerLot float64) float64 {
	return lots * stopPips * pipValuePerLot
}

func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}

func RiskPct(plannedRisk, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / equity
}
