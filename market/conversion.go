package market

import (
	"fmt"
	"math"
)

// PipSize returns the pip size for a given pip location.
func PipSize(loc int) float64 {
	return math.Pow(10, float64(loc))
}

// QuoteToAccountRate converts one unit of the instrument's quote currency
// into the account currency using price, the instrument's current mid.
func QuoteToAccountRate(meta InstrumentMeta, accountCurrency string, price float64) (float64, error) {
	// Case 1: quote currency == account currency (EUR_USD, GBP_USD, etc.)
	if meta.QuoteCurrency == accountCurrency {
		return 1.0, nil
	}

	// Case 2: account currency is base (USD_JPY, USD_CHF, etc.)
	if meta.BaseCurrency == accountCurrency {
		if price <= 0 {
			return 0, fmt.Errorf("conversion for %s needs a positive price", meta.Name)
		}
		// USD_JPY gives JPY per USD, we want USD per JPY
		return 1.0 / price, nil
	}

	return 0, fmt.Errorf(
		"cross conversion not implemented for %s -> %s",
		meta.QuoteCurrency,
		accountCurrency,
	)
}

// PipValuePerLot is the account-currency value of a one pip move on one
// standard lot.
func PipValuePerLot(meta InstrumentMeta, accountCurrency string, price float64) (float64, error) {
	rate, err := QuoteToAccountRate(meta, accountCurrency, price)
	if err != nil {
		return 0, err
	}
	return meta.PipSize() * StandardLot * rate, nil
}

// UnitsToLots converts signed broker units into unsigned lots.
func UnitsToLots(units float64) float64 {
	return math.Abs(units) / StandardLot
}

// LotsToUnits converts lots into signed broker units.
func LotsToUnits(lots float64, dir Direction) float64 {
	return math.Round(lots*StandardLot) * float64(dir.Sign())
}
