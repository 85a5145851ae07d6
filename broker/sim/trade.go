package sim

import (
	"time"

	"github.com/rustyeddy/autotrader/market"
)

type Trade struct {
	ID            string
	OrderID       string
	ClientOrderID string
	Instrument    string
	Units         float64 // signed
	EntryPrice    float64
	OpenTime      time.Time

	StopLoss   float64 // 0 when unset
	TakeProfit float64

	ClosePrice  float64
	CloseTime   time.Time
	RealizedPL  float64 // account currency
	CloseReason string
	Open        bool
}

func (t *Trade) hitStopLoss(price float64) bool {
	if t.StopLoss == 0 {
		return false
	}
	if t.Units > 0 {
		return price <= t.StopLoss
	}
	return price >= t.StopLoss
}

func (t *Trade) hitTakeProfit(price float64) bool {
	if t.TakeProfit == 0 {
		return false
	}
	if t.Units > 0 {
		return price >= t.TakeProfit
	}
	return price <= t.TakeProfit
}

// closeSide is the price a position is marked and closed at: longs sell at
// the bid, shorts buy back at the ask.
func (t *Trade) closeSide(p market.Tick) float64 {
	if t.Units < 0 {
		return p.Ask
	}
	return p.Bid
}

func UnrealizedPL(t Trade, currentPrice, quoteToAccount float64) float64 {
	return t.Units * (currentPrice - t.EntryPrice) * quoteToAccount
}

func TradeMargin(units, price float64, meta market.InstrumentMeta, quoteToAccount float64) float64 {
	if units < 0 {
		units = -units
	}
	return units * price * quoteToAccount * meta.MarginRate
}
