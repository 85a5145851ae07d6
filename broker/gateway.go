// Package broker defines the gateway the execution pipeline trades
// through, the transient/terminal error taxonomy and the retry policy
// applied uniformly to every gateway call.
package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	GetTradeStatus(ctx context.Context, tradeID string) (TradeStatus, error)
	GetAccountSummary(ctx context.Context) (AccountSummary, error)
	CloseAll(ctx context.Context) ([]CloseResult, error)

	// OpenTrades lists every trade currently open on the account.
	OpenTrades(ctx context.Context) ([]TradeStatus, error)

	// FindOrder looks up an order by the client id attached at submission.
	// found is false when the broker has no record of a fill for it.
	FindOrder(ctx context.Context, clientOrderID string) (fill Fill, found bool, err error)
}

// CandleSource supplies completed candles to the scanner.
type CandleSource interface {
	Candles(ctx context.Context, instrument, granularity string, count int) ([]market.Candle, error)
}

// OrderRequest is a market order with attached stop and target.
type OrderRequest struct {
	Instrument    string
	Direction     market.Direction
	Units         float64 // signed, negative for short
	StopLoss      float64
	TakeProfit    float64
	ClientOrderID string
}

// Fill is the broker's confirmation of an executed order.
type Fill struct {
	OrderID    string
	TradeID    string
	Instrument string
	Units      float64
	Price      float64
	Time       time.Time
}

type TradeState string

const (
	TradeOpen   TradeState = "OPEN"
	TradeClosed TradeState = "CLOSED"
)

type TradeStatus struct {
	TradeID       string
	ClientOrderID string
	Instrument    string
	State         TradeState
	Units         float64
	Entry         float64
	OpenTime      time.Time
	StopLoss      float64 // 0 when the trade has no stop
	TakeProfit    float64

	ClosePrice  float64
	RealizedPnL float64
	CloseTime   time.Time
	Reason      string
}

type AccountSummary struct {
	ID              string
	Currency        string
	Balance         float64
	NAV             float64
	MarginUsed      float64
	MarginAvailable float64
	OpenTradeCount  int
}

// CloseResult reports one trade of a CloseAll request.
type CloseResult struct {
	TradeID string
	Price   float64
	PnL     float64
	Err     error
}
