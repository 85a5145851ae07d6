package oanda

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rustyeddy/autotrader/broker"
)

type apiTrade struct {
	ID                string            `json:"id"`
	Instrument        string            `json:"instrument"`
	Price             string            `json:"price"`
	OpenTime          string            `json:"openTime"`
	State             string            `json:"state"`
	InitialUnits      string            `json:"initialUnits"`
	CurrentUnits      string            `json:"currentUnits"`
	RealizedPL        string            `json:"realizedPL"`
	AverageClosePrice string            `json:"averageClosePrice"`
	CloseTime         string            `json:"closeTime"`
	ClientExtensions  *clientExtensions `json:"clientExtensions"`
	StopLossOrder     *dependentOrder   `json:"stopLossOrder"`
	TakeProfitOrder   *dependentOrder   `json:"takeProfitOrder"`
}

// dependentOrder is a stop loss or take profit attached to a trade.
type dependentOrder struct {
	State string `json:"state"`
	Price string `json:"price"`
}

func (o *dependentOrder) price() float64 {
	if o == nil {
		return 0
	}
	p, _ := parseFloat(o.Price)
	return p
}

func (t apiTrade) status() (broker.TradeStatus, error) {
	entry, err := parseFloat(t.Price)
	if err != nil {
		return broker.TradeStatus{}, fmt.Errorf("parse price: %w", err)
	}
	units, err := parseFloat(t.InitialUnits)
	if err != nil {
		return broker.TradeStatus{}, fmt.Errorf("parse units: %w", err)
	}
	st := broker.TradeStatus{
		TradeID:    t.ID,
		Instrument: t.Instrument,
		State:      broker.TradeOpen,
		Units:      units,
		Entry:      entry,
		OpenTime:   parseTime(t.OpenTime),
		StopLoss:   t.StopLossOrder.price(),
		TakeProfit: t.TakeProfitOrder.price(),
	}
	if t.ClientExtensions != nil {
		st.ClientOrderID = t.ClientExtensions.ID
	}
	if t.State != "CLOSED" {
		return st, nil
	}

	st.State = broker.TradeClosed
	if st.ClosePrice, err = parseFloat(t.AverageClosePrice); err != nil {
		return broker.TradeStatus{}, fmt.Errorf("parse close price: %w", err)
	}
	if st.RealizedPnL, err = parseFloat(t.RealizedPL); err != nil {
		return broker.TradeStatus{}, fmt.Errorf("parse realized pl: %w", err)
	}
	st.CloseTime = parseTime(t.CloseTime)
	switch {
	case t.StopLossOrder != nil && t.StopLossOrder.State == "FILLED":
		st.Reason = "stop_loss"
	case t.TakeProfitOrder != nil && t.TakeProfitOrder.State == "FILLED":
		st.Reason = "take_profit"
	default:
		st.Reason = "closed"
	}
	return st, nil
}

func (c *Client) GetTradeStatus(ctx context.Context, tradeID string) (broker.TradeStatus, error) {
	var resp struct {
		Trade apiTrade `json:"trade"`
	}
	if err := c.do(ctx, "trade_status", http.MethodGet, c.accountPath("/trades/%s", url.PathEscape(tradeID)), nil, nil, &resp); err != nil {
		return broker.TradeStatus{}, err
	}
	st, err := resp.Trade.status()
	if err != nil {
		return broker.TradeStatus{}, fmt.Errorf("trade_status %s: %w", tradeID, err)
	}
	return st, nil
}

type closeResponse struct {
	OrderFillTransaction *struct {
		Price string `json:"price"`
		PL    string `json:"pl"`
	} `json:"orderFillTransaction"`
}

func (c *Client) openTrades(ctx context.Context, op string) ([]apiTrade, error) {
	var resp struct {
		Trades []apiTrade `json:"trades"`
	}
	if err := c.do(ctx, op, http.MethodGet, c.accountPath("/openTrades"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Trades, nil
}

// OpenTrades lists the account's open trades with their attached stop and
// target.
func (c *Client) OpenTrades(ctx context.Context) ([]broker.TradeStatus, error) {
	trades, err := c.openTrades(ctx, "open_trades")
	if err != nil {
		return nil, err
	}
	out := make([]broker.TradeStatus, 0, len(trades))
	for _, t := range trades {
		st, err := t.status()
		if err != nil {
			return nil, fmt.Errorf("open_trades %s: %w", t.ID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// CloseAll closes every open trade on the account. One failed close does
// not stop the others; its error is reported in the result.
func (c *Client) CloseAll(ctx context.Context) ([]broker.CloseResult, error) {
	open, err := c.openTrades(ctx, "close_all")
	if err != nil {
		return nil, err
	}

	results := make([]broker.CloseResult, 0, len(open))
	var errs []error
	for _, t := range open {
		res := broker.CloseResult{TradeID: t.ID}
		var resp closeResponse
		body := map[string]string{"units": "ALL"}
		err := c.do(ctx, "close_trade", http.MethodPut, c.accountPath("/trades/%s/close", url.PathEscape(t.ID)), nil, body, &resp)
		if err != nil {
			res.Err = err
			errs = append(errs, err)
		} else if resp.OrderFillTransaction != nil {
			res.Price, _ = parseFloat(resp.OrderFillTransaction.Price)
			res.PnL, _ = parseFloat(resp.OrderFillTransaction.PL)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (c *Client) GetAccountSummary(ctx context.Context) (broker.AccountSummary, error) {
	var resp struct {
		Account struct {
			ID              string `json:"id"`
			Currency        string `json:"currency"`
			Balance         string `json:"balance"`
			NAV             string `json:"NAV"`
			MarginUsed      string `json:"marginUsed"`
			MarginAvailable string `json:"marginAvailable"`
			OpenTradeCount  int    `json:"openTradeCount"`
		} `json:"account"`
	}
	if err := c.do(ctx, "account_summary", http.MethodGet, c.accountPath("/summary"), nil, nil, &resp); err != nil {
		return broker.AccountSummary{}, err
	}

	a := resp.Account
	out := broker.AccountSummary{ID: a.ID, Currency: a.Currency, OpenTradeCount: a.OpenTradeCount}
	var err error
	for _, f := range []struct {
		dst *float64
		src string
	}{
		{&out.Balance, a.Balance},
		{&out.NAV, a.NAV},
		{&out.MarginUsed, a.MarginUsed},
		{&out.MarginAvailable, a.MarginAvailable},
	} {
		if *f.dst, err = parseFloat(f.src); err != nil {
			return broker.AccountSummary{}, fmt.Errorf("account_summary: %w", err)
		}
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, broker.ErrTradeNotFound)
}
