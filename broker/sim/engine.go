// Package sim is a paper-trading broker. It fills market orders at the
// current quote, closes trades when a price update crosses their stop or
// target and keeps a margin account, so the bot can run end to end
// without broker credentials.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/pkg/id"
)

type Account struct {
	ID          string
	Currency    string
	Balance     float64
	Equity      float64
	MarginUsed  float64
	FreeMargin  float64
	MarginLevel float64
}

type Engine struct {
	mu       sync.Mutex
	acct     Account
	ticks    *market.Quotes
	trades   map[string]*Trade
	byClient map[string]string // client order id -> trade id
	bars     map[string]*bars
}

var _ broker.Gateway = (*Engine)(nil)
var _ broker.CandleSource = (*Engine)(nil)

func NewEngine(currency string, balance float64) *Engine {
	return &Engine{
		acct: Account{
			ID:         "sim-" + id.New(),
			Currency:   currency,
			Balance:    balance,
			Equity:     balance,
			FreeMargin: balance,
		},
		ticks:    market.NewQuotes(),
		trades:   make(map[string]*Trade),
		byClient: make(map[string]string),
		bars:     make(map[string]*bars),
	}
}

func (e *Engine) Account() Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct
}

func (e *Engine) rate(instrument string, price float64) (market.InstrumentMeta, float64, error) {
	meta, err := market.Lookup(instrument)
	if err != nil {
		return meta, 0, err
	}
	r, err := market.QuoteToAccountRate(meta, e.acct.Currency, price)
	return meta, r, err
}

func (e *Engine) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	if err := ctx.Err(); err != nil {
		return broker.Fill{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Units == 0 {
		return broker.Fill{}, &broker.TerminalError{Op: "place_order", Reason: "UNITS_INVALID"}
	}
	if req.ClientOrderID != "" {
		if _, dup := e.byClient[req.ClientOrderID]; dup {
			return broker.Fill{}, &broker.TerminalError{Op: "place_order", Reason: "CLIENT_ORDER_ID_ALREADY_EXISTS"}
		}
	}
	p, err := e.ticks.Last(req.Instrument)
	if err != nil {
		return broker.Fill{}, &broker.TerminalError{Op: "place_order", Reason: "MARKET_HALTED", Err: err}
	}

	dir := market.Long
	if req.Units < 0 {
		dir = market.Short
	}
	fillPrice := p.Side(dir)
	t := &Trade{
		ID:            id.New(),
		OrderID:       id.New(),
		ClientOrderID: req.ClientOrderID,
		Instrument:    req.Instrument,
		Units:         req.Units,
		EntryPrice:    fillPrice,
		OpenTime:      p.Time,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		Open:          true,
	}
	if t.hitStopLoss(fillPrice) {
		return broker.Fill{}, &broker.TerminalError{Op: "place_order", Reason: "STOP_LOSS_ON_FILL_LOSS"}
	}

	meta, rate, err := e.rate(req.Instrument, p.Mid())
	if err != nil {
		return broker.Fill{}, &broker.TerminalError{Op: "place_order", Reason: "INSTRUMENT_NOT_TRADEABLE", Err: err}
	}
	if need := TradeMargin(req.Units, p.Mid(), meta, rate); need > e.acct.FreeMargin {
		return broker.Fill{}, &broker.TerminalError{
			Op:     "place_order",
			Reason: "INSUFFICIENT_MARGIN",
			Err:    fmt.Errorf("need %.2f, free %.2f", need, e.acct.FreeMargin),
		}
	}

	e.trades[t.ID] = t
	if t.ClientOrderID != "" {
		e.byClient[t.ClientOrderID] = t.ID
	}
	if err := e.revalueLocked(); err != nil {
		return broker.Fill{}, err
	}

	return e.fill(t), nil
}

func (e *Engine) fill(t *Trade) broker.Fill {
	return broker.Fill{
		OrderID:    t.OrderID,
		TradeID:    t.ID,
		Instrument: t.Instrument,
		Units:      t.Units,
		Price:      t.EntryPrice,
		Time:       t.OpenTime,
	}
}

func (e *Engine) GetTradeStatus(ctx context.Context, tradeID string) (broker.TradeStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[tradeID]
	if !ok {
		return broker.TradeStatus{}, fmt.Errorf("trade_status %q: %w", tradeID, broker.ErrTradeNotFound)
	}
	st := broker.TradeStatus{
		TradeID:    t.ID,
		Instrument: t.Instrument,
		State:      broker.TradeOpen,
		Units:      t.Units,
		Entry:      t.EntryPrice,
	}
	if !t.Open {
		st.State = broker.TradeClosed
		st.ClosePrice = t.ClosePrice
		st.CloseTime = t.CloseTime
		st.RealizedPnL = t.RealizedPL
		st.Reason = t.CloseReason
	}
	return st, nil
}

func (e *Engine) GetAccountSummary(ctx context.Context) (broker.AccountSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	open := 0
	for _, t := range e.trades {
		if t.Open {
			open++
		}
	}
	return broker.AccountSummary{
		ID:              e.acct.ID,
		Currency:        e.acct.Currency,
		Balance:         e.acct.Balance,
		NAV:             e.acct.Equity,
		MarginUsed:      e.acct.MarginUsed,
		MarginAvailable: e.acct.FreeMargin,
		OpenTradeCount:  open,
	}, nil
}

func (e *Engine) FindOrder(ctx context.Context, clientOrderID string) (broker.Fill, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tid, ok := e.byClient[clientOrderID]
	if !ok {
		return broker.Fill{}, false, nil
	}
	return e.fill(e.trades[tid]), true, nil
}

// CloseTrade manually closes an open trade at the current market price.
func (e *Engine) CloseTrade(ctx context.Context, tradeID, reason string) error {
	if reason == "" {
		reason = "manual"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[tradeID]
	if !ok || !t.Open {
		return fmt.Errorf("close trade %q: %w", tradeID, broker.ErrTradeNotFound)
	}
	p, err := e.ticks.Last(t.Instrument)
	if err != nil {
		return fmt.Errorf("close trade: no price for %q: %w", t.Instrument, err)
	}
	if err := e.closeTradeLocked(t, t.closeSide(p), p.Time, reason); err != nil {
		return err
	}
	return e.revalueLocked()
}

// CloseAll closes every open trade at current prices. Trades without a
// price are reported individually and left open.
func (e *Engine) CloseAll(ctx context.Context) ([]broker.CloseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	open := e.openTradesLocked()
	results := make([]broker.CloseResult, 0, len(open))
	for _, t := range open {
		res := broker.CloseResult{TradeID: t.ID}
		p, err := e.ticks.Last(t.Instrument)
		if err != nil {
			res.Err = fmt.Errorf("no price for %q: %w", t.Instrument, err)
		} else if err := e.closeTradeLocked(t, t.closeSide(p), p.Time, "close_all"); err != nil {
			res.Err = err
		} else {
			res.Price = t.ClosePrice
			res.PnL = t.RealizedPL
		}
		results = append(results, res)
	}
	return results, e.revalueLocked()
}

func (e *Engine) OpenTrades(ctx context.Context) ([]broker.TradeStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	open := e.openTradesLocked()
	out := make([]broker.TradeStatus, 0, len(open))
	for _, t := range open {
		out = append(out, broker.TradeStatus{
			TradeID:       t.ID,
			ClientOrderID: t.ClientOrderID,
			Instrument:    t.Instrument,
			State:         broker.TradeOpen,
			Units:         t.Units,
			Entry:         t.EntryPrice,
			OpenTime:      t.OpenTime,
			StopLoss:      t.StopLoss,
			TakeProfit:    t.TakeProfit,
		})
	}
	return out, nil
}

func (e *Engine) openTradesLocked() []*Trade {
	open := make([]*Trade, 0, len(e.trades))
	for _, t := range e.trades {
		if t.Open {
			open = append(open, t)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open
}

// UpdatePrice records a quote, closes trades whose stop or target it
// crosses, then revalues the account and liquidates on a margin call.
func (e *Engine) UpdatePrice(p market.Tick) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ticks.Put(p)
	e.barsFor(p.Instrument).add(p.Time, p.Mid())

	for _, t := range e.openTradesLocked() {
		if t.Instrument != p.Instrument {
			continue
		}
		mark := t.closeSide(p)

		reason := ""
		switch {
		case t.hitStopLoss(mark):
			reason = "stop_loss"
		case t.hitTakeProfit(mark):
			reason = "take_profit"
		}
		if reason != "" {
			if err := e.closeTradeLocked(t, mark, p.Time, reason); err != nil {
				return err
			}
		}
	}

	if err := e.revalueLocked(); err != nil {
		return err
	}
	return e.enforceMarginLocked()
}

func (e *Engine) closeTradeLocked(t *Trade, closePrice float64, closeTime time.Time, reason string) error {
	_, rate, err := e.rate(t.Instrument, closePrice)
	if err != nil {
		return err
	}
	if closeTime.IsZero() {
		closeTime = time.Now().UTC()
	}

	t.ClosePrice = closePrice
	t.CloseTime = closeTime
	t.RealizedPL = UnrealizedPL(*t, closePrice, rate)
	t.CloseReason = reason
	t.Open = false

	e.acct.Balance += t.RealizedPL
	return nil
}

// revalueLocked recomputes equity and margin from open trades.
func (e *Engine) revalueLocked() error {
	equity := e.acct.Balance
	var used float64

	for _, t := range e.openTradesLocked() {
		p, err := e.ticks.Last(t.Instrument)
		if err != nil {
			return err
		}
		mark := t.closeSide(p)
		meta, rate, err := e.rate(t.Instrument, mark)
		if err != nil {
			return err
		}
		equity += UnrealizedPL(*t, mark, rate)
		used += TradeMargin(t.Units, p.Mid(), meta, rate)
	}

	e.acct.Equity = equity
	e.acct.MarginUsed = used
	e.acct.FreeMargin = equity - used
	e.acct.MarginLevel = 0
	if used > 0 {
		e.acct.MarginLevel = equity / used
	}
	return nil
}

// enforceMarginLocked closes the worst trade until equity covers margin.
func (e *Engine) enforceMarginLocked() error {
	for e.acct.MarginUsed > 0 && e.acct.Equity < e.acct.MarginUsed {
		var (
			worst   *Trade
			worstPL float64
		)
		for _, t := range e.openTradesLocked() {
			p, _ := e.ticks.Last(t.Instrument)
			mark := t.closeSide(p)
			_, rate, _ := e.rate(t.Instrument, mark)
			if pl := UnrealizedPL(*t, mark, rate); worst == nil || pl < worstPL {
				worst, worstPL = t, pl
			}
		}
		if worst == nil {
			return nil
		}

		p, _ := e.ticks.Last(worst.Instrument)
		if err := e.closeTradeLocked(worst, worst.closeSide(p), p.Time, "liquidation"); err != nil {
			return err
		}
		if err := e.revalueLocked(); err != nil {
			return err
		}
	}
	return nil
}
