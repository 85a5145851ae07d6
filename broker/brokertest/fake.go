// Package brokertest provides a scriptable in-memory broker.Gateway for
// tests of code that trades through a gateway.
package brokertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/autotrader/broker"
)

// Fake fills every order at the requested stop/target midpoint unless
// PlaceFunc is set. It is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	PlaceFunc func(ctx context.Context, req broker.OrderRequest) (broker.Fill, error)
	FindFunc  func(ctx context.Context, clientOrderID string) (broker.Fill, bool, error)

	Balance float64
	Fills   map[string]broker.Fill // by client order id
	Status  map[string]broker.TradeStatus
	Closed  []string

	placeCalls    atomic.Int64
	closeAllCalls atomic.Int64
	nextID        atomic.Int64
}

func New(balance float64) *Fake {
	return &Fake{
		Balance: balance,
		Fills:   make(map[string]broker.Fill),
		Status:  make(map[string]broker.TradeStatus),
	}
}

func (f *Fake) PlaceCalls() int { return int(f.placeCalls.Load()) }

func (f *Fake) CloseAllCalls() int { return int(f.closeAllCalls.Load()) }

func (f *Fake) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	f.placeCalls.Add(1)
	if f.PlaceFunc != nil {
		fill, err := f.PlaceFunc(ctx, req)
		if err == nil {
			f.record(req, fill)
		}
		return fill, err
	}
	fill := broker.Fill{
		OrderID:    fmt.Sprintf("O%d", f.nextID.Add(1)),
		TradeID:    fmt.Sprintf("T%d", f.nextID.Load()),
		Instrument: req.Instrument,
		Units:      req.Units,
		Price:      (req.StopLoss + req.TakeProfit) / 2,
		Time:       time.Now().UTC(),
	}
	f.record(req, fill)
	return fill, nil
}

func (f *Fake) record(req broker.OrderRequest, fill broker.Fill) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ClientOrderID != "" {
		f.Fills[req.ClientOrderID] = fill
	}
	inst := fill.Instrument
	if inst == "" {
		inst = req.Instrument
	}
	f.Status[fill.TradeID] = broker.TradeStatus{
		TradeID:       fill.TradeID,
		ClientOrderID: req.ClientOrderID,
		Instrument:    inst,
		State:         broker.TradeOpen,
		Units:         fill.Units,
		Entry:         fill.Price,
		OpenTime:      fill.Time,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
	}
}

// Seed records a trade that is already open, as if placed by an earlier
// process.
func (f *Fake) Seed(st broker.TradeStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st.State = broker.TradeOpen
	f.Status[st.TradeID] = st
}

// CloseTrade marks a trade closed as a stop or target hit would.
func (f *Fake) CloseTrade(tradeID string, price float64, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.Status[tradeID]
	st.TradeID = tradeID
	st.State = broker.TradeClosed
	st.ClosePrice = price
	st.CloseTime = time.Now().UTC()
	st.Reason = reason
	f.Status[tradeID] = st
}

func (f *Fake) GetTradeStatus(_ context.Context, tradeID string) (broker.TradeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.Status[tradeID]
	if !ok {
		return broker.TradeStatus{}, fmt.Errorf("%w: %s", broker.ErrTradeNotFound, tradeID)
	}
	return st, nil
}

func (f *Fake) GetAccountSummary(context.Context) (broker.AccountSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := 0
	for _, st := range f.Status {
		if st.State == broker.TradeOpen {
			open++
		}
	}
	return broker.AccountSummary{
		ID:              "fake",
		Currency:        "USD",
		Balance:         f.Balance,
		NAV:             f.Balance,
		MarginAvailable: f.Balance,
		OpenTradeCount:  open,
	}, nil
}

func (f *Fake) CloseAll(context.Context) ([]broker.CloseResult, error) {
	f.closeAllCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broker.CloseResult
	for id, st := range f.Status {
		if st.State != broker.TradeOpen {
			continue
		}
		st.State = broker.TradeClosed
		st.ClosePrice = st.Entry
		st.CloseTime = time.Now().UTC()
		st.Reason = "close_all"
		f.Status[id] = st
		f.Closed = append(f.Closed, id)
		out = append(out, broker.CloseResult{TradeID: id, Price: st.Entry})
	}
	return out, nil
}

// OpenTrades lists trades recorded as open, sorted by id.
func (f *Fake) OpenTrades(context.Context) ([]broker.TradeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broker.TradeStatus
	for _, st := range f.Status {
		if st.State == broker.TradeOpen {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out, nil
}

func (f *Fake) FindOrder(ctx context.Context, clientOrderID string) (broker.Fill, bool, error) {
	if f.FindFunc != nil {
		return f.FindFunc(ctx, clientOrderID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fill, ok := f.Fills[clientOrderID]
	return fill, ok, nil
}
