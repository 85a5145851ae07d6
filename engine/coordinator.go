// Package engine runs the execution pipeline: the coordinator that turns a
// signal into at most one broker order, the reconciler that observes
// closes and orphaned orders, and the scanner that generates signals.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/internal/daystats"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/logging"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/pkg/id"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/signal"
)

type State string

const (
	StateReceived   State = "received"
	StateValidated  State = "validated"
	StateSizing     State = "sizing"
	StateSubmitting State = "submitting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateRejected   State = "rejected"
	StateFailed     State = "failed"
)

const (
	ReasonInternal       = "internal_error"
	ReasonLedgerConflict = "ledger_conflict"
	ReasonEmergency      = "emergency_close"
)

// Result is the terminal state of one Submit.
type Result struct {
	SignalID      string            `json:"signal_id"`
	State         State             `json:"state"`
	Reason        string            `json:"reason,omitempty"`
	Detail        string            `json:"detail,omitempty"`
	TradeID       string            `json:"trade_id,omitempty"`
	ClientOrderID string            `json:"client_order_id,omitempty"`
	Lots          float64           `json:"lots,omitempty"`
	Units         float64           `json:"units,omitempty"`
	Risk          float64           `json:"risk,omitempty"`
	FillPrice     float64           `json:"fill_price,omitempty"`
	Orphaned      bool              `json:"orphaned,omitempty"`
	Breaker       risk.BreakerState `json:"breaker"`
}

type Options struct {
	Safety          config.SafetyConfig
	Sizing          config.SizingConfig
	AccountCurrency string

	Ledger  *ledger.Ledger
	Gateway broker.Gateway
	Journal journal.Journal
	Stats   *daystats.Store
	Logger  *logging.Logger

	// SubmitTimeout bounds an order submission including retries. The
	// submission is detached from the caller's cancellation so shutdown
	// cannot abandon an order mid-flight.
	SubmitTimeout time.Duration
	CloseTimeout  time.Duration
	MaxAlerts     int
	Now           func() time.Time

	OnAlert func(risk.Alert)
}

// Coordinator owns the Received → Open state machine. It is safe for
// concurrent use; all shared state lives in the ledger.
type Coordinator struct {
	cfg     config.SafetyConfig
	ccy     string
	sizer   risk.Sizer
	breaker risk.Breaker

	ledger  *ledger.Ledger
	gw      broker.Gateway
	journal journal.Journal
	stats   *daystats.Store
	log     *logrus.Entry
	now     func() time.Time

	submitTimeout time.Duration
	closeTimeout  time.Duration
	onAlert       func(risk.Alert)

	mu          sync.Mutex // guards lastState, lastVersion and alerts
	lastState   risk.BreakerState
	lastVersion uint64
	alerts      []risk.Alert
	maxAlerts   int

	halting atomic.Bool
	closing sync.WaitGroup
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = time.Minute
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = time.Minute
	}
	if opts.MaxAlerts <= 0 {
		opts.MaxAlerts = 20
	}
	if opts.AccountCurrency == "" {
		opts.AccountCurrency = "USD"
	}
	c := &Coordinator{
		cfg:           opts.Safety,
		ccy:           opts.AccountCurrency,
		sizer:         risk.NewSizer(opts.Sizing),
		breaker:       risk.NewBreaker(opts.Safety),
		ledger:        opts.Ledger,
		gw:            opts.Gateway,
		journal:       opts.Journal,
		stats:         opts.Stats,
		log:           opts.Logger.WithComponent("engine"),
		now:           opts.Now,
		submitTimeout: opts.SubmitTimeout,
		closeTimeout:  opts.CloseTimeout,
		onAlert:       opts.OnAlert,
		maxAlerts:     opts.MaxAlerts,
	}
	snap := c.ledger.Snapshot()
	c.lastState = c.breaker.FromSnapshot(snap)
	c.lastVersion = snap.Version
	return c
}

func (c *Coordinator) Ledger() *ledger.Ledger { return c.ledger }

// Breaker evaluates the circuit state from a fresh snapshot.
func (c *Coordinator) Breaker() risk.BreakerState {
	return c.breaker.FromSnapshot(c.ledger.Snapshot())
}

// Submit drives one signal to a terminal state. It never panics and never
// returns an intermediate state.
func (c *Coordinator) Submit(ctx context.Context, sig signal.Signal) (res Result) {
	start := time.Now()
	res = Result{SignalID: sig.ID, State: StateReceived}
	log := c.log.WithFields(logrus.Fields{
		"signal_id":  sig.ID,
		"instrument": sig.Instrument,
		"source":     sig.Source,
	})

	var (
		reserved  *ledger.Reservation
		submitted bool
		orphan    ledger.Orphan
	)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("submit panicked")
			if reserved != nil {
				if submitted {
					_ = c.ledger.MarkOrphan(*reserved, orphan)
					res.Orphaned = true
				} else {
					c.ledger.Release(*reserved)
				}
			}
			res = c.fail(sig, res, ReasonInternal, fmt.Sprint(r))
		}
		metricSubmitSeconds.Observe(time.Since(start).Seconds())
	}()
	metricSignals.WithLabelValues(string(sig.Source)).Inc()

	if err := sig.Validate(); err != nil {
		return c.reject(sig, res, risk.Reject(risk.ReasonInvalidSignal, "%v", err))
	}

	snap := c.ledger.Snapshot()
	state := c.observe(ctx, snap)
	res.Breaker = state

	d := risk.Evaluate(c.cfg, sig, risk.Input{
		Daily:     snap.Daily,
		Balance:   snap.Balance,
		State:     state,
		OpenCount: snap.SlotsInUse(),
	})
	if !d.Allowed {
		return c.reject(sig, res, d.Rejection)
	}
	res.State = StateValidated
	log.WithFields(logrus.Fields{
		"state":         res.State,
		"breaker":       state,
		"risk_fraction": d.RiskFraction,
	}).Debug("signal passed safety checks")

	res.State = StateSizing
	meta, err := market.Lookup(sig.Instrument)
	if err != nil {
		return c.reject(sig, res, risk.Reject(risk.ReasonUnknownInstrument, "%v", err))
	}
	pipValue, err := market.PipValuePerLot(meta, c.ccy, sig.Entry)
	if err != nil {
		return c.reject(sig, res, risk.Reject(risk.ReasonUnknownInstrument, "%v", err))
	}
	stopPips := risk.StopPips(meta, sig.Entry, sig.Stop)
	lots, err := c.sizer.Compute(snap.Balance, d.RiskFraction, stopPips, pipValue)
	switch {
	case errors.Is(err, risk.ErrInvalidStopDistance):
		return c.reject(sig, res, risk.Reject(risk.ReasonInvalidStop, "stop %.1f pips", stopPips))
	case err != nil:
		return c.reject(sig, res, risk.Reject(risk.ReasonUnknownInstrument, "%v", err))
	case lots <= 0 || c.sizer.TooSmall(lots):
		return c.reject(sig, res, risk.Reject(risk.ReasonSizeTooSmall, "%.2f lots for %.1f pip stop", lots, stopPips))
	}
	planned := risk.PlannedRisk(lots, stopPips, pipValue)
	res.Lots = lots
	res.Risk = planned

	resv, err := c.ledger.Reserve(planned, risk.Admission(c.cfg, c.breaker, planned))
	if err != nil {
		var rej *risk.Rejection
		if errors.As(err, &rej) {
			return c.reject(sig, res, rej)
		}
		return c.fail(sig, res, ReasonLedgerConflict, err.Error())
	}
	reserved = &resv

	res.State = StateSubmitting
	req := broker.OrderRequest{
		Instrument:    sig.Instrument,
		Direction:     sig.Direction,
		Units:         market.LotsToUnits(lots, sig.Direction),
		StopLoss:      sig.Stop,
		TakeProfit:    sig.Target,
		ClientOrderID: id.ClientOrderID(sig.ID),
	}
	res.ClientOrderID = req.ClientOrderID
	res.Units = req.Units
	orphan = ledger.Orphan{
		ClientOrderID: req.ClientOrderID,
		Instrument:    sig.Instrument,
		Direction:     sig.Direction,
		Lots:          lots,
		Units:         req.Units,
		Stop:          sig.Stop,
		Target:        sig.Target,
		SubmittedAt:   c.now(),
		Signal:        sig,
	}

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.submitTimeout)
	submitted = true
	fill, err := c.gw.PlaceOrder(bctx, req)
	cancel()
	if err != nil {
		if broker.IsAmbiguous(err) {
			if merr := c.ledger.MarkOrphan(resv, orphan); merr != nil {
				log.WithError(merr).Error("mark orphan")
			}
			reserved = nil
			res.Orphaned = true
			log.WithError(err).WithField("client_order_id", req.ClientOrderID).
				Warn("order state unknown, left for reconciliation")
			return c.fail(sig, res, broker.ReasonAmbiguous, err.Error())
		}
		c.ledger.Release(resv)
		reserved = nil
		return c.fail(sig, res, broker.Reason(err), err.Error())
	}

	trade := ledger.OpenTrade{
		TradeID:        fill.TradeID,
		ClientOrderID:  req.ClientOrderID,
		Instrument:     sig.Instrument,
		Direction:      sig.Direction,
		RequestedEntry: sig.Entry,
		Entry:          fill.Price,
		Lots:           lots,
		Units:          fill.Units,
		Stop:           sig.Stop,
		Target:         sig.Target,
		Risk:           planned,
		OpenTime:       fill.Time,
		Signal:         sig,
	}
	if trade.Units == 0 {
		trade.Units = req.Units
	}
	if trade.OpenTime.IsZero() {
		trade.OpenTime = c.now()
	}
	if err := c.ledger.RegisterOpen(resv, trade); err != nil {
		// The broker holds a position the ledger refused. Keep the slot
		// as an orphan so the reconciler can settle it.
		_ = c.ledger.MarkOrphan(resv, orphan)
		reserved = nil
		res.Orphaned = true
		log.WithError(err).WithField("trade_id", fill.TradeID).Error("register open")
		return c.fail(sig, res, ReasonLedgerConflict, err.Error())
	}
	reserved = nil

	res.State = StateOpen
	res.TradeID = fill.TradeID
	res.FillPrice = fill.Price
	res.Units = trade.Units
	metricOrdersPlaced.Inc()
	c.record(sig, res, journal.StageOpen)
	log.WithFields(logrus.Fields{
		"trade_id": fill.TradeID,
		"lots":     lots,
		"price":    fill.Price,
		"risk":     planned,
	}).Info("trade opened")
	return res
}

func (c *Coordinator) reject(sig signal.Signal, res Result, rej *risk.Rejection) Result {
	res.State = StateRejected
	res.Reason = string(rej.Reason)
	res.Detail = rej.Detail
	metricRejections.WithLabelValues(res.Reason).Inc()
	c.record(sig, res, journal.StageRejected)
	c.log.WithFields(logrus.Fields{
		"signal_id": sig.ID,
		"reason":    res.Reason,
	}).Info(rej.Error())
	return res
}

func (c *Coordinator) fail(sig signal.Signal, res Result, reason, detail string) Result {
	res.State = StateFailed
	res.Reason = reason
	res.Detail = detail
	metricOrdersFailed.WithLabelValues(reason).Inc()
	c.record(sig, res, journal.StageFailed)
	c.log.WithFields(logrus.Fields{
		"signal_id": sig.ID,
		"reason":    reason,
		"orphaned":  res.Orphaned,
	}).Warn(detail)
	return res
}

func (c *Coordinator) record(sig signal.Signal, res Result, stage journal.Stage) {
	e := journal.Entry{
		Time:          c.now(),
		Stage:         stage,
		SignalID:      sig.ID,
		Source:        string(sig.Source),
		Instrument:    sig.Instrument,
		Direction:     string(sig.Direction),
		TradeID:       res.TradeID,
		ClientOrderID: res.ClientOrderID,
		Reason:        res.Reason,
		Detail:        res.Detail,
		Confidence:    sig.Confidence,
		EntryPrice:    sig.Entry,
		Stop:          sig.Stop,
		Target:        sig.Target,
		Lots:          res.Lots,
		Units:         res.Units,
		Risk:          res.Risk,
		FillPrice:     res.FillPrice,
	}
	c.write(e)
}

func (c *Coordinator) write(e journal.Entry) {
	e = e.Stamp(c.now())
	if err := c.journal.Record(e); err != nil {
		c.log.WithError(err).WithField("stage", e.Stage).Warn("journal record")
	}
}

// Close applies a broker-observed close to the ledger. Concurrent closes of
// the same trade are safe: only the first is applied and journaled.
func (c *Coordinator) Close(ctx context.Context, tradeID string, price float64, at time.Time, reason string) (ledger.ClosedTrade, ledger.CloseResult) {
	if at.IsZero() {
		at = c.now()
	}
	ct, applied := c.ledger.RegisterClose(tradeID, price, at, reason)
	if applied != ledger.Applied {
		return ct, applied
	}

	metricTradesClosed.WithLabelValues(string(ct.Outcome)).Inc()
	c.write(journal.Entry{
		Time:          at,
		Stage:         journal.StageClosed,
		SignalID:      ct.Signal.ID,
		Source:        string(ct.Signal.Source),
		Instrument:    ct.Instrument,
		Direction:     string(ct.Direction),
		TradeID:       ct.TradeID,
		ClientOrderID: ct.ClientOrderID,
		Reason:        reason,
		Confidence:    ct.Signal.Confidence,
		EntryPrice:    ct.RequestedEntry,
		Stop:          ct.Stop,
		Target:        ct.Target,
		Lots:          ct.Lots,
		Units:         ct.Units,
		Risk:          ct.Risk,
		FillPrice:     ct.Entry,
		ClosePrice:    price,
		PnL:           ct.RealizedPnL,
		Outcome:       string(ct.Outcome),
	})
	c.log.WithFields(logrus.Fields{
		"trade_id": tradeID,
		"pnl":      ct.RealizedPnL,
		"outcome":  ct.Outcome,
		"reason":   reason,
	}).Info("trade closed")

	c.Observe(ctx)
	if err := c.SaveStats(); err != nil {
		c.log.WithError(err).Warn("save daily stats")
	}
	return ct, applied
}

// Adopt registers an orphaned order the broker turned out to have filled.
func (c *Coordinator) Adopt(o ledger.Orphan, fill broker.Fill) error {
	trade := ledger.OpenTrade{
		TradeID:        fill.TradeID,
		ClientOrderID:  o.ClientOrderID,
		Instrument:     o.Instrument,
		Direction:      o.Direction,
		RequestedEntry: o.Signal.Entry,
		Entry:          fill.Price,
		Lots:           o.Lots,
		Units:          fill.Units,
		Stop:           o.Stop,
		Target:         o.Target,
		Risk:           o.Risk,
		OpenTime:       fill.Time,
		Signal:         o.Signal,
	}
	if trade.Units == 0 {
		trade.Units = o.Units
	}
	if trade.OpenTime.IsZero() {
		trade.OpenTime = c.now()
	}
	if err := c.ledger.AdoptOrphan(o.ClientOrderID, trade); err != nil {
		return err
	}
	c.record(o.Signal, Result{
		TradeID:       fill.TradeID,
		ClientOrderID: o.ClientOrderID,
		Reason:        "adopted",
		Lots:          o.Lots,
		Units:         trade.Units,
		Risk:          o.Risk,
		FillPrice:     fill.Price,
	}, journal.StageOpen)
	c.log.WithFields(logrus.Fields{
		"trade_id":        fill.TradeID,
		"client_order_id": o.ClientOrderID,
	}).Info("orphaned order adopted")
	return nil
}

// Observe recomputes the breaker, records transitions and runs the
// emergency close on entry into HALTED.
func (c *Coordinator) Observe(ctx context.Context) risk.BreakerState {
	return c.observe(ctx, c.ledger.Snapshot())
}

// observe ignores snapshots older than the last one it saw, so a caller
// holding a stale view cannot move the breaker backwards.
func (c *Coordinator) observe(ctx context.Context, snap ledger.Snapshot) risk.BreakerState {
	state := c.breaker.FromSnapshot(snap)

	c.mu.Lock()
	if snap.Version < c.lastVersion {
		current := c.lastState
		c.mu.Unlock()
		return current
	}
	c.lastVersion = snap.Version
	prev := c.lastState
	c.lastState = state
	observeSnapshot(snap, state)
	var alert risk.Alert
	if state != prev {
		alert = risk.Alert{
			Time:     c.now(),
			From:     prev,
			To:       state,
			Balance:  snap.Balance,
			Drawdown: snap.Drawdown(),
		}
		if state == risk.Halted {
			alert.Message = fmt.Sprintf("emergency stop: drawdown %.2f%% from peak %.2f",
				100*snap.Drawdown(), snap.PeakBalance)
		}
		c.alerts = append(c.alerts, alert)
		if len(c.alerts) > c.maxAlerts {
			c.alerts = c.alerts[len(c.alerts)-c.maxAlerts:]
		}
	}
	c.mu.Unlock()

	if state == prev {
		return state
	}
	c.log.WithFields(logrus.Fields{
		"from":     prev,
		"to":       state,
		"balance":  snap.Balance,
		"drawdown": snap.Drawdown(),
	}).Warn("circuit breaker changed state")
	if c.onAlert != nil {
		c.onAlert(alert)
	}
	if state == risk.Halted && c.cfg.CloseAllOnHalt {
		c.startEmergencyClose(ctx)
	}
	return state
}

// startEmergencyClose runs the close-all in the background so the caller,
// often a webhook request, is not held for the broker round trips. At most
// one runs at a time.
func (c *Coordinator) startEmergencyClose(ctx context.Context) {
	if !c.halting.CompareAndSwap(false, true) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	c.closing.Add(1)
	go func() {
		defer c.closing.Done()
		defer c.halting.Store(false)
		c.emergencyClose(ctx)
	}()
}

// Wait blocks until background emergency closes have finished.
func (c *Coordinator) Wait() {
	c.closing.Wait()
}

// emergencyClose asks the broker to flatten every position. Failures are
// logged per trade; HALTED holds regardless because it is derived from the
// drawdown, not from the result of this call.
func (c *Coordinator) emergencyClose(ctx context.Context) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.closeTimeout)
	defer cancel()
	results, err := c.gw.CloseAll(cctx)
	if err != nil {
		c.log.WithError(err).Error("emergency close-all failed")
	}
	closed := 0
	for _, r := range results {
		if r.Err != nil {
			c.log.WithError(r.Err).WithField("trade_id", r.TradeID).Error("emergency close failed")
			continue
		}
		closed++
		c.Close(ctx, r.TradeID, r.Price, c.now(), ReasonEmergency)
	}
	c.log.WithFields(logrus.Fields{"closed": closed, "requested": len(results)}).Warn("emergency close-all done")
}

// Alerts returns the retained breaker alerts, oldest first.
func (c *Coordinator) Alerts() []risk.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]risk.Alert(nil), c.alerts...)
}

// RestoreStats seeds the ledger and alerts from the stats file of a
// previous run. The breaker is re-derived from the restored peak without
// raising a transition, so a halted process comes back halted.
func (c *Coordinator) RestoreStats(prev daystats.File) {
	c.ledger.Restore(prev.Daily, prev.Lifetime, prev.PeakBalance)
	c.RestoreAlerts(prev.Alerts)

	snap := c.ledger.Snapshot()
	c.mu.Lock()
	c.lastState = c.breaker.FromSnapshot(snap)
	c.lastVersion = snap.Version
	c.mu.Unlock()
}

// AdoptOpenTrades registers trades already open at the broker that the
// ledger does not know, typically positions left by a previous run, so they
// hold a slot and their risk and their closes reach the daily stats. Risk
// is the loss at the trade's stop; a trade without a stop is charged the
// largest risk a single trade may carry. When the breaker is already
// halted the adopted positions are flattened.
func (c *Coordinator) AdoptOpenTrades(ctx context.Context) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, c.closeTimeout)
	open, err := c.gw.OpenTrades(cctx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("list open trades: %w", err)
	}

	snap := c.ledger.Snapshot()
	known := make(map[string]bool, len(snap.Open))
	for _, t := range snap.Open {
		known[t.TradeID] = true
	}

	adopted := 0
	for _, st := range open {
		if known[st.TradeID] {
			continue
		}
		trade := c.existingTrade(st, snap.Balance)
		if err := c.ledger.AdoptExisting(trade); err != nil {
			c.log.WithError(err).WithField("trade_id", st.TradeID).Warn("adopt open trade")
			continue
		}
		adopted++
		c.record(trade.Signal, Result{
			TradeID:       trade.TradeID,
			ClientOrderID: trade.ClientOrderID,
			Reason:        "adopted_at_startup",
			Lots:          trade.Lots,
			Units:         trade.Units,
			Risk:          trade.Risk,
			FillPrice:     trade.Entry,
		}, journal.StageOpen)
		c.log.WithFields(logrus.Fields{
			"trade_id":   trade.TradeID,
			"instrument": trade.Instrument,
			"risk":       trade.Risk,
		}).Warn("adopted trade already open at broker")
	}

	if adopted > 0 && c.cfg.CloseAllOnHalt && c.Breaker() == risk.Halted {
		c.startEmergencyClose(ctx)
	}
	return adopted, nil
}

func (c *Coordinator) existingTrade(st broker.TradeStatus, balance float64) ledger.OpenTrade {
	dir := market.Long
	if st.Units < 0 {
		dir = market.Short
	}
	lots := market.UnitsToLots(st.Units)
	trade := ledger.OpenTrade{
		TradeID:        st.TradeID,
		ClientOrderID:  st.ClientOrderID,
		Instrument:     st.Instrument,
		Direction:      dir,
		RequestedEntry: st.Entry,
		Entry:          st.Entry,
		Lots:           lots,
		Units:          st.Units,
		Stop:           st.StopLoss,
		Target:         st.TakeProfit,
		OpenTime:       st.OpenTime,
		Signal: signal.Signal{
			Instrument: st.Instrument,
			Direction:  dir,
			Entry:      st.Entry,
			Stop:       st.StopLoss,
			Target:     st.TakeProfit,
		},
	}
	if trade.OpenTime.IsZero() {
		trade.OpenTime = c.now()
	}

	trade.Risk = balance * c.cfg.MaxRiskPerTrade
	if meta, err := market.Lookup(st.Instrument); err == nil && st.StopLoss > 0 {
		if pv, err := market.PipValuePerLot(meta, c.ccy, st.Entry); err == nil {
			trade.Risk = risk.PlannedRisk(lots, risk.StopPips(meta, st.Entry, st.StopLoss), pv)
		}
	}
	return trade
}

// RestoreAlerts seeds alerts saved by a previous run.
func (c *Coordinator) RestoreAlerts(alerts []risk.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(append([]risk.Alert(nil), alerts...), c.alerts...)
	if len(c.alerts) > c.maxAlerts {
		c.alerts = c.alerts[len(c.alerts)-c.maxAlerts:]
	}
}

// ResetDay clears today's counters at the operator's request. The broker
// balance becomes the day-start balance when it can be fetched.
func (c *Coordinator) ResetDay(ctx context.Context) ledger.DailyStats {
	balance := 0.0
	cctx, cancel := context.WithTimeout(ctx, c.closeTimeout)
	sum, err := c.gw.GetAccountSummary(cctx)
	cancel()
	if err != nil {
		c.log.WithError(err).Warn("reset day: account summary unavailable, keeping ledger balance")
	} else {
		balance = sum.Balance
	}
	daily := c.ledger.ResetDay(balance)
	c.log.WithField("day_start_balance", daily.DayStartBalance).Info("daily stats reset")
	c.Observe(ctx)
	if err := c.SaveStats(); err != nil {
		c.log.WithError(err).Warn("save daily stats")
	}
	return daily
}

// Status is the operator view of the pipeline.
type Status struct {
	Breaker       risk.BreakerState `json:"breaker"`
	MinConfidence float64           `json:"min_confidence"`
	RiskFraction  float64           `json:"risk_fraction"`
	Ledger        ledger.Snapshot   `json:"ledger"`
	Alerts        []risk.Alert      `json:"alerts"`
}

func (c *Coordinator) Status() Status {
	snap := c.ledger.Snapshot()
	state := c.breaker.FromSnapshot(snap)
	return Status{
		Breaker:       state,
		MinConfidence: risk.MinConfidence(c.cfg, state),
		RiskFraction:  risk.RiskFraction(c.cfg, state),
		Ledger:        snap,
		Alerts:        c.Alerts(),
	}
}

// SaveStats writes today's stats file. It is a no-op without a store.
func (c *Coordinator) SaveStats() error {
	if c.stats == nil {
		return nil
	}
	snap := c.ledger.Snapshot()
	return c.stats.Save(c.stats.Build(snap, c.breaker.FromSnapshot(snap), c.Alerts()))
}
