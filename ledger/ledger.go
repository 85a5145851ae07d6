// Package ledger owns the bot's mutable trading state: open trades,
// admission reservations, orphaned orders and the daily and lifetime
// counters. Every method takes the same mutex, and nothing here performs
// I/O, so callers may hold results across broker calls but never the lock.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

var (
	ErrUnknownReservation = errors.New("unknown reservation")
	ErrUnknownOrphan      = errors.New("unknown orphan")
	ErrDuplicateTrade     = errors.New("trade already open")
)

const recentLimit = 50

type Options struct {
	AccountCurrency string
	Location        *time.Location
	Balance         float64
	Now             func() time.Time
}

type Ledger struct {
	mu sync.Mutex

	ccy string
	loc *time.Location
	now func() time.Time

	balance float64
	peak    float64
	daily   DailyStats
	life    LifetimeStats

	open    map[string]OpenTrade
	pending map[uint64]float64
	orphans map[string]Orphan
	recent  []ClosedTrade
	nextRes uint64
	version uint64
}

func New(opts Options) *Ledger {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AccountCurrency == "" {
		opts.AccountCurrency = "USD"
	}
	l := &Ledger{
		ccy:     opts.AccountCurrency,
		loc:     opts.Location,
		now:     opts.Now,
		balance: opts.Balance,
		peak:    opts.Balance,
		open:    make(map[string]OpenTrade),
		pending: make(map[uint64]float64),
		orphans: make(map[string]Orphan),
	}
	l.daily = DailyStats{Day: l.today(), DayStartBalance: opts.Balance}
	return l
}

func (l *Ledger) today() string {
	return l.now().In(l.loc).Format(time.DateOnly)
}

// rollover starts a fresh day when the calendar day has changed.
func (l *Ledger) rollover() {
	day := l.today()
	if l.daily.Day == day {
		return
	}
	l.daily = DailyStats{Day: day, DayStartBalance: l.balance}
	l.version++
}

// Restore seeds state persisted by a previous run. Daily stats for a
// different day are ignored. The peak balance survives restarts so a
// drawdown halt cannot be cleared by restarting the process.
func (l *Ledger) Restore(daily DailyStats, life LifetimeStats, peak float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	l.life = life
	if daily.Day == l.daily.Day {
		l.daily = daily
	}
	l.peak = max(l.peak, peak, l.balance)
	l.version++
}

// Reserve claims an admission slot carrying risk. The guard runs inside
// the critical section against the current state; if it returns an error
// nothing is reserved and that error is returned unchanged.
func (l *Ledger) Reserve(risk float64, guard func(Snapshot) error) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	if guard != nil {
		if err := guard(l.snapshot(false)); err != nil {
			return Reservation{}, err
		}
	}
	l.nextRes++
	l.pending[l.nextRes] = risk
	l.version++
	return Reservation{id: l.nextRes, Risk: risk}, nil
}

// Release gives back a reservation whose order definitely did not reach the
// broker. Releasing twice is harmless.
func (l *Ledger) Release(res Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, res.id)
	l.version++
}

// RegisterOpen converts a reservation into an open trade exactly once.
func (l *Ledger) RegisterOpen(res Reservation, trade OpenTrade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	risk, ok := l.pending[res.id]
	if !ok {
		return ErrUnknownReservation
	}
	if _, dup := l.open[trade.TradeID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTrade, trade.TradeID)
	}
	delete(l.pending, res.id)
	if trade.Risk == 0 {
		trade.Risk = risk
	}
	l.open[trade.TradeID] = trade
	l.daily.OpenedToday++
	l.version++
	return nil
}

// AdoptExisting registers a trade that was already open at the broker when
// the process started. It takes a slot and carries its risk but does not
// count as opened today.
func (l *Ledger) AdoptExisting(trade OpenTrade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.open[trade.TradeID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTrade, trade.TradeID)
	}
	l.open[trade.TradeID] = trade
	l.version++
	return nil
}

// MarkOrphan moves a reservation to the orphan set, keeping its slot.
func (l *Ledger) MarkOrphan(res Reservation, o Orphan) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	risk, ok := l.pending[res.id]
	if !ok {
		return ErrUnknownReservation
	}
	delete(l.pending, res.id)
	o.Risk = risk
	l.orphans[o.ClientOrderID] = o
	l.version++
	return nil
}

// AdoptOrphan records that the broker did fill an orphaned order.
func (l *Ledger) AdoptOrphan(clientOrderID string, trade OpenTrade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	o, ok := l.orphans[clientOrderID]
	if !ok {
		return ErrUnknownOrphan
	}
	if _, dup := l.open[trade.TradeID]; dup {
		delete(l.orphans, clientOrderID)
		return fmt.Errorf("%w: %s", ErrDuplicateTrade, trade.TradeID)
	}
	delete(l.orphans, clientOrderID)
	if trade.Risk == 0 {
		trade.Risk = o.Risk
	}
	l.open[trade.TradeID] = trade
	l.daily.OpenedToday++
	l.version++
	return nil
}

// AbandonOrphan frees the slot of an order the broker never saw.
func (l *Ledger) AbandonOrphan(clientOrderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orphans[clientOrderID]; !ok {
		return false
	}
	delete(l.orphans, clientOrderID)
	l.version++
	return true
}

// RegisterClose moves a trade from open to closed and applies its P/L to
// the balance and counters in the same critical section. Unknown or
// already-closed ids return AlreadyClosed and change nothing.
func (l *Ledger) RegisterClose(tradeID string, closePrice float64, closeTime time.Time, reason string) (ClosedTrade, CloseResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.open[tradeID]
	if !ok {
		return ClosedTrade{}, AlreadyClosed
	}
	l.rollover()
	delete(l.open, tradeID)

	pnl := l.pnl(t, closePrice)
	ct := ClosedTrade{
		OpenTrade:   t,
		ClosePrice:  closePrice,
		CloseTime:   closeTime,
		RealizedPnL: pnl,
		Outcome:     Loss,
		Reason:      reason,
	}
	if pnl > 0 {
		ct.Outcome = Win
	}

	l.daily.TradesToday++
	l.daily.DailyPnL += pnl
	l.life.TotalTrades++
	l.life.RealizedPnL += pnl
	if ct.Outcome == Win {
		l.daily.WinsToday++
		l.daily.ConsecutiveLosses = 0
		l.life.Wins++
	} else {
		l.daily.LossesToday++
		l.daily.ConsecutiveLosses++
		l.life.Losses++
	}
	if l.life.TotalTrades == 1 {
		l.life.BestTrade, l.life.WorstTrade = pnl, pnl
	} else {
		l.life.BestTrade = max(l.life.BestTrade, pnl)
		l.life.WorstTrade = min(l.life.WorstTrade, pnl)
	}

	l.setBalance(l.balance + pnl)

	l.recent = append(l.recent, ct)
	if len(l.recent) > recentLimit {
		l.recent = l.recent[len(l.recent)-recentLimit:]
	}
	return ct, Applied
}

// pnl is signed units times the price move, converted to account currency
// at the close price.
func (l *Ledger) pnl(t OpenTrade, closePrice float64) float64 {
	rate := 1.0
	if meta, err := market.Lookup(t.Instrument); err == nil {
		if r, err := market.QuoteToAccountRate(meta, l.ccy, closePrice); err == nil {
			rate = r
		}
	}
	return t.Units * (closePrice - t.Entry) * rate
}

func (l *Ledger) setBalance(b float64) {
	l.balance = b
	if b > l.peak {
		l.peak = b
	}
	l.version++
}

// UpdateBalance applies a broker-reported balance.
func (l *Ledger) UpdateBalance(balance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	l.setBalance(balance)
}

// ResetDay clears today's counters. A positive balance also becomes the
// new day-start balance.
func (l *Ledger) ResetDay(balance float64) DailyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	if balance > 0 {
		l.setBalance(balance)
	}
	l.daily = DailyStats{Day: l.today(), DayStartBalance: l.balance}
	l.version++
	return l.daily
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.snapshot(true)
}

// OpenTrade looks up a single open trade.
func (l *Ledger) OpenTrade(tradeID string) (OpenTrade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.open[tradeID]
	return t, ok
}

func (l *Ledger) snapshot(withRecent bool) Snapshot {
	s := Snapshot{
		Version:     l.version,
		Time:        l.now(),
		Balance:     l.balance,
		PeakBalance: l.peak,
		Daily:       l.daily,
		Lifetime:    l.life,
		Open:        make([]OpenTrade, 0, len(l.open)),
		Orphans:     make([]Orphan, 0, len(l.orphans)),
		Pending:     len(l.pending),
	}
	for _, t := range l.open {
		s.Open = append(s.Open, t)
	}
	sort.Slice(s.Open, func(i, j int) bool {
		if s.Open[i].OpenTime.Equal(s.Open[j].OpenTime) {
			return s.Open[i].TradeID < s.Open[j].TradeID
		}
		return s.Open[i].OpenTime.Before(s.Open[j].OpenTime)
	})
	for _, o := range l.orphans {
		s.Orphans = append(s.Orphans, o)
	}
	sort.Slice(s.Orphans, func(i, j int) bool {
		return s.Orphans[i].SubmittedAt.Before(s.Orphans[j].SubmittedAt)
	})
	for _, r := range l.pending {
		s.PendingRisk += r
	}
	if withRecent {
		s.Recent = append([]ClosedTrade(nil), l.recent...)
	}
	return s
}
