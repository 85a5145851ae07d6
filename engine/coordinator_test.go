package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/brokertest"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/internal/daystats"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/logging"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/signal"
)

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memJournal) Record(e journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memJournal) Close() error { return nil }

func (m *memJournal) stages() []journal.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]journal.Stage, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Stage
	}
	return out
}

type fixture struct {
	c       *Coordinator
	ledger  *ledger.Ledger
	broker  *brokertest.Fake
	journal *memJournal
	stats   *daystats.Store
}

func newFixture(t *testing.T, balance float64, mutate ...func(*config.SafetyConfig)) fixture {
	t.Helper()

	safety := config.DefaultSafety()
	for _, m := range mutate {
		m(&safety)
	}
	l := ledger.New(ledger.Options{AccountCurrency: "USD", Balance: balance})
	fake := brokertest.New(balance)
	j := &memJournal{}
	stats := daystats.NewStore(t.TempDir(), 20)
	c := NewCoordinator(Options{
		Safety:          safety,
		Sizing:          config.Default().Sizing,
		AccountCurrency: "USD",
		Ledger:          l,
		Gateway:         fake,
		Journal:         j,
		Stats:           stats,
	})
	return fixture{c: c, ledger: l, broker: fake, journal: j, stats: stats}
}

// goodSignal is a 20 pip stop, 2.5 R:R long on EUR_USD.
func goodSignal(t *testing.T, confidence float64) signal.Signal {
	t.Helper()
	sig, err := signal.New(signal.Signal{
		Instrument: "EUR_USD",
		Direction:  market.Long,
		Entry:      1.1000,
		Stop:       1.0980,
		Target:     1.1050,
		Confidence: confidence,
		Source:     signal.SourceWebhook,
	}, time.Now())
	require.NoError(t, err)
	return sig
}

func TestSubmitOpensExactlyOneTrade(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	res := f.c.Submit(context.Background(), goodSignal(t, 0.85))

	require.Equal(t, StateOpen, res.State, res.Detail)
	assert.NotEmpty(t, res.TradeID)
	assert.InDelta(t, 1.0, res.Lots, 1e-9)
	assert.InDelta(t, 200.0, res.Risk, 1e-6)
	assert.Equal(t, 1, f.broker.PlaceCalls())

	snap := f.ledger.Snapshot()
	require.Len(t, snap.Open, 1)
	assert.Equal(t, res.TradeID, snap.Open[0].TradeID)
	assert.InDelta(t, 100000.0, snap.Open[0].Units, 1e-9)
	assert.Zero(t, snap.Pending)
	assert.Equal(t, 1, snap.Daily.OpenedToday)
	assert.Equal(t, []journal.Stage{journal.StageOpen}, f.journal.stages())
}

func TestRejectionHasNoSideEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	before := f.ledger.Snapshot()

	res := f.c.Submit(context.Background(), goodSignal(t, 0.60))
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, string(risk.ReasonLowConfidence), res.Reason)
	assert.Zero(t, f.broker.PlaceCalls())

	after := f.ledger.Snapshot()
	assert.Equal(t, before.Daily, after.Daily)
	assert.Equal(t, before.Balance, after.Balance)
	assert.Empty(t, after.Open)
	assert.Zero(t, after.Pending)
	assert.Equal(t, []journal.Stage{journal.StageRejected}, f.journal.stages())
}

func TestSubmitRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		balance float64
		sig     func(t *testing.T) signal.Signal
		want    risk.Reason
	}{
		{
			name:    "invalid signal",
			balance: 10000,
			sig: func(t *testing.T) signal.Signal {
				s := goodSignal(t, 0.85)
				s.Stop = 1.2
				return s
			},
			want: risk.ReasonInvalidSignal,
		},
		{
			name:    "unknown instrument",
			balance: 10000,
			sig: func(t *testing.T) signal.Signal {
				s := goodSignal(t, 0.85)
				s.Instrument = "XAU_XAG"
				return s
			},
			want: risk.ReasonUnknownInstrument,
		},
		{
			name:    "size too small",
			balance: 200,
			sig: func(t *testing.T) signal.Signal {
				s, err := signal.New(signal.Signal{
					Instrument: "EUR_USD", Direction: market.Long,
					Entry: 1.1000, Stop: 1.0700, Target: 1.1800,
					Confidence: 0.9, Source: signal.SourceScan,
				}, time.Now())
				require.NoError(t, err)
				return s
			},
			want: risk.ReasonSizeTooSmall,
		},
		{
			name:    "balance below minimum",
			balance: 50,
			sig:     func(t *testing.T) signal.Signal { return goodSignal(t, 0.85) },
			want:    risk.ReasonBalance,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tc.balance)
			res := f.c.Submit(context.Background(), tc.sig(t))
			assert.Equal(t, StateRejected, res.State)
			assert.Equal(t, string(tc.want), res.Reason, res.Detail)
			assert.Zero(t, f.broker.PlaceCalls())
			assert.Zero(t, f.ledger.Snapshot().SlotsInUse())
		})
	}
}

func TestConcurrentSubmitNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	const n = 40
	sigs := make([]signal.Signal, n)
	for i := range sigs {
		sigs[i] = goodSignal(t, 0.85)
	}
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.c.Submit(context.Background(), sigs[i])
		}(i)
	}
	wg.Wait()

	opened := 0
	for _, r := range results {
		switch r.State {
		case StateOpen:
			opened++
		case StateRejected:
			assert.Contains(t, []string{
				string(risk.ReasonConcurrency),
				string(risk.ReasonDailyRisk),
				string(risk.ReasonDailyTradeLimit),
			}, r.Reason)
		default:
			t.Fatalf("unexpected state %s: %s", r.State, r.Detail)
		}
	}
	assert.Equal(t, 3, opened)
	assert.Equal(t, 3, f.broker.PlaceCalls())
	snap := f.ledger.Snapshot()
	assert.Len(t, snap.Open, 3)
	assert.LessOrEqual(t, snap.CommittedRisk(), 0.06*10000+1e-9)
}

func TestTerminalBrokerErrorReleasesSlot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	f.broker.PlaceFunc = func(context.Context, broker.OrderRequest) (broker.Fill, error) {
		return broker.Fill{}, &broker.TerminalError{Op: "place_order", Reason: "INSUFFICIENT_MARGIN"}
	}

	res := f.c.Submit(context.Background(), goodSignal(t, 0.85))
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "INSUFFICIENT_MARGIN", res.Reason)
	assert.False(t, res.Orphaned)
	assert.Zero(t, f.ledger.Snapshot().SlotsInUse())
	assert.Equal(t, []journal.Stage{journal.StageFailed}, f.journal.stages())
}

func TestAmbiguousFailureBecomesOrphanThenAdopted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	var filled broker.Fill
	f.broker.PlaceFunc = func(_ context.Context, req broker.OrderRequest) (broker.Fill, error) {
		// The broker fills but the response is lost.
		filled = broker.Fill{TradeID: "T77", Instrument: req.Instrument, Units: req.Units, Price: 1.1001, Time: time.Now()}
		return broker.Fill{}, &broker.TransientError{Op: "place_order", Err: context.DeadlineExceeded, Ambiguous: true}
	}
	f.broker.FindFunc = func(context.Context, string) (broker.Fill, bool, error) {
		return filled, true, nil
	}

	res := f.c.Submit(context.Background(), goodSignal(t, 0.85))
	require.Equal(t, StateFailed, res.State)
	assert.True(t, res.Orphaned)
	assert.Equal(t, broker.ReasonAmbiguous, res.Reason)

	snap := f.ledger.Snapshot()
	require.Len(t, snap.Orphans, 1)
	assert.Equal(t, 1, snap.SlotsInUse())
	assert.InDelta(t, res.Risk, snap.CommittedRisk(), 1e-9)

	rep := NewReconciler(f.c, f.broker, time.Second, time.Minute, nil).Reconcile(context.Background())
	assert.Equal(t, 1, rep.Adopted)

	snap = f.ledger.Snapshot()
	assert.Empty(t, snap.Orphans)
	require.Len(t, snap.Open, 1)
	assert.Equal(t, "T77", snap.Open[0].TradeID)
	assert.Equal(t, []journal.Stage{journal.StageFailed, journal.StageOpen}, f.journal.stages())
}

func TestOrphanAbandonedAfterGrace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	f.broker.PlaceFunc = func(context.Context, broker.OrderRequest) (broker.Fill, error) {
		return broker.Fill{}, context.DeadlineExceeded
	}
	res := f.c.Submit(context.Background(), goodSignal(t, 0.85))
	require.True(t, res.Orphaned)

	r := NewReconciler(f.c, f.broker, time.Second, time.Hour, nil)
	assert.Zero(t, r.Reconcile(context.Background()).Abandoned, "inside grace")
	assert.Len(t, f.ledger.Snapshot().Orphans, 1)

	r.grace = 0
	assert.Equal(t, 1, r.Reconcile(context.Background()).Abandoned)
	assert.Zero(t, f.ledger.Snapshot().SlotsInUse())
}

func TestOrphanLookupErrorKeepsSlot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	f.broker.PlaceFunc = func(context.Context, broker.OrderRequest) (broker.Fill, error) {
		return broker.Fill{}, context.DeadlineExceeded
	}
	f.broker.FindFunc = func(context.Context, string) (broker.Fill, bool, error) {
		return broker.Fill{}, false, errors.New("broker down")
	}
	require.True(t, f.c.Submit(context.Background(), goodSignal(t, 0.85)).Orphaned)

	rep := NewReconciler(f.c, f.broker, time.Second, 0, nil).Reconcile(context.Background())
	assert.Equal(t, 1, rep.Errors)
	assert.Len(t, f.ledger.Snapshot().Orphans, 1)
}

func TestPanicBecomesFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	f.broker.PlaceFunc = func(context.Context, broker.OrderRequest) (broker.Fill, error) {
		panic("boom")
	}

	var res Result
	require.NotPanics(t, func() { res = f.c.Submit(context.Background(), goodSignal(t, 0.85)) })
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, ReasonInternal, res.Reason)
	// the order may have reached the broker, so its slot is kept
	assert.True(t, res.Orphaned)
	assert.Len(t, f.ledger.Snapshot().Orphans, 1)
}

func TestReconcileAppliesCloseOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	res := f.c.Submit(context.Background(), goodSignal(t, 0.85))
	require.Equal(t, StateOpen, res.State)

	f.broker.CloseTrade(res.TradeID, 1.1050, "take_profit")
	f.broker.Balance = 10350

	r := NewReconciler(f.c, f.broker, time.Second, time.Minute, nil)
	rep := r.Reconcile(context.Background())
	assert.Equal(t, 1, rep.Closed)
	assert.Zero(t, r.Reconcile(context.Background()).Closed)

	snap := f.ledger.Snapshot()
	assert.Empty(t, snap.Open)
	assert.Equal(t, 1, snap.Daily.TradesToday)
	assert.Equal(t, 1, snap.Daily.WinsToday)
	assert.Equal(t, snap.Daily.TradesToday, snap.Daily.WinsToday+snap.Daily.LossesToday)
	assert.InDelta(t, 350.0, snap.Daily.DailyPnL, 1e-6)
	assert.InDelta(t, 10350.0, snap.Balance, 1e-6)

	// a second close of the same id is a no-op
	_, cr := f.c.Close(context.Background(), res.TradeID, 1.0, time.Now(), "manual")
	assert.Equal(t, ledger.AlreadyClosed, cr)
	assert.Equal(t, []journal.Stage{journal.StageOpen, journal.StageClosed}, f.journal.stages())

	saved, err := f.stats.Load(snap.Daily.Day)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Daily.WinsToday)
}

func TestHaltClosesAllAndBlocksTrading(t *testing.T) {
	t.Parallel()

	var alerts []risk.Alert
	var mu sync.Mutex
	f := newFixture(t, 10000)
	f.c.onAlert = func(a risk.Alert) {
		mu.Lock()
		alerts = append(alerts, a)
		mu.Unlock()
	}

	res := f.c.Submit(context.Background(), goodSignal(t, 0.85))
	require.Equal(t, StateOpen, res.State)

	f.ledger.UpdateBalance(7000) // 30% below peak
	assert.Equal(t, risk.Halted, f.c.Observe(context.Background()))
	f.c.Wait()

	assert.Equal(t, []string{res.TradeID}, f.broker.Closed)
	assert.Empty(t, f.ledger.Snapshot().Open)

	mu.Lock()
	require.Len(t, alerts, 1)
	assert.Equal(t, risk.Halted, alerts[0].To)
	mu.Unlock()
	require.Len(t, f.c.Alerts(), 1)

	again := f.c.Submit(context.Background(), goodSignal(t, 0.95))
	assert.Equal(t, StateRejected, again.State)
	assert.Equal(t, string(risk.ReasonHalted), again.Reason)
	assert.Equal(t, 1, f.broker.PlaceCalls())
}

func TestHaltSurvivesCloseAllFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	gw := &failingCloseAll{Fake: f.broker}
	f.c.gw = gw

	require.Equal(t, StateOpen, f.c.Submit(context.Background(), goodSignal(t, 0.85)).State)
	f.ledger.UpdateBalance(7000)

	assert.Equal(t, risk.Halted, f.c.Observe(context.Background()))
	f.c.Wait()
	assert.Len(t, f.ledger.Snapshot().Open, 1)
	assert.Equal(t, risk.Halted, f.c.Breaker())
}

func TestStaleSnapshotCannotClearHalt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	stale := f.ledger.Snapshot()

	f.ledger.UpdateBalance(7000)
	require.Equal(t, risk.Halted, f.c.Observe(context.Background()))
	f.c.Wait()

	assert.Equal(t, risk.Halted, f.c.observe(context.Background(), stale))
	assert.Equal(t, risk.Halted, f.c.Observe(context.Background()))
	f.c.Wait()

	require.Len(t, f.c.Alerts(), 1)
	assert.Equal(t, risk.Halted, f.c.Alerts()[0].To)
	assert.Equal(t, 1, f.broker.CloseAllCalls())
}

func TestHaltDoesNotBlockSubmit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	release := make(chan struct{})
	gw := &slowCloseAll{Fake: f.broker, release: release}
	f.c.gw = gw

	f.ledger.UpdateBalance(7000)
	sig := goodSignal(t, 0.9)
	done := make(chan Result, 1)
	go func() { done <- f.c.Submit(context.Background(), sig) }()

	select {
	case res := <-done:
		assert.Equal(t, string(risk.ReasonHalted), res.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("submit waited for the emergency close")
	}
	close(release)
	f.c.Wait()
	assert.Equal(t, 1, f.broker.CloseAllCalls())
}

type slowCloseAll struct {
	*brokertest.Fake
	release chan struct{}
}

func (s *slowCloseAll) CloseAll(ctx context.Context) ([]broker.CloseResult, error) {
	<-s.release
	return s.Fake.CloseAll(ctx)
}

func TestRestartKeepsHalt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	before := newFixture(t, 1000)
	before.c.stats = daystats.NewStore(dir, 20)
	before.ledger.UpdateBalance(740)
	require.Equal(t, risk.Halted, before.c.Observe(context.Background()))
	before.c.Wait()
	require.NoError(t, before.c.SaveStats())

	prev, err := daystats.NewStore(dir, 20).Latest()
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, prev.PeakBalance, 1e-9)

	after := newFixture(t, 740)
	after.c.RestoreStats(prev)
	assert.Equal(t, risk.Halted, after.c.Breaker())
	assert.Len(t, after.c.Alerts(), 1)

	res := after.c.Submit(context.Background(), goodSignal(t, 0.95))
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, string(risk.ReasonHalted), res.Reason)
	assert.Zero(t, after.broker.PlaceCalls())
	assert.Len(t, after.c.Alerts(), 1, "restoring a halt is not a new transition")
}

func TestAdoptOpenTradesAtStartup(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, func(s *config.SafetyConfig) { s.MaxConcurrentTrades = 1 })
	f.broker.Seed(broker.TradeStatus{
		TradeID:       "T9",
		ClientOrderID: "at-old",
		Instrument:    "EUR_USD",
		Units:         100000,
		Entry:         1.1000,
		StopLoss:      1.0980,
		TakeProfit:    1.1050,
	})

	n, err := f.c.AdoptOpenTrades(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap := f.ledger.Snapshot()
	require.Len(t, snap.Open, 1)
	assert.Equal(t, "T9", snap.Open[0].TradeID)
	assert.Equal(t, market.Long, snap.Open[0].Direction)
	assert.InDelta(t, 200.0, snap.Open[0].Risk, 1e-6)
	assert.Zero(t, snap.Daily.OpenedToday)

	res := f.c.Submit(context.Background(), goodSignal(t, 0.9))
	assert.Equal(t, string(risk.ReasonConcurrency), res.Reason)
	assert.Zero(t, f.broker.PlaceCalls())

	n, err = f.c.AdoptOpenTrades(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "known trades are not adopted twice")

	f.broker.CloseTrade("T9", 1.0980, "stop_loss")
	NewReconciler(f.c, f.broker, time.Second, 0, nil).Reconcile(context.Background())
	assert.Equal(t, 1, f.ledger.Snapshot().Daily.LossesToday)
}

func TestSubmitLogsValidatedState(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f := newFixture(t, 10000)
	f.c.log = logging.FromLogrus(logger).WithComponent("engine")

	validated := func() int {
		n := 0
		for _, e := range hook.AllEntries() {
			if e.Data["state"] == StateValidated {
				n++
			}
		}
		return n
	}

	f.c.Submit(context.Background(), goodSignal(t, 0.5))
	assert.Zero(t, validated(), "a rejected signal never reaches validated")

	res := f.c.Submit(context.Background(), goodSignal(t, 0.9))
	require.Equal(t, StateOpen, res.State, res.Detail)
	assert.Equal(t, 1, validated())
}

type failingCloseAll struct {
	*brokertest.Fake
}

func (failingCloseAll) CloseAll(context.Context) ([]broker.CloseResult, error) {
	return []broker.CloseResult{{TradeID: "T1", Err: errors.New("market closed")}}, fmt.Errorf("close all: partial failure")
}

func TestResetDay(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	res := f.c.Submit(context.Background(), goodSignal(t, 0.85))
	f.broker.CloseTrade(res.TradeID, 1.0980, "stop_loss")
	f.broker.Balance = 9650
	NewReconciler(f.c, f.broker, time.Second, 0, nil).Reconcile(context.Background())
	require.Equal(t, 1, f.ledger.Snapshot().Daily.LossesToday)

	daily := f.c.ResetDay(context.Background())
	assert.Zero(t, daily.TradesToday)
	assert.Zero(t, daily.ConsecutiveLosses)
	assert.InDelta(t, 9650.0, daily.DayStartBalance, 1e-9)

	st := f.c.Status()
	assert.Equal(t, risk.OK, st.Breaker)
	assert.InDelta(t, 0.70, st.MinConfidence, 1e-9)
}

func TestThrottledShrinksSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000)
	f.ledger.Restore(ledger.DailyStats{
		Day:               f.ledger.Snapshot().Daily.Day,
		ConsecutiveLosses: 2,
		DayStartBalance:   10000,
	}, ledger.LifetimeStats{}, 0)

	low := f.c.Submit(context.Background(), goodSignal(t, 0.75))
	assert.Equal(t, string(risk.ReasonLowConfidence), low.Reason)

	res := f.c.Submit(context.Background(), goodSignal(t, 0.85))
	require.Equal(t, StateOpen, res.State, res.Detail)
	assert.Equal(t, risk.Throttled, res.Breaker)
	assert.InDelta(t, 0.5, res.Lots, 1e-9)
}
