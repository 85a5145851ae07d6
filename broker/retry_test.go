package broker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/brokertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = broker.RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
	Multiplier:     2,
}

func order() broker.OrderRequest {
	return broker.OrderRequest{
		Instrument:    "EUR_USD",
		Units:         1000,
		StopLoss:      1.09,
		TakeProfit:    1.11,
		ClientOrderID: "at-1",
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	p := broker.RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(10))
}

func TestRetryTransientThenSuccess(t *testing.T) {
	t.Parallel()

	fake := brokertest.New(1000)
	var calls atomic.Int32
	fake.PlaceFunc = func(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
		if calls.Add(1) < 3 {
			return broker.Fill{}, &broker.TransientError{Op: "place_order", Err: errors.New("503")}
		}
		return broker.Fill{TradeID: "T1", Price: 1.1}, nil
	}

	g := broker.NewRetrying(fake, fastPolicy, time.Second, nil)
	fill, err := g.PlaceOrder(context.Background(), order())
	require.NoError(t, err)
	assert.Equal(t, "T1", fill.TradeID)
	assert.Equal(t, 3, fake.PlaceCalls())
}

func TestRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	fake := brokertest.New(1000)
	fake.PlaceFunc = func(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
		return broker.Fill{}, &broker.TransientError{Op: "place_order", Err: errors.New("502")}
	}

	g := broker.NewRetrying(fake, fastPolicy, time.Second, nil)
	_, err := g.PlaceOrder(context.Background(), order())

	var term *broker.TerminalError
	require.ErrorAs(t, err, &term)
	assert.Equal(t, broker.ReasonRetryBudget, term.Reason)
	assert.False(t, term.Ambiguous)
	assert.Equal(t, 3, fake.PlaceCalls())
}

func TestTerminalIsNotRetried(t *testing.T) {
	t.Parallel()

	fake := brokertest.New(1000)
	fake.PlaceFunc = func(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
		return broker.Fill{}, &broker.TerminalError{Op: "place_order", Reason: "INSUFFICIENT_MARGIN"}
	}

	g := broker.NewRetrying(fake, fastPolicy, time.Second, nil)
	_, err := g.PlaceOrder(context.Background(), order())
	assert.Equal(t, "INSUFFICIENT_MARGIN", broker.Reason(err))
	assert.Equal(t, 1, fake.PlaceCalls())
}

func TestAmbiguousTimeoutFindsFill(t *testing.T) {
	t.Parallel()

	fake := brokertest.New(1000)
	fake.PlaceFunc = func(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
		<-ctx.Done()
		return broker.Fill{}, ctx.Err()
	}
	fake.FindFunc = func(ctx context.Context, id string) (broker.Fill, bool, error) {
		return broker.Fill{TradeID: "T7", Price: 1.1}, true, nil
	}

	g := broker.NewRetrying(fake, fastPolicy, 5*time.Millisecond, nil)
	fill, err := g.PlaceOrder(context.Background(), order())
	require.NoError(t, err)
	assert.Equal(t, "T7", fill.TradeID)
	assert.Equal(t, 1, fake.PlaceCalls(), "a found order must not be resubmitted")
}

func TestAmbiguousUnresolvedStops(t *testing.T) {
	t.Parallel()

	fake := brokertest.New(1000)
	fake.PlaceFunc = func(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
		return broker.Fill{}, &broker.TransientError{Op: "place_order", Err: errors.New("eof"), Ambiguous: true}
	}
	fake.FindFunc = func(ctx context.Context, id string) (broker.Fill, bool, error) {
		return broker.Fill{}, false, &broker.TransientError{Op: "find_order", Err: errors.New("down")}
	}

	g := broker.NewRetrying(fake, fastPolicy, time.Second, nil)
	_, err := g.PlaceOrder(context.Background(), order())
	assert.True(t, broker.IsAmbiguous(err))
	assert.False(t, broker.IsTransient(err))
	assert.Equal(t, 1, fake.PlaceCalls())
}

func TestAmbiguousNotFoundResubmits(t *testing.T) {
	t.Parallel()

	fake := brokertest.New(1000)
	var calls atomic.Int32
	fake.PlaceFunc = func(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
		if calls.Add(1) == 1 {
			return broker.Fill{}, &broker.TransientError{Op: "place_order", Err: errors.New("eof"), Ambiguous: true}
		}
		return broker.Fill{TradeID: "T2"}, nil
	}

	g := broker.NewRetrying(fake, fastPolicy, time.Second, nil)
	fill, err := g.PlaceOrder(context.Background(), order())
	require.NoError(t, err)
	assert.Equal(t, "T2", fill.TradeID)
	assert.Equal(t, 2, fake.PlaceCalls())
}

func TestReadsRetry(t *testing.T) {
	t.Parallel()

	fake := brokertest.New(1234)
	g := broker.NewRetrying(fake, fastPolicy, time.Second, nil)

	acct, err := g.GetAccountSummary(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1234.0, acct.Balance, 1e-9)

	_, err = g.GetTradeStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, broker.ErrTradeNotFound)
}

func TestCancelledContextIsTerminal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fake := brokertest.New(1000)
	fake.PlaceFunc = func(c context.Context, req broker.OrderRequest) (broker.Fill, error) {
		cancel()
		return broker.Fill{}, context.Canceled
	}

	g := broker.NewRetrying(fake, fastPolicy, time.Second, nil)
	_, err := g.PlaceOrder(ctx, order())
	var term *broker.TerminalError
	require.ErrorAs(t, err, &term)
	assert.True(t, term.Ambiguous)
}

func TestAmbiguityCarriesAcrossAttempts(t *testing.T) {
	t.Parallel()

	ambiguous := &broker.TransientError{Op: "place_order", Err: errors.New("eof"), Ambiguous: true}
	tests := []struct {
		name   string
		second error
		reason string
	}{
		{"terminal rejection", &broker.TerminalError{Op: "place_order", Reason: "CLIENT_ORDER_ID_ALREADY_EXISTS"}, "CLIENT_ORDER_ID_ALREADY_EXISTS"},
		{"budget spent on throttling", &broker.TransientError{Op: "place_order", Err: errors.New("429")}, broker.ReasonRetryBudget},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fake := brokertest.New(1000)
			var calls atomic.Int32
			fake.PlaceFunc = func(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
				if calls.Add(1) == 1 {
					return broker.Fill{}, ambiguous
				}
				return broker.Fill{}, tc.second
			}
			fake.FindFunc = func(ctx context.Context, id string) (broker.Fill, bool, error) {
				return broker.Fill{}, false, nil
			}

			g := broker.NewRetrying(fake, fastPolicy, time.Second, nil)
			_, err := g.PlaceOrder(context.Background(), order())

			var term *broker.TerminalError
			require.ErrorAs(t, err, &term)
			assert.True(t, term.Ambiguous, "the first attempt may still fill")
			assert.Equal(t, tc.reason, broker.Reason(err))
			assert.GreaterOrEqual(t, fake.PlaceCalls(), 2)
		})
	}
}
