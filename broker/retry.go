package broker

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/logging"
	"github.com/rustyeddy/autotrader/market"
)

// RetryPolicy is exponential backoff with a fixed attempt budget.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func PolicyFromConfig(c config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.Initial(),
		MaxBackoff:     c.Max(),
		Multiplier:     c.Multiplier,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	return time.Duration(math.Min(d, float64(p.MaxBackoff)))
}

// Retrying wraps a Gateway with per-call timeouts and the retry policy.
// Order placement that fails ambiguously is never resubmitted blindly:
// the order is looked up by client id first.
type Retrying struct {
	inner   Gateway
	policy  RetryPolicy
	timeout time.Duration
	log     *logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrying(inner Gateway, policy RetryPolicy, timeout time.Duration, log *logging.Logger) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Retrying{inner: inner, policy: policy, timeout: timeout, log: log, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Retrying) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Retrying) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	entry := r.log.WithComponent("broker").WithField("client_order_id", req.ClientOrderID)

	// Once any attempt may have reached the broker, every later failure is
	// ambiguous too: an earlier attempt can still fill after a lookup
	// missed it.
	var (
		lastErr      error
		sawAmbiguous bool
	)
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		cctx, cancel := r.callCtx(ctx)
		fill, err := r.inner.PlaceOrder(cctx, req)
		cancel()
		if err == nil {
			return fill, nil
		}
		lastErr = err
		sawAmbiguous = sawAmbiguous || IsAmbiguous(err)

		if ctx.Err() != nil {
			return Fill{}, &TerminalError{Op: "place_order", Reason: "cancelled", Err: err, Ambiguous: sawAmbiguous}
		}
		if !IsTransient(err) {
			if sawAmbiguous && !IsAmbiguous(err) {
				return Fill{}, &TerminalError{Op: "place_order", Reason: Reason(err), Err: err, Ambiguous: true}
			}
			return Fill{}, err
		}

		if IsAmbiguous(err) {
			found, ok, lerr := r.lookup(ctx, req.ClientOrderID)
			switch {
			case lerr != nil:
				// Unknown broker state; resubmitting could double fill.
				return Fill{}, &TerminalError{Op: "place_order", Reason: ReasonAmbiguous, Err: err, Ambiguous: true}
			case ok:
				entry.WithField("trade_id", found.TradeID).Info("order found after ambiguous failure")
				return found, nil
			}
		}

		if attempt == r.policy.MaxAttempts {
			break
		}
		wait := r.policy.Backoff(attempt)
		entry.WithError(err).WithField("attempt", attempt).WithField("wait", wait.String()).Warn("order failed, retrying")
		if err := r.sleep(ctx, wait); err != nil {
			return Fill{}, &TerminalError{Op: "place_order", Reason: "cancelled", Err: lastErr, Ambiguous: sawAmbiguous}
		}
	}
	return Fill{}, &TerminalError{Op: "place_order", Reason: ReasonRetryBudget, Err: lastErr, Ambiguous: sawAmbiguous}
}

func (r *Retrying) lookup(ctx context.Context, clientOrderID string) (Fill, bool, error) {
	if clientOrderID == "" {
		return Fill{}, false, errors.New("no client order id")
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	return r.inner.FindOrder(cctx, clientOrderID)
}

// do retries an idempotent read.
func do[T any](ctx context.Context, r *Retrying, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		cctx, cancel := r.callCtx(ctx)
		v, err := fn(cctx)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) {
			return zero, err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.policy.Backoff(attempt)); err != nil {
			return zero, errors.Join(lastErr, err)
		}
	}
	return zero, &TerminalError{Op: op, Reason: ReasonRetryBudget, Err: lastErr}
}

func (r *Retrying) GetTradeStatus(ctx context.Context, tradeID string) (TradeStatus, error) {
	return do(ctx, r, "trade_status", func(c context.Context) (TradeStatus, error) {
		return r.inner.GetTradeStatus(c, tradeID)
	})
}

func (r *Retrying) GetAccountSummary(ctx context.Context) (AccountSummary, error) {
	return do(ctx, r, "account_summary", r.inner.GetAccountSummary)
}

func (r *Retrying) CloseAll(ctx context.Context) ([]CloseResult, error) {
	return do(ctx, r, "close_all", r.inner.CloseAll)
}

func (r *Retrying) OpenTrades(ctx context.Context) ([]TradeStatus, error) {
	return do(ctx, r, "open_trades", r.inner.OpenTrades)
}

type lookup struct {
	fill  Fill
	found bool
}

func (r *Retrying) FindOrder(ctx context.Context, clientOrderID string) (Fill, bool, error) {
	l, err := do(ctx, r, "find_order", func(c context.Context) (lookup, error) {
		f, ok, err := r.inner.FindOrder(c, clientOrderID)
		return lookup{f, ok}, err
	})
	return l.fill, l.found, err
}

// Candles passes through to the inner gateway when it can serve candles.
func (r *Retrying) Candles(ctx context.Context, instrument, granularity string, count int) ([]market.Candle, error) {
	src, ok := r.inner.(CandleSource)
	if !ok {
		return nil, errors.New("gateway does not serve candles")
	}
	return do(ctx, r, "candles", func(c context.Context) ([]market.Candle, error) {
		return src.Candles(c, instrument, granularity, count)
	})
}
