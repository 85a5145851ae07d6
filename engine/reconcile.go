package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/logging"
)

// Reconciler polls the broker for what the ledger cannot observe itself:
// trades closed by their stop or target, the fate of orphaned orders and
// the account balance.
type Reconciler struct {
	c        *Coordinator
	gw       broker.Gateway
	interval time.Duration
	grace    time.Duration
	log      *logrus.Entry
	now      func() time.Time
}

func NewReconciler(c *Coordinator, gw broker.Gateway, interval, grace time.Duration, log *logging.Logger) *Reconciler {
	if log == nil {
		log = logging.Discard()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reconciler{
		c:        c,
		gw:       gw,
		interval: interval,
		grace:    grace,
		log:      log.WithComponent("reconcile"),
		now:      c.now,
	}
}

// Report summarizes one reconciliation pass.
type Report struct {
	Closed    int
	Adopted   int
	Abandoned int
	Errors    int
	Balance   float64
}

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			rep := r.Reconcile(ctx)
			if rep.Closed+rep.Adopted+rep.Abandoned+rep.Errors > 0 {
				r.log.WithFields(logrus.Fields{
					"closed":    rep.Closed,
					"adopted":   rep.Adopted,
					"abandoned": rep.Abandoned,
					"errors":    rep.Errors,
				}).Info("reconciled")
			}
		}
	}
}

// Reconcile runs one pass. Per-trade errors are logged and counted; the
// pass always finishes.
func (r *Reconciler) Reconcile(ctx context.Context) Report {
	var rep Report
	snap := r.c.ledger.Snapshot()

	for _, t := range snap.Open {
		if ctx.Err() != nil {
			return rep
		}
		st, err := r.gw.GetTradeStatus(ctx, t.TradeID)
		if err != nil {
			rep.Errors++
			r.log.WithError(err).WithField("trade_id", t.TradeID).Warn("trade status")
			continue
		}
		if st.State != broker.TradeClosed {
			continue
		}
		if _, res := r.c.Close(ctx, t.TradeID, st.ClosePrice, st.CloseTime, closeReason(st)); res == ledger.Applied {
			rep.Closed++
		}
	}

	for _, o := range snap.Orphans {
		if ctx.Err() != nil {
			return rep
		}
		r.resolveOrphan(ctx, o, &rep)
	}

	sum, err := r.gw.GetAccountSummary(ctx)
	if err != nil {
		rep.Errors++
		r.log.WithError(err).Warn("account summary")
	} else if sum.Balance > 0 {
		r.c.ledger.UpdateBalance(sum.Balance)
		rep.Balance = sum.Balance
	}

	r.c.Observe(ctx)
	return rep
}

func (r *Reconciler) resolveOrphan(ctx context.Context, o ledger.Orphan, rep *Report) {
	log := r.log.WithField("client_order_id", o.ClientOrderID)

	fill, found, err := r.gw.FindOrder(ctx, o.ClientOrderID)
	if err != nil {
		rep.Errors++
		log.WithError(err).Warn("orphan lookup")
		return
	}
	if found {
		if err := r.c.Adopt(o, fill); err != nil {
			if errors.Is(err, ledger.ErrDuplicateTrade) {
				// already tracked under its trade id
				rep.Adopted++
				return
			}
			rep.Errors++
			log.WithError(err).Warn("adopt orphan")
			return
		}
		rep.Adopted++
		return
	}

	// The broker may not list a just-submitted order yet.
	if r.now().Sub(o.SubmittedAt) < r.grace {
		return
	}
	if r.c.ledger.AbandonOrphan(o.ClientOrderID) {
		rep.Abandoned++
		log.WithField("age", r.now().Sub(o.SubmittedAt).String()).Warn("orphaned order never reached the broker, slot released")
	}
}

func closeReason(st broker.TradeStatus) string {
	if st.Reason != "" {
		return st.Reason
	}
	return "closed"
}
