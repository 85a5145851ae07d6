package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/logging"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/market/strategies"
	"github.com/rustyeddy/autotrader/scorer"
	"github.com/rustyeddy/autotrader/signal"
)

// Scanner periodically runs a strategy over recent candles for each
// configured instrument and submits a signal when the latest closed candle
// produces a decision.
type Scanner struct {
	c      *Coordinator
	src    broker.CandleSource
	scorer scorer.Scorer
	cfg    config.ScanConfig
	log    *logrus.Entry

	mu   sync.Mutex
	seen map[string]time.Time // last candle acted on, per instrument
}

func NewScanner(c *Coordinator, src broker.CandleSource, sc scorer.Scorer, cfg config.ScanConfig, log *logging.Logger) *Scanner {
	if log == nil {
		log = logging.Discard()
	}
	if sc == nil {
		sc = scorer.Static{}
	}
	return &Scanner{
		c:      c,
		src:    src,
		scorer: sc,
		cfg:    cfg,
		log:    log.WithComponent("scan"),
		seen:   make(map[string]time.Time),
	}
}

func (s *Scanner) Run(ctx context.Context) error {
	every := s.cfg.Every()
	if every <= 0 {
		every = 5 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		s.ScanOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// ScanOnce scans every instrument concurrently and returns the submit
// results of the signals it generated. A failing instrument does not stop
// the others.
func (s *Scanner) ScanOnce(ctx context.Context) []Result {
	var (
		mu  sync.Mutex
		out []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Concurrency > 0 {
		g.SetLimit(s.cfg.Concurrency)
	}
	for _, inst := range s.cfg.Instruments {
		g.Go(func() error {
			res, ok, err := s.scanInstrument(gctx, market.NormalizeInstrument(inst))
			if err != nil {
				s.log.WithError(err).WithField("instrument", inst).Warn("scan failed")
				return nil
			}
			if ok {
				mu.Lock()
				out = append(out, res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Scanner) scanInstrument(ctx context.Context, inst string) (Result, bool, error) {
	candles, err := s.src.Candles(ctx, inst, s.cfg.Granularity, s.cfg.Candles)
	if err != nil {
		return Result{}, false, err
	}
	if len(candles) == 0 {
		return Result{}, false, nil
	}
	last := candles[len(candles)-1]

	s.mu.Lock()
	if seen, ok := s.seen[inst]; ok && !last.Time.After(seen) {
		s.mu.Unlock()
		return Result{}, false, nil
	}
	s.seen[inst] = last.Time
	s.mu.Unlock()

	strat, err := strategies.New(s.cfg.Strategy)
	if err != nil {
		return Result{}, false, err
	}
	var d strategies.Decision
	for _, c := range candles {
		d = strat.Update(c)
	}
	if d.Signal == strategies.Hold || d.ATR <= 0 {
		return Result{}, false, nil
	}

	sig := s.buildSignal(inst, d)
	conf, err := s.scorer.Score(ctx, sig, scorer.MarketContext{Candles: candles, Decision: &d})
	if err != nil {
		// Unscored signals fail the confidence rule rather than bypass it.
		s.log.WithError(err).WithField("instrument", inst).Warn("scorer failed")
		conf = 0
	}
	sig.Confidence = conf

	sig, err = signal.New(sig, s.c.now())
	if err != nil {
		return Result{}, false, err
	}
	s.log.WithFields(logrus.Fields{
		"instrument": inst,
		"signal_id":  sig.ID,
		"direction":  sig.Direction,
		"reason":     d.Reason,
		"confidence": sig.Confidence,
	}).Info("scan signal")
	return s.c.Submit(ctx, sig), true, nil
}

// buildSignal places the stop StopATR ATRs from the close and the target
// TargetRR stop distances beyond the entry.
func (s *Scanner) buildSignal(inst string, d strategies.Decision) signal.Signal {
	dir := market.Long
	if d.Signal == strategies.Sell {
		dir = market.Short
	}
	stopATR := s.cfg.StopATR
	if stopATR <= 0 {
		stopATR = 1.5
	}
	targetRR := s.cfg.TargetRR
	if targetRR <= 0 {
		targetRR = 2
	}
	dist := stopATR * d.ATR
	sign := float64(dir.Sign())
	return signal.Signal{
		Instrument: inst,
		Direction:  dir,
		Entry:      d.Close,
		Stop:       d.Close - sign*dist,
		Target:     d.Close + sign*targetRR*dist,
		RiskReward: targetRR,
		Strength:   d.ADX,
		Source:     signal.SourceScan,
	}
}
