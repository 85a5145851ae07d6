package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/oanda"
	"github.com/rustyeddy/autotrader/broker/sim"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/engine"
	"github.com/rustyeddy/autotrader/internal/daystats"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/logging"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/scorer"
	"github.com/rustyeddy/autotrader/webhook"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading bot",
	Long: `Start the bot: the webhook server, the strategy scanner (when enabled)
and the broker reconciler. The bot runs until interrupted; daily stats are
saved on the way out.

With broker.type "sim" a random-walk price feed drives a paper account so the
whole pipeline can be exercised without a broker.

Example:
  trader run -c trader.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var simTick time.Duration

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&simTick, "sim-tick", time.Second, "price feed interval for the simulated broker")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inner, feed, err := newGateway(cfg)
	if err != nil {
		return err
	}
	gw := broker.NewRetrying(inner, broker.PolicyFromConfig(cfg.Broker.Retry), cfg.Broker.Timeout(), log)

	sum, err := gw.GetAccountSummary(ctx)
	if err != nil {
		return fmt.Errorf("account summary: %w", err)
	}
	if sum.Currency != "" && sum.Currency != cfg.Account.Currency {
		return fmt.Errorf("account currency %s does not match config %s", sum.Currency, cfg.Account.Currency)
	}

	led := ledger.New(ledger.Options{
		AccountCurrency: cfg.Account.Currency,
		Location:        cfg.Account.Location(),
		Balance:         sum.Balance,
	})
	stats := daystats.NewStore(cfg.Stats.Dir, cfg.Stats.MaxAlerts)

	hub := webhook.NewHub(log)
	sink, err := newJournal(cfg.Journal, hub, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.WithError(err).Error("close journal")
		}
		if n := sink.Dropped(); n > 0 {
			log.WithFields(logrus.Fields{"dropped": n}).Warn("journal entries dropped")
		}
	}()

	sc, err := scorer.New(cfg.Execution)
	if err != nil {
		return err
	}

	coord := engine.NewCoordinator(engine.Options{
		Safety:          cfg.Safety,
		Sizing:          cfg.Sizing,
		AccountCurrency: cfg.Account.Currency,
		Ledger:          led,
		Gateway:         gw,
		Journal:         sink,
		Stats:           stats,
		Logger:          log,
		MaxAlerts:       cfg.Stats.MaxAlerts,
		OnAlert:         hub.PublishAlert,
	})
	if prev, err := stats.Latest(); err == nil {
		coord.RestoreStats(prev)
		log.WithFields(logrus.Fields{
			"day":             prev.Day,
			"peak_balance":    prev.PeakBalance,
			"lifetime_trades": prev.Lifetime.TotalTrades,
		}).Info("restored stats")
	} else if !errors.Is(err, daystats.ErrNotFound) {
		log.WithError(err).Warn("stats not restored")
	}
	adopted, err := coord.AdoptOpenTrades(ctx)
	if err != nil {
		return err
	}
	if adopted > 0 {
		log.WithFields(logrus.Fields{"adopted": adopted}).Warn("trades already open at broker were adopted")
	}
	coord.Observe(ctx)

	log.WithFields(logrus.Fields{
		"broker":  cfg.Broker.Type,
		"balance": sum.Balance,
		"breaker": coord.Breaker(),
	}).Info("trader starting")

	g, gctx := errgroup.WithContext(ctx)
	if feed != nil {
		g.Go(func() error { return feed.Run(gctx, simTick) })
	}

	rec := engine.NewReconciler(coord, gw, cfg.Reconcile.Every(), cfg.Reconcile.Grace(), log)
	g.Go(func() error { return rec.Run(gctx) })

	if cfg.Scan.Enabled {
		scan := engine.NewScanner(coord, gw, sc, cfg.Scan, log)
		g.Go(func() error { return scan.Run(gctx) })
	}

	if cfg.Webhook.Enabled {
		srv := webhook.NewServer(webhook.Options{
			Config:      cfg.Webhook,
			Pipeline:    coord,
			Scorer:      sc,
			Hub:         hub,
			Logger:      log,
			Candles:     gw,
			Granularity: cfg.Scan.Granularity,
			CandleCount: cfg.Scan.Candles,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	runErr := g.Wait()
	coord.Wait()
	if err := coord.SaveStats(); err != nil {
		log.WithError(err).Error("save stats")
	}
	snap := led.Snapshot()
	log.WithFields(logrus.Fields{
		"balance":    snap.Balance,
		"daily_pnl":  snap.Daily.DailyPnL,
		"open":       len(snap.Open),
		"orphans":    len(snap.Orphans),
		"trades_day": snap.Daily.TradesToday,
	}).Info("trader stopped")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// newGateway builds the raw broker. The simulated broker comes with a price
// feed that has already back-filled enough history for the scanner.
func newGateway(cfg *config.Config) (broker.Gateway, *sim.Feed, error) {
	switch cfg.Broker.Type {
	case "oanda":
		return oanda.NewClient(cfg.Broker.Token, cfg.Broker.AccountID, cfg.Broker.Practice, cfg.Broker.BaseURL), nil, nil
	case "sim":
		eng := sim.NewEngine(cfg.Account.Currency, cfg.Broker.Sim.Balance)
		feed := sim.NewFeed(eng, simInstruments(cfg.Scan.Instruments), cfg.Broker.Sim.SpreadPips, time.Now().UnixNano())

		bars := 200
		if g, err := sim.Granularity(cfg.Scan.Granularity); err == nil && cfg.Scan.Candles > 0 {
			bars = (cfg.Scan.Candles + 2) * int(g/time.Minute)
		}
		if err := feed.Warmup(time.Now().UTC(), bars, time.Minute); err != nil {
			return nil, nil, fmt.Errorf("sim warmup: %w", err)
		}
		return eng, feed, nil
	}
	return nil, nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
}

// simInstruments is every instrument the random walk has a seed price for,
// plus the scanned ones.
func simInstruments(scan []string) []string {
	set := make(map[string]struct{})
	for inst := range sim.DefaultPrices {
		set[inst] = struct{}{}
	}
	for _, inst := range scan {
		set[market.NormalizeInstrument(inst)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for inst := range set {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// newJournal chains the configured store and the event hub behind an
// asynchronous writer so journaling never blocks the order path.
func newJournal(cfg config.JournalConfig, hub *webhook.Hub, log *logging.Logger) (*journal.Async, error) {
	sinks := journal.Multi{hub}
	switch cfg.Type {
	case "sqlite":
		j, err := journal.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		sinks = append(sinks, j)
	case "csv":
		j, err := journal.NewCSV(cfg.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		sinks = append(sinks, j)
	case "none", "":
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Type)
	}
	return journal.NewAsync(sinks, cfg.BufferSize, log), nil
}
