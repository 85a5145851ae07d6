package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/risk"
)

var (
	metricSignals       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "autotrader_signals_total", Help: "Signals submitted to the coordinator"}, []string{"source"})
	metricRejections    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "autotrader_rejections_total", Help: "Signals rejected, by reason"}, []string{"reason"})
	metricOrdersPlaced  = prometheus.NewCounter(prometheus.CounterOpts{Name: "autotrader_orders_placed_total", Help: "Orders filled by the broker"})
	metricOrdersFailed  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "autotrader_orders_failed_total", Help: "Orders that failed at the broker, by reason"}, []string{"reason"})
	metricTradesClosed  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "autotrader_trades_closed_total", Help: "Trades closed, by outcome"}, []string{"outcome"})
	metricOrphans       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "autotrader_orphaned_orders", Help: "Orders with unknown broker state"})
	metricOpenTrades    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "autotrader_open_trades", Help: "Open trades held by the ledger"})
	metricBalance       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "autotrader_balance", Help: "Account balance in account currency"})
	metricDailyPnL      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "autotrader_daily_pnl", Help: "Realized P/L today"})
	metricBreakerState  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "autotrader_breaker_state", Help: "0=OK, 1=THROTTLED, 2=HALTED"})
	metricSubmitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autotrader_submit_seconds",
		Help:    "Time from signal receipt to terminal submit state",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

func init() {
	prometheus.MustRegister(
		metricSignals, metricRejections, metricOrdersPlaced, metricOrdersFailed,
		metricTradesClosed, metricOrphans, metricOpenTrades, metricBalance,
		metricDailyPnL, metricBreakerState, metricSubmitSeconds,
	)
}

func observeSnapshot(s ledger.Snapshot, state risk.BreakerState) {
	metricOpenTrades.Set(float64(len(s.Open)))
	metricOrphans.Set(float64(len(s.Orphans)))
	metricBalance.Set(s.Balance)
	metricDailyPnL.Set(s.Daily.DailyPnL)
	metricBreakerState.Set(float64(state.Level()))
}
