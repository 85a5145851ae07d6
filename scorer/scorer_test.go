package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/market/strategies"
	"github.com/rustyeddy/autotrader/signal"
)

func long(rr float64) signal.Signal {
	return signal.Signal{Instrument: "EUR_USD", Direction: market.Long, RiskReward: rr}
}

func TestStaticClamps(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in, want float64
	}{{0.7, 0.7}, {-1, 0}, {3, 1}} {
		got, err := Static{Confidence: tc.in}.Score(context.Background(), long(2), MarketContext{})
		require.NoError(t, err)
		assert.InDelta(t, tc.want, got, 1e-9)
	}
}

func TestTrendUsesDecision(t *testing.T) {
	t.Parallel()

	tr := NewTrend(0.5)
	strong := &strategies.Decision{ADX: 40, PlusDI: 30, MinusDI: 10}

	up, err := tr.Score(context.Background(), long(3), MarketContext{Decision: strong})
	require.NoError(t, err)
	assert.InDelta(t, 0.5+0.25+0.15+0.10, up, 1e-9)

	short := long(3)
	short.Direction = market.Short
	against, err := tr.Score(context.Background(), short, MarketContext{Decision: strong})
	require.NoError(t, err)
	assert.InDelta(t, 0.5+0.25-0.15+0.10, against, 1e-9)
	assert.Greater(t, up, against)
}

func TestTrendWithoutContext(t *testing.T) {
	t.Parallel()

	got, err := NewTrend(0.6).Score(context.Background(), long(1), MarketContext{})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got, 1e-9)
}

func TestTrendReadsCandles(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var candles []market.Candle
	p := 1.1000
	for i := 0; i < 80; i++ {
		candles = append(candles, market.Candle{Open: p, High: p + 0.0015, Low: p - 0.0003, Close: p + 0.0010, Time: start.Add(time.Duration(i) * time.Minute)})
		p += 0.0010
	}

	got, err := NewTrend(0.5).Score(context.Background(), long(2), MarketContext{Candles: candles})
	require.NoError(t, err)
	assert.Greater(t, got, 0.7)
}

func TestTrendHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTrend(0.5).Score(ctx, long(2), MarketContext{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	t.Parallel()

	s, err := New(config.ExecutionConfig{Scorer: "trend", DefaultConfidence: 0.5})
	require.NoError(t, err)
	assert.IsType(t, Trend{}, s)

	s, err = New(config.ExecutionConfig{DefaultConfidence: 0.8})
	require.NoError(t, err)
	assert.Equal(t, Static{Confidence: 0.8}, s)

	_, err = New(config.ExecutionConfig{Scorer: "sklearn"})
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	t.Parallel()

	f := Func(func(context.Context, signal.Signal, MarketContext) (float64, error) { return 0.9, nil })
	got, err := f.Score(context.Background(), long(2), MarketContext{})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got, 1e-9)
}
