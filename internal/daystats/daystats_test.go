package daystats

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/risk"
)

func snapshot(day string, balance float64) ledger.Snapshot {
	return ledger.Snapshot{
		Time:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Balance:     balance,
		PeakBalance: 1000,
		Daily: ledger.DailyStats{
			Day: day, TradesToday: 2, WinsToday: 1, LossesToday: 1,
			ConsecutiveLosses: 1, DailyPnL: -5, DayStartBalance: 1000,
		},
		Lifetime: ledger.LifetimeStats{TotalTrades: 10, Wins: 6, Losses: 4, RealizedPnL: 42},
		Open:     []ledger.OpenTrade{{TradeID: "1"}},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "stats"), 2)
	alerts := []risk.Alert{
		{From: risk.OK, To: risk.Throttled},
		{From: risk.Throttled, To: risk.OK},
		{From: risk.OK, To: risk.Halted, Message: "emergency stop"},
	}
	f := s.Build(snapshot("2024-05-01", 995), risk.Halted, alerts)
	require.Len(t, f.Alerts, 2)
	assert.Equal(t, risk.Halted, f.Alerts[1].To)

	require.NoError(t, s.Save(f))
	_, err := os.Stat(filepath.Join(s.Dir, "stats-2024-05-01.json"))
	require.NoError(t, err)

	got, err := s.Load("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, f.Daily, got.Daily)
	assert.Equal(t, f.Lifetime, got.Lifetime)
	assert.Equal(t, risk.Halted, got.Breaker)
	assert.Equal(t, 1, got.OpenTrades)
	assert.InDelta(t, 995.0, got.Balance, 1e-9)
}

func TestSaveOverwritesAndLeavesNoTemp(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir(), 20)
	require.NoError(t, s.Save(s.Build(snapshot("2024-05-01", 990), risk.OK, nil)))
	require.NoError(t, s.Save(s.Build(snapshot("2024-05-01", 980), risk.OK, nil)))

	ents, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	require.Len(t, ents, 1)

	got, err := s.Load("2024-05-01")
	require.NoError(t, err)
	assert.InDelta(t, 980.0, got.Balance, 1e-9)
}

func TestLatestPicksNewestDay(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir(), 20)
	_, err := s.Latest()
	assert.ErrorIs(t, err, ErrNotFound)

	for _, day := range []string{"2024-05-02", "2024-04-30", "2024-05-01"} {
		require.NoError(t, s.Save(s.Build(snapshot(day, 1000), risk.OK, nil)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, "stats-garbage.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, "notes.txt"), []byte("x"), 0o644))

	days, err := s.Days()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-04-30", "2024-05-01", "2024-05-02"}, days)

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02", latest.Day)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir(), 20)
	_, err := s.Load("2024-01-01")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(s.Path("2024-01-02"), []byte("{not json"), 0o644))
	_, err = s.Load("2024-01-02")
	assert.Error(t, err)

	assert.Error(t, s.Save(File{}))
}
