package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/internal/daystats"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/webhook"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cfgFile, journalDBPath, statsDay, statsJSON = "", "", "", false
	})
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.yaml")

	out := execute(t, "config", "init", "-o", path)
	assert.Contains(t, out, path)

	out = execute(t, "config", "validate", "-f", path)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "Broker: sim")
}

func TestVersion(t *testing.T) {
	assert.Contains(t, execute(t, "version"), version)
}

func TestStatsShow(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Stats.Dir = filepath.Join(dir, "stats")
	cfgPath := filepath.Join(dir, "trader.yaml")
	require.NoError(t, cfg.SaveToFile(cfgPath))

	store := daystats.NewStore(cfg.Stats.Dir, 10)
	require.NoError(t, store.Save(daystats.File{
		Day:     "2026-03-02",
		Balance: 9800,
		Breaker: risk.Throttled,
		Daily:   ledger.DailyStats{Day: "2026-03-02", TradesToday: 2, LossesToday: 2, DailyPnL: -200},
		Alerts:  []risk.Alert{{Time: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), From: risk.OK, To: risk.Throttled}},
	}))

	out := execute(t, "stats", "show", "-c", cfgPath)
	assert.Contains(t, out, "Day: 2026-03-02")
	assert.Contains(t, out, "Breaker: THROTTLED")
	assert.Contains(t, out, "OK -> THROTTLED")

	out = execute(t, "stats", "list", "-c", cfgPath)
	assert.Contains(t, out, "2026-03-02")
}

func TestJournalCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.sqlite")
	j, err := journal.NewSQLite(dbPath)
	require.NoError(t, err)

	at := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	for _, e := range []journal.Entry{
		{Stage: journal.StageOpen, TradeID: "T1", Instrument: "EUR_USD", Direction: "long", EntryPrice: 1.1, Lots: 1},
		{Stage: journal.StageClosed, TradeID: "T1", Instrument: "EUR_USD", Direction: "long", ClosePrice: 1.105, PnL: 500, Outcome: "win"},
	} {
		require.NoError(t, j.Record(e.Stamp(at)))
		at = at.Add(time.Hour)
	}
	require.NoError(t, j.Close())

	out := execute(t, "journal", "trade", "T1", "-d", dbPath)
	assert.Contains(t, out, "EUR_USD")

	out = execute(t, "journal", "day", "2026-03-02", "-d", dbPath)
	assert.Contains(t, out, "2026-03-02")
	assert.Contains(t, out, ":WINS:")
}

func TestSimInstruments(t *testing.T) {
	got := simInstruments([]string{"eurusd", "EUR_GBP"})
	assert.Contains(t, got, "EUR_USD")
	assert.Contains(t, got, "EUR_GBP")
	assert.IsIncreasing(t, got)
}

func TestNewJournal(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg     config.JournalConfig
		wantErr bool
	}{
		{config.JournalConfig{Type: "sqlite", DBPath: filepath.Join(dir, "j.sqlite"), BufferSize: 4}, false},
		{config.JournalConfig{Type: "csv", CSVPath: filepath.Join(dir, "j.csv"), BufferSize: 4}, false},
		{config.JournalConfig{Type: "none"}, false},
		{config.JournalConfig{Type: "kafka"}, true},
	}
	for _, tc := range tests {
		j, err := newJournal(tc.cfg, webhook.NewHub(nil), nil)
		if tc.wantErr {
			assert.Error(t, err, tc.cfg.Type)
			continue
		}
		require.NoError(t, err, tc.cfg.Type)
		assert.NoError(t, j.Close())
	}
}
