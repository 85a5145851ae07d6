// Package daystats persists one JSON document per trading day holding the
// ledger's daily and lifetime counters plus recent breaker alerts.
package daystats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/risk"
)

const (
	prefix = "stats-"
	suffix = ".json"
)

var ErrNotFound = errors.New("daystats: no stats file")

type File struct {
	Day         string               `json:"day"`
	SavedAt     time.Time            `json:"saved_at"`
	Balance     float64              `json:"balance"`
	PeakBalance float64              `json:"peak_balance"`
	Breaker     risk.BreakerState    `json:"breaker"`
	Daily       ledger.DailyStats    `json:"daily"`
	Lifetime    ledger.LifetimeStats `json:"lifetime"`
	OpenTrades  int                  `json:"open_trades"`
	Orphans     int                  `json:"orphans"`
	Alerts      []risk.Alert         `json:"alerts"`
}

type Store struct {
	Dir       string
	MaxAlerts int
}

func NewStore(dir string, maxAlerts int) *Store {
	return &Store{Dir: dir, MaxAlerts: maxAlerts}
}

func (s *Store) Path(day string) string {
	return filepath.Join(s.Dir, prefix+day+suffix)
}

// Build assembles the document for a snapshot. Only the most recent
// MaxAlerts alerts are kept.
func (s *Store) Build(snap ledger.Snapshot, state risk.BreakerState, alerts []risk.Alert) File {
	if s.MaxAlerts > 0 && len(alerts) > s.MaxAlerts {
		alerts = alerts[len(alerts)-s.MaxAlerts:]
	}
	out := make([]risk.Alert, len(alerts))
	copy(out, alerts)
	return File{
		Day:         snap.Daily.Day,
		SavedAt:     snap.Time.UTC(),
		Balance:     snap.Balance,
		PeakBalance: snap.PeakBalance,
		Breaker:     state,
		Daily:       snap.Daily,
		Lifetime:    snap.Lifetime,
		OpenTrades:  len(snap.Open),
		Orphans:     len(snap.Orphans),
		Alerts:      out,
	}
}

func (s *Store) Save(f File) error {
	if f.Day == "" {
		return errors.New("daystats: empty day")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.Path(f.Day), b, 0o644)
}

func (s *Store) Load(day string) (File, error) {
	b, err := os.ReadFile(s.Path(day))
	if errors.Is(err, os.ErrNotExist) {
		return File{}, fmt.Errorf("%w for %s", ErrNotFound, day)
	}
	if err != nil {
		return File{}, err
	}
	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return File{}, fmt.Errorf("decode %s: %w", s.Path(day), err)
	}
	return f, nil
}

// Latest returns the most recent day's file. Lifetime stats are restored
// from it at startup.
func (s *Store) Latest() (File, error) {
	days, err := s.Days()
	if err != nil {
		return File{}, err
	}
	if len(days) == 0 {
		return File{}, ErrNotFound
	}
	return s.Load(days[len(days)-1])
}

// Days lists the days with a stats file, oldest first.
func (s *Store) Days() ([]string, error) {
	ents, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var days []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Strings(days)
	return days, nil
}

// writeFileAtomic writes via a temp file in the same directory, fsyncs,
// then renames over the target.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	// best effort
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
