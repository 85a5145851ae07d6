package journal

import (
	"database/sql"
	"fmt"
	"time"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var stage string
	err := s.Scan(
		&e.ID, &e.Time, &stage, &e.SignalID, &e.Source, &e.Instrument, &e.Direction,
		&e.TradeID, &e.ClientOrderID, &e.Reason, &e.Detail, &e.Confidence, &e.EntryPrice,
		&e.Stop, &e.Target, &e.Lots, &e.Units, &e.Risk, &e.FillPrice, &e.ClosePrice,
		&e.PnL, &e.Outcome,
	)
	e.Stage = Stage(stage)
	return e, err
}

func (j *SQLite) query(q string, args ...any) ([]Entry, error) {
	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEntry returns a single entry by ID.
func (j *SQLite) GetEntry(entryID string) (Entry, error) {
	row := j.db.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, entryID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, fmt.Errorf("entry %q not found", entryID)
	}
	return e, err
}

// TradeHistory returns every entry for a broker trade id, oldest first.
func (j *SQLite) TradeHistory(tradeID string) ([]Entry, error) {
	out, err := j.query(`SELECT `+entryColumns+` FROM entries WHERE trade_id = ? ORDER BY time ASC, id ASC`, tradeID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("trade %q not found", tradeID)
	}
	return out, nil
}

// ListBetween returns entries with time in [start, end).
func (j *SQLite) ListBetween(start, end time.Time) ([]Entry, error) {
	return j.query(`SELECT `+entryColumns+` FROM entries
		WHERE time >= ? AND time < ? ORDER BY time ASC, id ASC`, start.UTC(), end.UTC())
}

// Summary aggregates entries in a time range.
type Summary struct {
	ByStage      map[Stage]int
	ByReason     map[string]int
	Wins         int
	Losses       int
	NetPnL       float64
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
}

func Summarize(entries []Entry) Summary {
	s := Summary{ByStage: map[Stage]int{}, ByReason: map[string]int{}}
	for _, e := range entries {
		s.ByStage[e.Stage]++
		if e.Stage == StageRejected || e.Stage == StageFailed {
			s.ByReason[e.Reason]++
		}
		if e.Stage != StageClosed {
			continue
		}
		s.NetPnL += e.PnL
		if e.PnL > 0 {
			s.Wins++
			s.GrossProfit += e.PnL
		} else {
			s.Losses++
			s.GrossLoss -= e.PnL
		}
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	return s
}
