package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// go-sqlite3 serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Record(e Entry) error {
	e = e.Stamp(time.Now())
	_, err := j.db.Exec(`INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.UTC(), string(e.Stage), e.SignalID, e.Source, e.Instrument, e.Direction,
		e.TradeID, e.ClientOrderID, e.Reason, e.Detail, e.Confidence, e.EntryPrice, e.Stop,
		e.Target, e.Lots, e.Units, e.Risk, e.FillPrice, e.ClosePrice, e.PnL, e.Outcome,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
