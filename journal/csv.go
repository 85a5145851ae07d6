package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"
)

var csvHeader = []string{
	"id", "time", "stage", "signal_id", "source", "instrument", "direction",
	"trade_id", "client_order_id", "reason", "detail", "confidence", "entry_price",
	"stop", "target", "lots", "units", "risk", "fill_price", "close_price", "pnl", "outcome",
}

// CSV appends entries to a single file. The header is written only when
// the file is new.
type CSV struct {
	mu sync.Mutex
	w  *csv.Writer
	f  *os.File
}

func NewCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &CSV{w: w, f: f}, nil
}

func (j *CSV) Record(e Entry) error {
	e = e.Stamp(time.Now())

	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.w.Write([]string{
		e.ID,
		e.Time.UTC().Format(time.RFC3339Nano),
		string(e.Stage),
		e.SignalID,
		e.Source,
		e.Instrument,
		e.Direction,
		e.TradeID,
		e.ClientOrderID,
		e.Reason,
		e.Detail,
		f(e.Confidence),
		f(e.EntryPrice),
		f(e.Stop),
		f(e.Target),
		f(e.Lots),
		f(e.Units),
		f(e.Risk),
		f(e.FillPrice),
		f(e.ClosePrice),
		f(e.PnL),
		e.Outcome,
	})
	if err != nil {
		return err
	}
	j.w.Flush()
	return j.w.Error()
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.w.Flush()
	return errors.Join(j.w.Error(), j.f.Close())
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
