package journal

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"
)

// DayReport is the Org-mode rendering of one trading day of entries.
type DayReport struct {
	Day       string
	Generated time.Time
	Entries   []Entry
	Summary   Summary
}

func NewDayReport(day string, entries []Entry, now time.Time) DayReport {
	return DayReport{
		Day:       day,
		Generated: now,
		Entries:   entries,
		Summary:   Summarize(entries),
	}
}

var orgFuncs = template.FuncMap{
	"stamp": func(t time.Time) string { return t.UTC().Format("15:04:05") },
	"count": func(m map[Stage]int, s string) int { return m[Stage(s)] },
}

var dayOrgTmpl = template.Must(template.New("day").Funcs(orgFuncs).Parse(DayOrgTemplate))

func (r DayReport) WriteOrg(w io.Writer) error {
	return dayOrgTmpl.Execute(w, r)
}

const DayOrgTemplate = `* TRADING DAY {{.Day}}
:PROPERTIES:
:OPENED:      {{count .Summary.ByStage "open"}}
:CLOSED:      {{count .Summary.ByStage "closed"}}
:REJECTED:    {{count .Summary.ByStage "rejected"}}
:FAILED:      {{count .Summary.ByStage "failed"}}
:WINS:        {{.Summary.Wins}}
:LOSSES:      {{.Summary.Losses}}
:NET_PL:      {{printf "%.2f" .Summary.NetPnL}}
:PROFIT_FAC:  {{if ne .Summary.ProfitFactor 0.0}}{{printf "%.2f" .Summary.ProfitFactor}}{{else}}-{{end}}
:CREATED:     [{{.Generated.Format "2006-01-02 Mon 15:04"}}]
:END:
{{- if .Summary.ByReason}}

** Rejections
| Reason | Count |
|--------+-------|
{{- range $reason, $n := .Summary.ByReason}}
| {{$reason}} | {{$n}} |
{{- end}}
{{- end}}

** Entries
| Time | Stage | Instrument | Dir | Trade | Lots | Price | P/L | Reason |
|------+-------+------------+-----+-------+------+-------+-----+--------|
{{- range .Entries}}
| {{stamp .Time}} | {{.Stage}} | {{.Instrument}} | {{.Direction}} | {{.TradeID}} | {{if .Lots}}{{printf "%.2f" .Lots}}{{end}} | {{if .ClosePrice}}{{printf "%.5f" .ClosePrice}}{{else if .FillPrice}}{{printf "%.5f" .FillPrice}}{{else}}{{printf "%.5f" .EntryPrice}}{{end}} | {{if eq .Stage "closed"}}{{printf "%.2f" .PnL}}{{end}} | {{.Reason}} |
{{- end}}
`

// FormatTradeOrg renders the lifecycle of one broker trade from its
// open and close entries.
func FormatTradeOrg(history []Entry) string {
	if len(history) == 0 {
		return ""
	}
	var open, closed *Entry
	for i := range history {
		switch history[i].Stage {
		case StageOpen:
			open = &history[i]
		case StageClosed:
			closed = &history[i]
		}
	}
	first := history[0]
	if open != nil {
		first = *open
	}

	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s %s (%s)\n", first.Instrument, first.Direction, shortID(first.TradeID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRADE_ID: %s\n", first.TradeID)
	fmt.Fprintf(&b, ":SIGNAL_ID: %s\n", first.SignalID)
	fmt.Fprintf(&b, ":SOURCE: %s\n", first.Source)
	fmt.Fprintf(&b, ":LOTS: %.2f\n", first.Lots)
	fmt.Fprintf(&b, ":ENTRY_PRICE: %.5f\n", first.FillPrice)
	fmt.Fprintf(&b, ":STOP: %.5f\n", first.Stop)
	fmt.Fprintf(&b, ":TARGET: %.5f\n", first.Target)
	fmt.Fprintf(&b, ":RISK: %.2f\n", first.Risk)
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", first.Time.UTC().Format(time.RFC3339))
	if closed != nil {
		fmt.Fprintf(&b, ":EXIT_PRICE: %.5f\n", closed.ClosePrice)
		fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", closed.Time.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, ":REALIZED_PL: %.2f\n", closed.PnL)
		fmt.Fprintf(&b, ":OUTCOME: %s\n", closed.Outcome)
		fmt.Fprintf(&b, ":REASON: %s\n", closed.Reason)
	}
	b.WriteString(":END:\n\n")
	b.WriteString("*** Review\n- \n")
	return b.String()
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
