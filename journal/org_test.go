package journal

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTradeOrg(t *testing.T) {
	t.Parallel()

	open := time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)
	o := openEntry("trade-12345678-abcd", open)
	c := o
	c.Stage = StageClosed
	c.Time = open.Add(4 * time.Hour)
	c.ClosePrice = 1.1050
	c.PnL = 49
	c.Outcome = "win"
	c.Reason = "take_profit"

	out := FormatTradeOrg([]Entry{o, c})
	assert.Contains(t, out, "** Trade: EUR_USD long (trade-12)")
	assert.Contains(t, out, ":TRADE_ID: trade-12345678-abcd")
	assert.Contains(t, out, ":ENTRY_PRICE: 1.10010")
	assert.Contains(t, out, ":OPEN_TIME: 2024-03-15T10:30:45Z")
	assert.Contains(t, out, ":EXIT_PRICE: 1.10500")
	assert.Contains(t, out, ":CLOSE_TIME: 2024-03-15T14:30:45Z")
	assert.Contains(t, out, ":REALIZED_PL: 49.00")
	assert.Contains(t, out, ":OUTCOME: win")
	assert.Contains(t, out, "*** Review")

	assert.NotContains(t, FormatTradeOrg([]Entry{o}), ":EXIT_PRICE:")
	assert.Empty(t, FormatTradeOrg(nil))
}

func TestDayReportWriteOrg(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	c := openEntry("T1", at.Add(time.Hour))
	c.Stage = StageClosed
	c.ClosePrice = 1.0980
	c.PnL = -20
	entries := []Entry{
		{Time: at, Stage: StageRejected, Instrument: "GBP_USD", Direction: "short", Reason: "poor_risk_reward"},
		openEntry("T1", at),
		c,
	}

	var buf bytes.Buffer
	require.NoError(t, NewDayReport("2024-03-15", entries, at).WriteOrg(&buf))
	out := buf.String()

	assert.Contains(t, out, "* TRADING DAY 2024-03-15")
	assert.Contains(t, out, ":OPENED:      1")
	assert.Contains(t, out, ":REJECTED:    1")
	assert.Contains(t, out, ":NET_PL:      -20.00")
	assert.Contains(t, out, "| poor_risk_reward | 1 |")
	assert.Contains(t, out, "| 10:00:00 | closed | EUR_USD | long | T1 | 0.10 | 1.09800 | -20.00 |  |")
}
