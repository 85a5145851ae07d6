package journal

const Schema = `
CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	stage TEXT NOT NULL,
	signal_id TEXT NOT NULL,
	source TEXT NOT NULL,
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	trade_id TEXT NOT NULL DEFAULT '',
	client_order_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	entry_price REAL NOT NULL DEFAULT 0,
	stop REAL NOT NULL DEFAULT 0,
	target REAL NOT NULL DEFAULT 0,
	lots REAL NOT NULL DEFAULT 0,
	units REAL NOT NULL DEFAULT 0,
	risk REAL NOT NULL DEFAULT 0,
	fill_price REAL NOT NULL DEFAULT 0,
	close_price REAL NOT NULL DEFAULT 0,
	pnl REAL NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_entries_time ON entries(time);
CREATE INDEX IF NOT EXISTS idx_entries_trade ON entries(trade_id);
CREATE INDEX IF NOT EXISTS idx_entries_signal ON entries(signal_id);
`

const entryColumns = `id, time, stage, signal_id, source, instrument, direction, trade_id, client_order_id,
	reason, detail, confidence, entry_price, stop, target, lots, units, risk, fill_price, close_price, pnl, outcome`
