package journal

// SchemaSQLite creates every table on SQLite. Money columns are TEXT so
// decimals round-trip exactly.
const SchemaSQLite = `
CREATE TABLE IF NOT EXISTS instruments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	exchange TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL DEFAULT 'USD',
	sector TEXT NOT NULL DEFAULT '',
	industry TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT 1,
	added_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS prices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instrument_id INTEGER NOT NULL REFERENCES instruments(id),
	date DATE NOT NULL,
	open TEXT NOT NULL,
	high TEXT NOT NULL,
	low TEXT NOT NULL,
	close TEXT NOT NULL,
	adj_close TEXT NOT NULL,
	volume INTEGER NOT NULL,
	UNIQUE (instrument_id, date)
);

CREATE TABLE IF NOT EXISTS fundamentals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instrument_id INTEGER NOT NULL REFERENCES instruments(id),
	snapshot_date DATE NOT NULL,
	market_cap TEXT,
	pe_ratio TEXT,
	forward_pe TEXT,
	price_to_book TEXT,
	dividend_yield TEXT,
	eps TEXT,
	beta TEXT,
	UNIQUE (instrument_id, snapshot_date)
);

CREATE TABLE IF NOT EXISTS decision_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pipeline_run_id TEXT NOT NULL,
	instrument_id INTEGER NOT NULL REFERENCES instruments(id),
	action TEXT NOT NULL,
	confidence REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	reasoning TEXT NOT NULL,
	technical_summary TEXT NOT NULL,
	news_summary TEXT NOT NULL,
	memory_references TEXT NOT NULL DEFAULT '',
	portfolio_state TEXT NOT NULL,
	signal_rsi REAL,
	signal_macd_direction TEXT NOT NULL DEFAULT '',
	outcome_pnl NUMERIC,
	outcome_benchmark_delta NUMERIC,
	outcome_assessed_at DATETIME,
	is_backtest BOOLEAN NOT NULL DEFAULT 0,
	backtest_run_id TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_instrument ON decision_reports(instrument_id, created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_rsi ON decision_reports(signal_rsi);

CREATE TABLE IF NOT EXISTS decision_context_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_report_id INTEGER NOT NULL REFERENCES decision_reports(id),
	context_type TEXT NOT NULL,
	source TEXT NOT NULL,
	content TEXT NOT NULL,
	relevance_score REAL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instrument_id INTEGER NOT NULL REFERENCES instruments(id),
	quantity TEXT NOT NULL,
	avg_price TEXT NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	status TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status, instrument_id);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id INTEGER REFERENCES positions(id),
	decision_report_id INTEGER REFERENCES decision_reports(id),
	instrument_id INTEGER NOT NULL REFERENCES instruments(id),
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	total_value TEXT NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	broker_order_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	is_backtest BOOLEAN NOT NULL DEFAULT 0,
	backtest_run_id TEXT,
	executed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date DATE NOT NULL,
	total_value TEXT NOT NULL,
	cash TEXT NOT NULL,
	invested TEXT NOT NULL,
	daily_pnl TEXT NOT NULL,
	cumulative_pnl_pct REAL NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS position_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot_id INTEGER NOT NULL REFERENCES portfolio_snapshots(id),
	instrument_id INTEGER NOT NULL REFERENCES instruments(id),
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	market_value TEXT NOT NULL,
	weight_pct REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	instruments_analyzed INTEGER NOT NULL DEFAULT 0,
	candidates_screened INTEGER NOT NULL DEFAULT 0,
	trades_approved INTEGER NOT NULL DEFAULT 0,
	trades_executed INTEGER NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '[]',
	is_backtest BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS backtest_runs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	initial_capital TEXT NOT NULL,
	final_value TEXT,
	total_return_pct REAL NOT NULL DEFAULT 0,
	annualized_return_pct REAL NOT NULL DEFAULT 0,
	max_drawdown_pct REAL NOT NULL DEFAULT 0,
	sharpe_ratio REAL NOT NULL DEFAULT 0,
	total_trades INTEGER NOT NULL DEFAULT 0,
	win_rate REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	errors TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);
`

// SchemaPostgres creates every table on PostgreSQL.
const SchemaPostgres = `
CREATE TABLE IF NOT EXISTS instruments (
	id BIGSERIAL PRIMARY KEY,
	ticker TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	exchange TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL DEFAULT 'USD',
	sector TEXT NOT NULL DEFAULT '',
	industry TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	added_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS prices (
	id BIGSERIAL PRIMARY KEY,
	instrument_id BIGINT NOT NULL REFERENCES instruments(id),
	date DATE NOT NULL,
	open NUMERIC(18,6) NOT NULL,
	high NUMERIC(18,6) NOT NULL,
	low NUMERIC(18,6) NOT NULL,
	close NUMERIC(18,6) NOT NULL,
	adj_close NUMERIC(18,6) NOT NULL,
	volume BIGINT NOT NULL,
	UNIQUE (instrument_id, date)
);

CREATE TABLE IF NOT EXISTS fundamentals (
	id BIGSERIAL PRIMARY KEY,
	instrument_id BIGINT NOT NULL REFERENCES instruments(id),
	snapshot_date DATE NOT NULL,
	market_cap NUMERIC(24,2),
	pe_ratio NUMERIC(14,4),
	forward_pe NUMERIC(14,4),
	price_to_book NUMERIC(14,4),
	dividend_yield NUMERIC(10,6),
	eps NUMERIC(14,4),
	beta NUMERIC(10,4),
	UNIQUE (instrument_id, snapshot_date)
);

CREATE TABLE IF NOT EXISTS decision_reports (
	id BIGSERIAL PRIMARY KEY,
	pipeline_run_id TEXT NOT NULL,
	instrument_id BIGINT NOT NULL REFERENCES instruments(id),
	action TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	reasoning TEXT NOT NULL,
	technical_summary TEXT NOT NULL,
	news_summary TEXT NOT NULL,
	memory_references TEXT NOT NULL DEFAULT '',
	portfolio_state TEXT NOT NULL,
	signal_rsi DOUBLE PRECISION,
	signal_macd_direction TEXT NOT NULL DEFAULT '',
	outcome_pnl NUMERIC(12,4),
	outcome_benchmark_delta NUMERIC(8,4),
	outcome_assessed_at TIMESTAMPTZ,
	is_backtest BOOLEAN NOT NULL DEFAULT FALSE,
	backtest_run_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_instrument ON decision_reports(instrument_id, created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_rsi ON decision_reports(signal_rsi);

CREATE TABLE IF NOT EXISTS decision_context_items (
	id BIGSERIAL PRIMARY KEY,
	decision_report_id BIGINT NOT NULL REFERENCES decision_reports(id),
	context_type TEXT NOT NULL,
	source TEXT NOT NULL,
	content TEXT NOT NULL,
	relevance_score DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id BIGSERIAL PRIMARY KEY,
	instrument_id BIGINT NOT NULL REFERENCES instruments(id),
	quantity NUMERIC(18,6) NOT NULL,
	avg_price NUMERIC(18,4) NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	status TEXT NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status, instrument_id);

CREATE TABLE IF NOT EXISTS trades (
	id BIGSERIAL PRIMARY KEY,
	position_id BIGINT REFERENCES positions(id),
	decision_report_id BIGINT REFERENCES decision_reports(id),
	instrument_id BIGINT NOT NULL REFERENCES instruments(id),
	side TEXT NOT NULL,
	quantity NUMERIC(18,6) NOT NULL,
	price NUMERIC(18,4) NOT NULL,
	total_value NUMERIC(18,2) NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	broker_order_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	is_backtest BOOLEAN NOT NULL DEFAULT FALSE,
	backtest_run_id TEXT,
	executed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	id BIGSERIAL PRIMARY KEY,
	date DATE NOT NULL,
	total_value NUMERIC(18,4) NOT NULL,
	cash NUMERIC(18,4) NOT NULL,
	invested NUMERIC(18,4) NOT NULL,
	daily_pnl NUMERIC(18,4) NOT NULL,
	cumulative_pnl_pct DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS position_snapshots (
	id BIGSERIAL PRIMARY KEY,
	snapshot_id BIGINT NOT NULL REFERENCES portfolio_snapshots(id),
	instrument_id BIGINT NOT NULL REFERENCES instruments(id),
	quantity NUMERIC(18,6) NOT NULL,
	price NUMERIC(18,4) NOT NULL,
	market_value NUMERIC(18,4) NOT NULL,
	weight_pct DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	instruments_analyzed INTEGER NOT NULL DEFAULT 0,
	candidates_screened INTEGER NOT NULL DEFAULT 0,
	trades_approved INTEGER NOT NULL DEFAULT 0,
	trades_executed INTEGER NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '[]',
	is_backtest BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS backtest_runs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	initial_capital NUMERIC(18,2) NOT NULL,
	final_value NUMERIC(18,4),
	total_return_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	annualized_return_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_drawdown_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	sharpe_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_trades INTEGER NOT NULL DEFAULT 0,
	win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	errors TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
`
