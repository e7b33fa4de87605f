package db

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- One row per pipeline run
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    source_path TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    outcome TEXT NOT NULL DEFAULT 'running',  -- running, completed, cancelled
    enqueued INTEGER NOT NULL DEFAULT 0,
    processed INTEGER NOT NULL DEFAULT 0,
    ok_count INTEGER NOT NULL DEFAULT 0,
    err_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

-- One row per looked-up SKU
CREATE TABLE IF NOT EXISTS sku_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT,
    sku TEXT NOT NULL,
    last_order_date TEXT,       -- YYYY-MM-DD
    days_since INTEGER,
    order_reference TEXT,
    result_count INTEGER NOT NULL DEFAULT 0,
    response_code INTEGER NOT NULL DEFAULT 0,  -- 0 when no response was received
    error TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    processed_at TIMESTAMP NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sku_results_sku ON sku_results(sku);
CREATE INDEX IF NOT EXISTS idx_sku_results_run ON sku_results(run_id);
`
