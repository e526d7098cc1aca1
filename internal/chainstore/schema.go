package chainstore

const schema = `
CREATE TABLE IF NOT EXISTS chains (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    nodes TEXT NOT NULL,
    connections TEXT NOT NULL,
    tags TEXT,
    run_count INTEGER NOT NULL DEFAULT 0,
    last_run_at TIMESTAMP,
    last_status TEXT,
    schedule_id TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chains_name ON chains(name);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    chain_id TEXT NOT NULL,
    chain_name TEXT NOT NULL,
    status TEXT NOT NULL,
    current_node_id TEXT,
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    error TEXT,
    variables TEXT,
    node_results TEXT,
    parent_run_id TEXT,
    depth INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_chain_id ON runs(chain_id);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS schedules (
    id TEXT PRIMARY KEY,
    chain_id TEXT NOT NULL REFERENCES chains(id) ON DELETE CASCADE,
    cron TEXT NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    last_run_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_schedules_chain_id ON schedules(chain_id);
`
