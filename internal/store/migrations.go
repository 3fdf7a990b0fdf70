package store

const schema = `
CREATE TABLE IF NOT EXISTS slices (
    slice_key TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'unclaimed',
    claimed_by TEXT,
    claimed_at TIMESTAMP,
    target INTEGER NOT NULL DEFAULT 0,
    recorded INTEGER NOT NULL DEFAULT 0,
    last_updated TIMESTAMP,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_slices_status ON slices(status);
CREATE INDEX IF NOT EXISTS idx_slices_claimed_by ON slices(claimed_by);

CREATE TABLE IF NOT EXISTS workers (
    worker_id TEXT PRIMARY KEY,
    last_seen TIMESTAMP,
    active_slices INTEGER NOT NULL DEFAULT 0,
    records INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT
);
`
