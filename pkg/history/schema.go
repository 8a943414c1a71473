package history

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Times are stored as unix nanoseconds so ordering and range filters are
// plain integer comparisons.
const schema = `
CREATE TABLE IF NOT EXISTS relays (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    account TEXT NOT NULL,
    kind TEXT NOT NULL,
    path TEXT NOT NULL,

    status INTEGER NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL,
    bytes_in INTEGER NOT NULL,
    bytes_out INTEGER NOT NULL,
    end_reason TEXT,
    error TEXT,
    reconnects INTEGER NOT NULL DEFAULT 0,
    failovers INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relays_started_at ON relays(started_at);
CREATE INDEX IF NOT EXISTS idx_relays_ended_at ON relays(ended_at);
CREATE INDEX IF NOT EXISTS idx_relays_username ON relays(username);
CREATE INDEX IF NOT EXISTS idx_relays_account ON relays(account);
`

const insertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

const getSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const relayColumns = `id, username, account, kind, path, status, started_at, ended_at,
    bytes_in, bytes_out, end_reason, error, reconnects, failovers`
