package index

const schema = `
CREATE TABLE IF NOT EXISTS refs (
	id                    TEXT PRIMARY KEY,
	kind                  TEXT NOT NULL,
	source_url            TEXT NOT NULL,
	canonical_url         TEXT NOT NULL,
	host                  TEXT NOT NULL,
	content_hash          TEXT DEFAULT '',
	stage                 INTEGER NOT NULL,
	processable           INTEGER NOT NULL DEFAULT 1,
	failure_reason        TEXT DEFAULT '',
	priority              INTEGER NOT NULL DEFAULT 0,
	dedup_policy_marginal INTEGER,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL,
	next_retry_at         DATETIME,
	attempts              INTEGER NOT NULL DEFAULT 0,
	last_attempt_outcome  TEXT DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_refs_canonical_processable
	ON refs(canonical_url) WHERE processable = 1;
CREATE INDEX IF NOT EXISTS idx_refs_host ON refs(host);
CREATE INDEX IF NOT EXISTS idx_refs_stage ON refs(stage);
CREATE INDEX IF NOT EXISTS idx_refs_ready ON refs(next_retry_at);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id            TEXT PRIMARY KEY,
	reference_id           TEXT NOT NULL REFERENCES refs(id),
	raw_bytes_ref           TEXT DEFAULT '',
	cleaned_markdown_ref    TEXT DEFAULT '',
	sidecar_ref             TEXT DEFAULT '',
	byte_count              INTEGER DEFAULT 0,
	word_count              INTEGER DEFAULT 0,
	content_hash            TEXT DEFAULT '',
	quality                 TEXT DEFAULT '',
	quality_reasons         TEXT DEFAULT '[]',
	obtained_via_resolver   TEXT DEFAULT '',
	obtained_via_transport  TEXT DEFAULT '',
	obtained_from           TEXT DEFAULT '',
	fetch_latency_ms        INTEGER DEFAULT 0,
	attempts_used           INTEGER DEFAULT 0,
	created_at              DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_reference ON artifacts(reference_id);

CREATE TABLE IF NOT EXISTS engine_lock (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	pid          INTEGER NOT NULL,
	heartbeat_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS queue (
	reference_id     TEXT PRIMARY KEY REFERENCES refs(id),
	lease_owner      TEXT NOT NULL DEFAULT '',
	lease_expires_at DATETIME,
	ready_at         DATETIME NOT NULL,
	attempts         INTEGER NOT NULL DEFAULT 0,
	priority         INTEGER NOT NULL DEFAULT 0,
	classification   TEXT NOT NULL DEFAULT 'processable'
);

CREATE INDEX IF NOT EXISTS idx_queue_ready ON queue(ready_at);
CREATE INDEX IF NOT EXISTS idx_queue_lease ON queue(lease_expires_at);
CREATE INDEX IF NOT EXISTS idx_queue_classification ON queue(classification);
`
