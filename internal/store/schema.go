package store

// schema is the fixed relational schema. WAL journaling and
// synchronous=NORMAL are set at connection-open time (see store.go), not
// here, since pragmas are per-connection rather than persistent DDL.
const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	location TEXT NOT NULL,
	config_json TEXT NOT NULL,
	compare_strategy TEXT NOT NULL,
	status_json TEXT NOT NULL DEFAULT '{"state":"new"}',
	last_indexed INTEGER,
	index_version INTEGER NOT NULL DEFAULT 0,
	deleted_at INTEGER
);

CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL REFERENCES sources(id),
	external_id TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	hash TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	raw_content BLOB,
	process_version INTEGER NOT NULL DEFAULT 0,
	name TEXT,
	author TEXT,
	description TEXT,
	modified INTEGER,
	last_accessed INTEGER,
	skipped TEXT,
	skipped_permanent INTEGER NOT NULL DEFAULT 0,
	hidden_at INTEGER,
	UNIQUE(source_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_items_source ON items(source_id);
CREATE INDEX IF NOT EXISTS idx_items_process_version ON items(source_id, process_version);

CREATE TABLE IF NOT EXISTS item_embeddings (
	item_id INTEGER NOT NULL REFERENCES items(id),
	item_index_version INTEGER NOT NULL,
	model_id INTEGER NOT NULL,
	model_version INTEGER NOT NULL,
	embedding BLOB NOT NULL,
	PRIMARY KEY (item_id, model_id, model_version)
);

CREATE INDEX IF NOT EXISTS idx_embeddings_model ON item_embeddings(model_id, model_version);
`
