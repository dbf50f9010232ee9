package sqlite

// Schema is the complete SQLite schema for memorycore.
//
// seq is the rowid alias and therefore records first-insertion order; upserts
// keep it, which gives List a stable order. JSON columns always hold valid
// JSON ('[]' or '{}' when empty) so json_each can be used in filters.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	id TEXT NOT NULL,
	content TEXT NOT NULL,

	-- metadata
	category TEXT NOT NULL DEFAULT 'general',
	importance TEXT NOT NULL DEFAULT 'medium',
	tags TEXT NOT NULL DEFAULT '[]',
	custom_fields TEXT NOT NULL DEFAULT '{}',

	-- embedding stored as little-endian float32
	embedding BLOB,
	dimension INTEGER NOT NULL DEFAULT 0,

	relationships TEXT NOT NULL DEFAULT '[]',
	versions TEXT NOT NULL DEFAULT '[]',
	version INTEGER NOT NULL DEFAULT 1,

	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	expires_at TEXT,

	UNIQUE (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_memories_tenant_category ON memories(tenant_id, category);
CREATE INDEX IF NOT EXISTS idx_memories_tenant_expires ON memories(tenant_id, expires_at);
`
