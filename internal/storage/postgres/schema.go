// Package postgres provides the PostgreSQL storage backend. Vector search is
// delegated to the pgvector extension when it is installed.
package postgres

// Schema contains the SQL statements to create the database schema for PostgreSQL.
// embedding_raw always holds the vector so the store works without pgvector;
// the pgvector column is added by MigrationPgvector.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    seq BIGSERIAL,
    tenant_id TEXT NOT NULL,
    id TEXT NOT NULL,
    content TEXT NOT NULL,

    -- Metadata
    category TEXT NOT NULL DEFAULT 'general',
    importance TEXT NOT NULL DEFAULT 'medium',
    tags JSONB NOT NULL DEFAULT '[]',
    custom_fields JSONB NOT NULL DEFAULT '{}',

    -- Embedding as a float4 array; dimension is implied by its length
    embedding_raw REAL[],

    -- History and graph
    relationships JSONB NOT NULL DEFAULT '[]',
    versions JSONB NOT NULL DEFAULT '[]',
    version INTEGER NOT NULL DEFAULT 1,

    -- Timestamps
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ,

    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_memories_tenant_seq ON memories(tenant_id, seq);
CREATE INDEX IF NOT EXISTS idx_memories_tenant_category ON memories(tenant_id, category);
CREATE INDEX IF NOT EXISTS idx_memories_tags ON memories USING GIN (tags);
`

// MigrationPgvector adds the pgvector column used for server-side ranking.
// It is only applied when the vector extension is available and is safe to
// run multiple times.
const MigrationPgvector = `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS embedding vector;
`
