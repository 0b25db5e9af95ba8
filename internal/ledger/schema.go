package ledger

import (
	"context"
	"fmt"

	"github.com/cuongbtq/compression-service/shared/postgresql"
	"github.com/cuongbtq/compression-service/shared/sqlite"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS compression_jobs (
	uuid TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	status TEXT NOT NULL CHECK (status IN ('pending', 'in_progress', 'finished', 'failed')),
	compression_algorithm TEXT NOT NULL CHECK (compression_algorithm <> ''),
	original_name TEXT,
	compression_params JSONB,
	heartbeat TIMESTAMPTZ,
	retry_count INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
	CHECK (status = 'pending' OR heartbeat IS NOT NULL)
);
CREATE INDEX IF NOT EXISTS idx_compression_jobs_status ON compression_jobs (status);
CREATE INDEX IF NOT EXISTS idx_compression_jobs_heartbeat ON compression_jobs (heartbeat);
CREATE INDEX IF NOT EXISTS idx_compression_jobs_created ON compression_jobs (created_at, uuid);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS compression_jobs (
	uuid TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'in_progress', 'finished', 'failed')),
	compression_algorithm TEXT NOT NULL CHECK (compression_algorithm <> ''),
	original_name TEXT,
	compression_params TEXT,
	heartbeat TIMESTAMP,
	retry_count INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
	CHECK (status = 'pending' OR heartbeat IS NOT NULL)
);
CREATE INDEX IF NOT EXISTS idx_compression_jobs_status ON compression_jobs (status);
CREATE INDEX IF NOT EXISTS idx_compression_jobs_heartbeat ON compression_jobs (heartbeat);
CREATE INDEX IF NOT EXISTS idx_compression_jobs_created ON compression_jobs (created_at, uuid);
`

// EnsureSchema creates the compression_jobs table and its indexes if missing.
// Production databases are normally provisioned ahead of time; this exists for
// the embedded driver and for tests.
func (s *Store) EnsureSchema(ctx context.Context) error {
	var ddl string
	switch s.db.DriverName() {
	case postgresql.DriverName:
		ddl = postgresSchema
	case sqlite.DriverName:
		ddl = sqliteSchema
	default:
		return fmt.Errorf("no ledger schema for driver %q", s.db.DriverName())
	}

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}
