package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
		longitude DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
		description TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'uncategorized',
		source TEXT NOT NULL DEFAULT 'manual' CHECK (source IN ('manual', 'instagram')),
		source_url TEXT NOT NULL DEFAULT '',
		date_posted TIMESTAMPTZ,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		version BIGINT NOT NULL DEFAULT 1 CHECK (version >= 1),
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		sync_status SMALLINT NOT NULL DEFAULT 0 CHECK (sync_status IN (0, 1, 2)),
		sync_started_at TIMESTAMPTZ,
		external_id TEXT UNIQUE,
		last_synced_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_coords ON locations (latitude, longitude)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_category ON locations (category)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_created_by ON locations (created_by)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_sync_status ON locations (sync_status)`,

	`CREATE TABLE IF NOT EXISTS user_locations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		location_id TEXT NOT NULL REFERENCES locations (id) ON DELETE CASCADE,
		is_favorite BOOLEAN NOT NULL DEFAULT FALSE,
		notify_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		notify_radius DOUBLE PRECISION NOT NULL DEFAULT 1.0 CHECK (notify_radius > 0),
		custom_name TEXT NOT NULL DEFAULT '',
		custom_description TEXT NOT NULL DEFAULT '',
		custom_category TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		version BIGINT NOT NULL DEFAULT 1,
		sync_status SMALLINT NOT NULL DEFAULT 0 CHECK (sync_status IN (0, 1, 2)),
		sync_started_at TIMESTAMPTZ,
		external_id TEXT,
		last_synced_at TIMESTAMPTZ,
		UNIQUE (user_id, location_id),
		UNIQUE (user_id, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_locations_sync ON user_locations (user_id, sync_status)`,
}

// CreateTables bootstraps the relational schema. Safe to run on every start.
func CreateTables(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("error creating schema: %w", err)
		}
	}
	return nil
}
