package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash BYTEA NOT NULL,
		name          TEXT NOT NULL,
		roles         TEXT[] NOT NULL DEFAULT '{}',
		farm_id       TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'active',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		device_id    TEXT NOT NULL,
		device_name  TEXT NOT NULL DEFAULT '',
		ip_address   TEXT NOT NULL DEFAULT '',
		user_agent   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at   TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, device_id)
	)`,
	`CREATE INDEX IF NOT EXISTS user_sessions_expires_idx ON user_sessions (expires_at)`,
	`CREATE TABLE IF NOT EXISTS talhoes (
		id                     TEXT PRIMARY KEY,
		nome                   TEXT NOT NULL,
		area_hectares          DOUBLE PRECISION NOT NULL DEFAULT 0,
		cultura                TEXT NOT NULL DEFAULT '',
		variedade              TEXT NOT NULL DEFAULT '',
		data_plantio           TIMESTAMPTZ,
		data_colheita_prevista TIMESTAMPTZ,
		coordenadas            JSONB NOT NULL DEFAULT '[]',
		fazenda_id             TEXT NOT NULL DEFAULT '',
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS talhoes_fazenda_idx ON talhoes (fazenda_id, cultura)`,
	`CREATE TABLE IF NOT EXISTS talhao_images (
		object_key   TEXT PRIMARY KEY,
		talhao_id    TEXT NOT NULL REFERENCES talhoes(id) ON DELETE CASCADE,
		url          TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size_bytes   BIGINT NOT NULL DEFAULT 0,
		uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the tables the API needs. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema step %d: %w", i+1, err)
		}
	}
	return nil
}
