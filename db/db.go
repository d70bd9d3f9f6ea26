// Package db provides the Postgres connection, schema migration, and the
// persistence for integrations, chat users, and OAuth tokens.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection with the given DSN. The caller
// supplies it from config so there is a single place the default lives.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and
// indices. Used as a fallback when the versioned migration files are not
// present on disk.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id SERIAL PRIMARY KEY,
			spotify_user_id TEXT UNIQUE,
			display_name TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS integrations (
			id SERIAL PRIMARY KEY,
			owner_id INTEGER NOT NULL REFERENCES accounts(id),
			channel_id TEXT,
			channel TEXT UNIQUE NOT NULL,
			enabled BOOLEAN DEFAULT TRUE,
			queue_cooldown INTEGER DEFAULT 60,
			queue_cooldown_subscriber INTEGER DEFAULT 30,
			subscribers_only BOOLEAN DEFAULT FALSE,
			add_to_queue BOOLEAN DEFAULT TRUE,
			add_to_playlist BOOLEAN DEFAULT FALSE,
			playlist_id TEXT DEFAULT '',
			queue_count BIGINT DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS integration_users (
			integration_id INTEGER NOT NULL REFERENCES integrations(id),
			name TEXT NOT NULL,
			banned BOOLEAN DEFAULT FALSE,
			cooldown_until TIMESTAMPTZ,
			manual_cooldown BOOLEAN DEFAULT FALSE,
			queue_count BIGINT DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (integration_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT NOT NULL,
			account_id INTEGER NOT NULL REFERENCES accounts(id),
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (provider, account_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_integrations_channel ON integrations(channel)`,
		`CREATE INDEX IF NOT EXISTS idx_integrations_enabled ON integrations(enabled)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// UpsertOAuthToken stores or updates an OAuth token for one provider and
// account (e.g. spotify, twitch).
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, provider string, accountID int64, access, refresh string, expiry time.Time, scope string) error {
	q := `INSERT INTO oauth_tokens(provider, account_id, access_token, refresh_token, expires_at, scope, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,NOW())
		  ON CONFLICT(provider, account_id) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    updated_at=NOW()`
	_, err := dbx.ExecContext(ctx, q, provider, accountID, access, refresh, expiry, scope)
	return err
}

// GetOAuthToken retrieves a stored token row; returns zero values if not
// found.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, provider string, accountID int64) (access, refresh string, expiry time.Time, scope string, err error) {
	row := dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope
		 FROM oauth_tokens WHERE provider = $1 AND account_id = $2`, provider, accountID)
	err = row.Scan(&access, &refresh, &expiry, &scope)
	if err == sql.ErrNoRows {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	return access, refresh, expiry, scope, nil
}

// CreateAccount inserts an account for a Spotify identity, returning the
// existing row's id when the identity is already registered.
func CreateAccount(ctx context.Context, dbx *sql.DB, spotifyUserID, displayName string) (int64, error) {
	var id int64
	err := dbx.QueryRowContext(ctx,
		`INSERT INTO accounts(spotify_user_id, display_name) VALUES($1,$2)
		 ON CONFLICT(spotify_user_id) DO UPDATE SET display_name=EXCLUDED.display_name
		 RETURNING id`, spotifyUserID, displayName).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

// CreateIntegration binds a chat channel to an account with default
// settings, returning the existing row's id when the channel is already
// bound.
func CreateIntegration(ctx context.Context, dbx *sql.DB, ownerID int64, channelID, channel string) (int64, error) {
	var id int64
	err := dbx.QueryRowContext(ctx,
		`INSERT INTO integrations(owner_id, channel_id, channel) VALUES($1,$2,$3)
		 ON CONFLICT(channel) DO UPDATE SET owner_id=EXCLUDED.owner_id, channel_id=EXCLUDED.channel_id
		 RETURNING id`, ownerID, channelID, channel).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create integration: %w", err)
	}
	return id, nil
}

// AccountDisplayName returns the display name stored for an account.
func AccountDisplayName(ctx context.Context, dbx *sql.DB, accountID int64) (string, error) {
	var name sql.NullString
	err := dbx.QueryRowContext(ctx,
		`SELECT display_name FROM accounts WHERE id = $1`, accountID).Scan(&name)
	if err != nil {
		return "", err
	}
	return name.String, nil
}
