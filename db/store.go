package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/noahbkim/playlistener/bot"
)

// IntegrationStore is the Postgres-backed bot.Store.
type IntegrationStore struct {
	DB *sql.DB
}

var _ bot.Store = (*IntegrationStore)(nil)

const integrationColumns = `id, owner_id, channel_id, channel, enabled,
	queue_cooldown, queue_cooldown_subscriber, subscribers_only,
	add_to_queue, add_to_playlist, playlist_id, queue_count`

func scanIntegration(row interface{ Scan(...any) error }) (*bot.Integration, error) {
	var ig bot.Integration
	var channelID, playlistID sql.NullString
	err := row.Scan(&ig.ID, &ig.OwnerID, &channelID, &ig.Channel, &ig.Enabled,
		&ig.QueueCooldown, &ig.QueueCooldownSubscriber, &ig.SubscribersOnly,
		&ig.AddToQueue, &ig.AddToPlaylist, &playlistID, &ig.QueueCount)
	if err != nil {
		return nil, err
	}
	ig.ChannelID = channelID.String
	ig.PlaylistID = playlistID.String
	return &ig, nil
}

func (s *IntegrationStore) IntegrationByChannel(ctx context.Context, channel string) (*bot.Integration, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE channel = $1`, channel)
	ig, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("integration by channel %s: %w", channel, err)
	}
	return ig, nil
}

func (s *IntegrationStore) EnabledIntegrations(ctx context.Context) ([]bot.Integration, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("enabled integrations: %w", err)
	}
	defer rows.Close()
	var out []bot.Integration
	for rows.Next() {
		ig, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, *ig)
	}
	return out, rows.Err()
}

func (s *IntegrationStore) UpdateIntegration(ctx context.Context, ig *bot.Integration) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE integrations SET enabled=$2, queue_cooldown=$3, queue_cooldown_subscriber=$4,
		 subscribers_only=$5, add_to_queue=$6, add_to_playlist=$7, playlist_id=$8, updated_at=NOW()
		 WHERE id=$1`,
		ig.ID, ig.Enabled, ig.QueueCooldown, ig.QueueCooldownSubscriber,
		ig.SubscribersOnly, ig.AddToQueue, ig.AddToPlaylist, ig.PlaylistID)
	if err != nil {
		return fmt.Errorf("update integration %d: %w", ig.ID, err)
	}
	return nil
}

func (s *IntegrationStore) GetOrCreateUser(ctx context.Context, integrationID int64, name string) (*bot.User, error) {
	// Insert-then-select keeps first sight of a user a single round trip
	// short of racy read-modify-write.
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO integration_users(integration_id, name) VALUES($1,$2)
		 ON CONFLICT(integration_id, name) DO NOTHING`, integrationID, name)
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", name, err)
	}
	var u bot.User
	var until sql.NullTime
	err = s.DB.QueryRowContext(ctx,
		`SELECT integration_id, name, banned, cooldown_until, manual_cooldown, queue_count
		 FROM integration_users WHERE integration_id=$1 AND name=$2`, integrationID, name).
		Scan(&u.IntegrationID, &u.Name, &u.Banned, &until, &u.ManualCooldown, &u.QueueCount)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", name, err)
	}
	if until.Valid {
		u.CooldownUntil = until.Time
	}
	return &u, nil
}

func (s *IntegrationStore) SetBanned(ctx context.Context, integrationID int64, name string, banned bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE integration_users SET banned=$3 WHERE integration_id=$1 AND name=$2`,
		integrationID, name, banned)
	if err != nil {
		return fmt.Errorf("set banned %s: %w", name, err)
	}
	return nil
}

func (s *IntegrationStore) SetCooldown(ctx context.Context, integrationID int64, name string, until time.Time, manual bool) error {
	var value sql.NullTime
	if !until.IsZero() {
		value = sql.NullTime{Time: until, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE integration_users SET cooldown_until=$3, manual_cooldown=$4
		 WHERE integration_id=$1 AND name=$2`,
		integrationID, name, value, manual)
	if err != nil {
		return fmt.Errorf("set cooldown %s: %w", name, err)
	}
	return nil
}

// ClaimCooldown is a compare-and-set: it only starts the new cooldown when
// the stored one has already passed, so concurrent queue attempts by the
// same user resolve to exactly one winner.
func (s *IntegrationStore) ClaimCooldown(ctx context.Context, integrationID int64, name string, until time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE integration_users SET cooldown_until=$3, manual_cooldown=FALSE
		 WHERE integration_id=$1 AND name=$2
		 AND (cooldown_until IS NULL OR cooldown_until <= NOW())`,
		integrationID, name, until)
	if err != nil {
		return false, fmt.Errorf("claim cooldown %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim cooldown %s: %w", name, err)
	}
	return n == 1, nil
}

func (s *IntegrationStore) IncrementQueueCounts(ctx context.Context, integrationID int64, name string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("increment queue counts: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx,
		`UPDATE integrations SET queue_count = queue_count + 1 WHERE id=$1`, integrationID); err != nil {
		return fmt.Errorf("increment integration count: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE integration_users SET queue_count = queue_count + 1
		 WHERE integration_id=$1 AND name=$2`, integrationID, name); err != nil {
		return fmt.Errorf("increment user count: %w", err)
	}
	return tx.Commit()
}
