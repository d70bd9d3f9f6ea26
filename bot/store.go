package bot

import (
	"context"
	"math"
	"time"
)

// Integration is the per-channel configuration aggregate: which Spotify
// account it queues into, the mode toggles, and the cooldown tiers.
type Integration struct {
	ID        int64
	OwnerID   int64
	ChannelID string // platform user id
	Channel   string // login name
	Enabled   bool

	QueueCooldown           int // seconds, base tier
	QueueCooldownSubscriber int // seconds, privileged tier
	SubscribersOnly         bool

	AddToQueue    bool
	AddToPlaylist bool
	PlaylistID    string

	QueueCount int64 // lifetime
}

// CooldownFor returns the cooldown tier in seconds for a caller with the
// given privilege. Subscribers, mods, and the broadcaster share the
// privileged tier.
func (ig *Integration) CooldownFor(privileged bool) int {
	if privileged {
		return ig.QueueCooldownSubscriber
	}
	return ig.QueueCooldown
}

// User is a chat participant's record within one channel, created lazily
// on first sight.
type User struct {
	IntegrationID  int64
	Name           string
	Banned         bool
	CooldownUntil  time.Time // zero value means no cooldown
	ManualCooldown bool      // a moderator imposed the cooldown directly
	QueueCount     int64
}

// OnCooldown reports whether the user may not queue yet. A timestamp in
// the past counts as cleared (lazy expiry, no background sweep).
func (u *User) OnCooldown(now time.Time) bool {
	return u.CooldownUntil.After(now)
}

// CooldownRemaining returns the remaining whole seconds, rounded up so a
// blocked user is never told zero.
func (u *User) CooldownRemaining(now time.Time) int {
	if !u.OnCooldown(now) {
		return 0
	}
	return int(math.Ceil(u.CooldownUntil.Sub(now).Seconds()))
}

// Store is the persistence surface the dispatcher needs: atomic
// read-modify-write access to integration and user records by key. The
// db package provides the Postgres implementation; tests use a fake.
type Store interface {
	// IntegrationByChannel returns nil, nil when the channel has no
	// integration configured.
	IntegrationByChannel(ctx context.Context, channel string) (*Integration, error)
	EnabledIntegrations(ctx context.Context) ([]Integration, error)
	// UpdateIntegration persists the mutable configuration fields.
	UpdateIntegration(ctx context.Context, ig *Integration) error

	GetOrCreateUser(ctx context.Context, integrationID int64, name string) (*User, error)
	SetBanned(ctx context.Context, integrationID int64, name string, banned bool) error
	// SetCooldown force-sets or clears (zero until) a user's cooldown.
	SetCooldown(ctx context.Context, integrationID int64, name string, until time.Time, manual bool) error
	// ClaimCooldown sets the cooldown to until only if the stored one has
	// already passed; reports whether the claim won. This keeps
	// check-then-set atomic even without the per-channel serialization.
	ClaimCooldown(ctx context.Context, integrationID int64, name string, until time.Time) (bool, error)
	// IncrementQueueCounts bumps the lifetime counters on both the
	// integration and the user.
	IncrementQueueCounts(ctx context.Context, integrationID int64, name string) error
}
