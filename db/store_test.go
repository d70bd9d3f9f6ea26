package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/noahbkim/playlistener/db"
	"github.com/noahbkim/playlistener/testutil"
)

func setupIntegration(t *testing.T) (*db.IntegrationStore, int64) {
	t.Helper()
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	accountID, err := db.CreateAccount(ctx, database, "spotify-user-"+t.Name(), "Streamer")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	igID, err := db.CreateIntegration(ctx, database, accountID, "123", "channel-"+t.Name())
	if err != nil {
		t.Fatalf("CreateIntegration: %v", err)
	}
	_ = igID
	return &db.IntegrationStore{DB: database}, accountID
}

func TestIntegrationRoundTrip(t *testing.T) {
	store, _ := setupIntegration(t)
	ctx := context.Background()
	channel := "channel-" + t.Name()

	ig, err := store.IntegrationByChannel(ctx, channel)
	if err != nil {
		t.Fatalf("IntegrationByChannel: %v", err)
	}
	if ig == nil {
		t.Fatal("integration not found")
	}
	if !ig.Enabled || ig.QueueCooldown != 60 || ig.QueueCooldownSubscriber != 30 {
		t.Errorf("defaults = %+v", ig)
	}

	ig.SubscribersOnly = true
	ig.PlaylistID = "pl1"
	if err := store.UpdateIntegration(ctx, ig); err != nil {
		t.Fatalf("UpdateIntegration: %v", err)
	}
	got, _ := store.IntegrationByChannel(ctx, channel)
	if !got.SubscribersOnly || got.PlaylistID != "pl1" {
		t.Errorf("after update = %+v", got)
	}

	missing, err := store.IntegrationByChannel(ctx, "no-such-channel")
	if err != nil || missing != nil {
		t.Errorf("missing channel = (%v, %v), want (nil, nil)", missing, err)
	}
}

func TestUserLifecycle(t *testing.T) {
	store, _ := setupIntegration(t)
	ctx := context.Background()
	ig, _ := store.IntegrationByChannel(ctx, "channel-"+t.Name())

	u, err := store.GetOrCreateUser(ctx, ig.ID, "viewer")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if u.Banned || !u.CooldownUntil.IsZero() {
		t.Errorf("fresh user = %+v", u)
	}

	if err := store.SetBanned(ctx, ig.ID, "viewer", true); err != nil {
		t.Fatalf("SetBanned: %v", err)
	}
	u, _ = store.GetOrCreateUser(ctx, ig.ID, "viewer")
	if !u.Banned {
		t.Error("ban not persisted")
	}

	until := time.Now().Add(time.Minute).UTC()
	if err := store.SetCooldown(ctx, ig.ID, "viewer", until, true); err != nil {
		t.Fatalf("SetCooldown: %v", err)
	}
	u, _ = store.GetOrCreateUser(ctx, ig.ID, "viewer")
	if !u.ManualCooldown || u.CooldownUntil.IsZero() {
		t.Errorf("cooldown = %+v", u)
	}

	if err := store.SetCooldown(ctx, ig.ID, "viewer", time.Time{}, false); err != nil {
		t.Fatalf("clear SetCooldown: %v", err)
	}
	u, _ = store.GetOrCreateUser(ctx, ig.ID, "viewer")
	if !u.CooldownUntil.IsZero() {
		t.Errorf("cooldown not cleared: %v", u.CooldownUntil)
	}
}

func TestClaimCooldownIsCompareAndSet(t *testing.T) {
	store, _ := setupIntegration(t)
	ctx := context.Background()
	ig, _ := store.IntegrationByChannel(ctx, "channel-"+t.Name())
	if _, err := store.GetOrCreateUser(ctx, ig.ID, "viewer"); err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	until := time.Now().Add(time.Minute)
	won, err := store.ClaimCooldown(ctx, ig.ID, "viewer", until)
	if err != nil {
		t.Fatalf("ClaimCooldown: %v", err)
	}
	if !won {
		t.Fatal("first claim should win")
	}
	won, err = store.ClaimCooldown(ctx, ig.ID, "viewer", until.Add(time.Minute))
	if err != nil {
		t.Fatalf("second ClaimCooldown: %v", err)
	}
	if won {
		t.Error("second claim should lose while cooldown active")
	}
}

func TestIncrementQueueCounts(t *testing.T) {
	store, _ := setupIntegration(t)
	ctx := context.Background()
	ig, _ := store.IntegrationByChannel(ctx, "channel-"+t.Name())
	if _, err := store.GetOrCreateUser(ctx, ig.ID, "viewer"); err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.IncrementQueueCounts(ctx, ig.ID, "viewer"); err != nil {
			t.Fatalf("IncrementQueueCounts: %v", err)
		}
	}
	u, _ := store.GetOrCreateUser(ctx, ig.ID, "viewer")
	if u.QueueCount != 3 {
		t.Errorf("user QueueCount = %d, want 3", u.QueueCount)
	}
	got, _ := store.IntegrationByChannel(ctx, "channel-"+t.Name())
	if got.QueueCount != 3 {
		t.Errorf("integration QueueCount = %d, want 3", got.QueueCount)
	}
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	accountID, err := db.CreateAccount(ctx, database, "spotify-token-"+t.Name(), "Streamer")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := db.UpsertOAuthToken(ctx, database, "spotify", accountID, "access", "refresh", expiry, "scope-a scope-b"); err != nil {
		t.Fatalf("UpsertOAuthToken: %v", err)
	}
	access, refresh, gotExpiry, scope, err := db.GetOAuthToken(ctx, database, "spotify", accountID)
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if access != "access" || refresh != "refresh" || scope != "scope-a scope-b" {
		t.Errorf("token = %q/%q/%q", access, refresh, scope)
	}
	if !gotExpiry.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", gotExpiry, expiry)
	}

	// Missing rows come back as zero values, not errors.
	access, refresh, _, _, err = db.GetOAuthToken(ctx, database, "spotify", accountID+999)
	if err != nil || access != "" || refresh != "" {
		t.Errorf("missing token = (%q, %q, %v)", access, refresh, err)
	}
}
