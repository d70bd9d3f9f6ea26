// Package sessions caches one authorized Spotify client per account so
// refreshes stay single-flight per identity across all channels that
// share it.
package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/noahbkim/playlistener/bot"
	"github.com/noahbkim/playlistener/db"
	"github.com/noahbkim/playlistener/errs"
	"github.com/noahbkim/playlistener/oauth"
	"github.com/noahbkim/playlistener/spotify"
)

const provider = "spotify"

// Manager loads tokens from the database on first use and hands out
// cached clients afterwards.
type Manager struct {
	DB         *sql.DB
	Config     *oauth2.Config
	HTTPClient *http.Client // optional override, tests

	refreshCtx      context.Context
	refreshInterval time.Duration
	refreshWindow   time.Duration

	mu      sync.Mutex
	clients map[int64]*spotify.Client
}

// NewManager creates a Manager over the given database and OAuth config.
func NewManager(dbx *sql.DB, cfg *oauth2.Config) *Manager {
	return &Manager{DB: dbx, Config: cfg, clients: make(map[int64]*spotify.Client)}
}

// AutoRefresh arranges a background refresher for every session the
// manager builds, bound to ctx.
func (m *Manager) AutoRefresh(ctx context.Context, interval, window time.Duration) {
	m.refreshCtx = ctx
	m.refreshInterval = interval
	m.refreshWindow = window
}

// Resolve implements bot.MusicResolver.
func (m *Manager) Resolve(ctx context.Context, ownerID int64) (bot.Music, error) {
	m.mu.Lock()
	if c, ok := m.clients[ownerID]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	access, refresh, expiry, scope, err := db.GetOAuthToken(ctx, m.DB, provider, ownerID)
	if err != nil {
		return nil, errs.Internalf("I couldn't load the streamer's account",
			"load token for account %d: %v", ownerID, err)
	}
	if refresh == "" {
		return nil, errs.Internalf("the streamer's account isn't connected",
			"no refresh token for account %d", ownerID)
	}

	opts := []oauth.SessionOption{
		oauth.WithPersist(m.persistFunc(ownerID)),
	}
	if m.HTTPClient != nil {
		opts = append(opts, oauth.WithHTTPClient(m.HTTPClient))
	}
	session := oauth.NewSession(m.Config, oauth.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiry,
		Scope:        scope,
	}, opts...)

	name, err := db.AccountDisplayName(ctx, m.DB, ownerID)
	if err != nil || name == "" {
		name = "the streamer"
	}
	client := spotify.New(session, spotify.WithOwnerName(name))

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[ownerID]; ok {
		// Lost the construction race; the first client wins so the
		// single-flight refresh stays per identity.
		return c, nil
	}
	m.clients[ownerID] = client
	if m.refreshCtx != nil {
		oauth.StartRefresher(m.refreshCtx, session,
			fmt.Sprintf("spotify/%d", ownerID), m.refreshInterval, m.refreshWindow)
	}
	return client, nil
}

// Sessions returns the sessions built so far, for refresher wiring.
func (m *Manager) Sessions() map[int64]*oauth.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*oauth.Session, len(m.clients))
	for id, c := range m.clients {
		out[id] = c.Session()
	}
	return out
}

func (m *Manager) persistFunc(ownerID int64) oauth.PersistFunc {
	return func(ctx context.Context, tok oauth.Token) error {
		return db.UpsertOAuthToken(ctx, m.DB, provider, ownerID,
			tok.AccessToken, tok.RefreshToken, tok.ExpiresAt, tok.Scope)
	}
}
