// Package oauth manages one external identity's token lifecycle: the
// authorization-code exchange, refresh with single-flight deduplication,
// and the refresh-then-retry-once protocol for authenticated requests.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/noahbkim/playlistener/errs"
	"github.com/noahbkim/playlistener/telemetry"
)

// PersistFunc is invoked after every successful token response so the new
// credentials survive a restart. Persist failures are logged, not fatal;
// the in-memory token is already usable.
type PersistFunc func(ctx context.Context, tok Token) error

// BuildFunc constructs the outgoing request given the current access
// token. It may be invoked twice for one logical call (retry after a
// refresh), so it must not consume one-shot state.
type BuildFunc func(token string) (*http.Request, error)

// Session wraps one identity's Token with the refresh/retry protocol.
// Safe for concurrent use; at most one refresh is in flight at a time.
type Session struct {
	cfg     *oauth2.Config
	hc      *http.Client
	persist PersistFunc

	mu  sync.Mutex
	tok Token
	sf  singleflight.Group
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHTTPClient overrides the HTTP client used for API requests and
// token-endpoint exchanges (tests point this at httptest servers).
func WithHTTPClient(hc *http.Client) SessionOption {
	return func(s *Session) { s.hc = hc }
}

// WithPersist registers a hook called with the new token after every
// successful exchange or refresh.
func WithPersist(fn PersistFunc) SessionOption {
	return func(s *Session) { s.persist = fn }
}

// NewSession creates a session seeded with a stored token. The token may
// hold only a refresh token; the first request will refresh it.
func NewSession(cfg *oauth2.Config, tok Token, opts ...SessionOption) *Session {
	s := &Session{cfg: cfg, tok: tok}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns a snapshot of the current credentials.
func (s *Session) Token() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok
}

// Do performs an authenticated request. If the token is expired it
// refreshes first; if the request then comes back 401 and no refresh just
// happened, it refreshes exactly once and reissues the request. A 401
// after that is fatal for this call. Callers own closing the response
// body on success.
func (s *Session) Do(ctx context.Context, build BuildFunc) (*http.Response, error) {
	justRefreshed := false
	tok := s.Token()
	if tok.Expired(time.Now()) {
		if err := s.refreshIfStale(ctx, tok.AccessToken); err != nil {
			return nil, err
		}
		justRefreshed = true
	}

	resp, err := s.issue(ctx, build)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	body := readAndClose(resp.Body)
	if justRefreshed {
		return nil, errs.Internal("I couldn't authorize with the music service",
			fmt.Sprintf("401 after fresh token: %s", body))
	}

	if err := s.refreshIfStale(ctx, tok.AccessToken); err != nil {
		return nil, err
	}
	resp, err = s.issue(ctx, build)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		body := readAndClose(resp.Body)
		return nil, errs.Internal("I couldn't authorize with the music service",
			fmt.Sprintf("401 after refresh retry: %s", body))
	}
	return resp, nil
}

func (s *Session) issue(ctx context.Context, build BuildFunc) (*http.Response, error) {
	tok := s.Token()
	req, err := build(tok.AccessToken)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return s.httpClient().Do(req)
}

// Exchange performs the authorization-code grant and adopts the result.
func (s *Session) Exchange(ctx context.Context, code string) error {
	newTok, err := s.cfg.Exchange(s.tokenContext(ctx), code)
	if err != nil {
		return tokenEndpointError(err)
	}
	s.adopt(ctx, newTok, "")
	return nil
}

// Refresh forces a refresh-token grant regardless of expiry. Concurrent
// callers share one in-flight exchange.
func (s *Session) Refresh(ctx context.Context) error {
	return s.refresh(ctx, "", true)
}

// refreshIfStale refreshes unless another caller already rotated the
// token past the one this caller observed failing.
func (s *Session) refreshIfStale(ctx context.Context, stale string) error {
	return s.refresh(ctx, stale, false)
}

func (s *Session) refresh(ctx context.Context, stale string, force bool) error {
	_, err, _ := s.sf.Do("refresh", func() (any, error) {
		s.mu.Lock()
		cur := s.tok
		s.mu.Unlock()
		if !force && cur.AccessToken != stale && !cur.Expired(time.Now()) {
			// Someone else refreshed while we waited; reuse their token.
			return nil, nil
		}
		if cur.RefreshToken == "" {
			return nil, errs.Internal("I'm not authorized with the music service",
				"refresh token missing; run the authorize flow")
		}
		src := s.cfg.TokenSource(s.tokenContext(ctx), &oauth2.Token{RefreshToken: cur.RefreshToken})
		newTok, err := src.Token()
		if err != nil {
			return nil, tokenEndpointError(err)
		}
		s.adopt(ctx, newTok, cur.RefreshToken)
		telemetry.CountTokenRefresh()
		return nil, nil
	})
	return err
}

// adopt atomically replaces the stored token with a token response.
// Providers may omit the refresh token on rotation; keep the old one.
func (s *Session) adopt(ctx context.Context, newTok *oauth2.Token, oldRefresh string) {
	tok := Token{
		AccessToken:  newTok.AccessToken,
		RefreshToken: newTok.RefreshToken,
		TokenType:    newTok.TokenType,
		Scope:        scopeString(newTok.Extra("scope")),
		ExpiresAt:    newTok.Expiry,
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = oldRefresh
	}
	if tok.ExpiresAt.IsZero() {
		tok.ExpiresAt = ComputeExpiry(0)
	}
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()
	if s.persist != nil {
		if err := s.persist(ctx, tok); err != nil {
			slog.Warn("token persist failed", slog.Any("err", err))
		}
	}
}

func (s *Session) httpClient() *http.Client {
	if s.hc != nil {
		return s.hc
	}
	return http.DefaultClient
}

// tokenContext routes the oauth2 package's token-endpoint requests
// through the session's HTTP client.
func (s *Session) tokenContext(ctx context.Context) context.Context {
	if s.hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.hc)
}

// tokenEndpointError converts oauth2 failures into internal errors that
// keep the provider's raw status and body for diagnostics.
func tokenEndpointError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := ""
		if re.Response != nil {
			status = re.Response.Status
		}
		return errs.Internal("I couldn't reauthorize with the music service",
			fmt.Sprintf("token endpoint %s: %s", status, re.Body))
	}
	return errs.Internal("I couldn't reauthorize with the music service", err.Error())
}

// scopeString normalizes the provider's scope field: Spotify returns a
// space-joined string, Twitch a JSON array.
func scopeString(v any) string {
	switch scope := v.(type) {
	case string:
		return strings.TrimSpace(scope)
	case []any:
		parts := make([]string, 0, len(scope))
		for _, p := range scope {
			if str, ok := p.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

func readAndClose(rc io.ReadCloser) string {
	b, _ := io.ReadAll(io.LimitReader(rc, 4096))
	if err := rc.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
	return string(b)
}
