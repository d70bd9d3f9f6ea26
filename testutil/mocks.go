// Package testutil provides HTTP mocks and database helpers shared by
// package tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockServer is a test server dispatching on URL path.
type MockServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockServer creates a path-keyed mock API server. Unhandled paths
// return 404.
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := &MockServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// JSON registers a handler that returns the given status and JSON body.
func (m *MockServer) JSON(path string, status int, body any) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	}
}

// Status registers a handler that returns a bare status code.
func (m *MockServer) Status(path string, status int) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

// MockTokenResponse registers an OAuth token endpoint returning the given
// access token.
func (m *MockServer) MockTokenResponse(path, accessToken string, expiresIn int) {
	m.JSON(path, http.StatusOK, map[string]any{
		"access_token": accessToken,
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}

// MockTrackResponse registers a Spotify track lookup response.
func (m *MockServer) MockTrackResponse(id, title string, artists ...string) {
	as := make([]map[string]string, 0, len(artists))
	for _, a := range artists {
		as = append(as, map[string]string{"name": a})
	}
	m.JSON("/tracks/"+id, http.StatusOK, map[string]any{
		"id":      id,
		"name":    title,
		"artists": as,
		"external_urls": map[string]string{
			"spotify": "https://open.spotify.com/track/" + id,
		},
	})
}

// MockStreamsResponse registers a Helix live-streams response.
func (m *MockServer) MockStreamsResponse(logins ...string) {
	data := make([]map[string]any, 0, len(logins))
	for i, login := range logins {
		data = append(data, map[string]any{
			"user_id":    string(rune('1' + i)),
			"user_login": login,
			"title":      "live",
		})
	}
	m.JSON("/streams", http.StatusOK, map[string]any{"data": data})
}
