// Package twitchapi contains minimal helpers to interact with Twitch:
// an app access token source, Helix user and live-stream lookups used by
// presence synchronization, and the OAuth endpoint for the bot user token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Endpoint is the Twitch OAuth2 endpoint. Twitch wants client credentials
// in the POST body, not basic auth.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://id.twitch.tv/oauth2/authorize",
	TokenURL:  defaultTokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

// BuildAuthorizeURL constructs the user authorization URL for the OAuth
// code grant.
func BuildAuthorizeURL(clientID, redirectURI, scopes, state string) string {
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	if scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return Endpoint.AuthURL + "?" + v.Encode()
}

// HelixClient provides the Helix lookups presence sync needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	BaseURL        string // override for tests
	HTTPClient     *http.Client
}

// ChannelUser is a Twitch account as reported by /helix/users.
type ChannelUser struct {
	ID          string
	Login       string
	DisplayName string
}

// Stream is a currently-live broadcast as reported by /helix/streams.
type Stream struct {
	UserID    string
	UserLogin string
	Title     string
	StartedAt time.Time
}

// helixPageLimit is the most logins Helix accepts per request.
const helixPageLimit = 100

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return "https://api.twitch.tv/helix"
}

// GetUsers resolves login names to account records.
func (hc *HelixClient) GetUsers(ctx context.Context, logins []string) ([]ChannelUser, error) {
	var out []ChannelUser
	for _, batch := range chunk(logins, helixPageLimit) {
		q := url.Values{}
		for _, login := range batch {
			q.Add("login", login)
		}
		var body struct {
			Data []struct {
				ID          string `json:"id"`
				Login       string `json:"login"`
				DisplayName string `json:"display_name"`
			} `json:"data"`
		}
		if err := hc.getJSON(ctx, "/users", q, &body); err != nil {
			return nil, err
		}
		for _, u := range body.Data {
			out = append(out, ChannelUser{ID: u.ID, Login: u.Login, DisplayName: u.DisplayName})
		}
	}
	return out, nil
}

// GetStreams returns the subset of the given logins that are currently
// live. Offline channels simply don't appear in the response.
func (hc *HelixClient) GetStreams(ctx context.Context, logins []string) ([]Stream, error) {
	var out []Stream
	for _, batch := range chunk(logins, helixPageLimit) {
		q := url.Values{}
		for _, login := range batch {
			q.Add("user_login", login)
		}
		var body struct {
			Data []struct {
				UserID    string    `json:"user_id"`
				UserLogin string    `json:"user_login"`
				Title     string    `json:"title"`
				StartedAt time.Time `json:"started_at"`
			} `json:"data"`
		}
		if err := hc.getJSON(ctx, "/streams", q, &body); err != nil {
			return nil, err
		}
		for _, s := range body.Data {
			out = append(out, Stream{UserID: s.UserID, UserLogin: s.UserLogin, Title: s.Title, StartedAt: s.StartedAt})
		}
	}
	return out, nil
}

func (hc *HelixClient) getJSON(ctx context.Context, path string, q url.Values, into any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("helix %s failed: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
