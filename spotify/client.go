// Package spotify is a typed client for the slice of the Spotify Web API
// the bot needs: track lookup, playback queue, playlists, and the current
// user. All requests run through an oauth.Session, which transparently
// refreshes expired tokens and retries once on 401.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/noahbkim/playlistener/errs"
	"github.com/noahbkim/playlistener/oauth"
)

// Endpoint is the Spotify accounts service OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.spotify.com/authorize",
	TokenURL: "https://accounts.spotify.com/api/token",
}

const defaultBaseURL = "https://api.spotify.com/v1"

// Track is the subset of track metadata shown in chat.
type Track struct {
	ID      string
	Title   string
	Artists []string
	URL     string
}

// Describe renders "artist, artist - title", optionally with the track URL
// appended for public-facing replies.
func (t Track) Describe(includeURL bool) string {
	desc := strings.Join(t.Artists, ", ") + " - " + t.Title
	if includeURL && t.URL != "" {
		desc += " " + t.URL
	}
	return desc
}

// Playlist identifies a playlist and its owner for ownership validation.
type Playlist struct {
	ID      string
	Name    string
	OwnerID string
}

// User is the authorized account's identity.
type User struct {
	ID          string
	DisplayName string
}

// Client wraps an authorized session with Spotify operations.
type Client struct {
	session   *oauth.Session
	baseURL   string
	ownerName string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithOwnerName sets the display name used in user-facing messages about
// the account's playback state.
func WithOwnerName(name string) Option {
	return func(c *Client) { c.ownerName = name }
}

// New creates a client over the given session.
func New(session *oauth.Session, opts ...Option) *Client {
	c := &Client{session: session, baseURL: defaultBaseURL, ownerName: "the streamer"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session exposes the underlying session for refresher wiring.
func (c *Client) Session() *oauth.Session { return c.session }

// OwnerName returns the display name configured for this account.
func (c *Client) OwnerName() string { return c.ownerName }

type trackPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

func (p trackPayload) track() Track {
	t := Track{ID: p.ID, Title: p.Name, URL: strings.TrimSpace(p.ExternalURLs.Spotify)}
	for _, a := range p.Artists {
		t.Artists = append(t.Artists, a.Name)
	}
	return t
}

// Me returns the authorized account's identity.
func (c *Client) Me(ctx context.Context) (*User, error) {
	resp, err := c.get(ctx, "/me", nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, c.internal("I couldn't look up the authorized account", resp)
	}
	var body struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Internalf("I couldn't look up the authorized account", "decode /me: %v", err)
	}
	return &User{ID: body.ID, DisplayName: body.DisplayName}, nil
}

// GetTrack fetches track metadata. A 404 is the user's problem (bad link),
// anything else non-200 is ours.
func (c *Client) GetTrack(ctx context.Context, id string) (*Track, error) {
	resp, err := c.get(ctx, "/tracks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.Usagef("sorry, I couldn't find that track!")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.internal("I couldn't look up that track", resp)
	}
	var body trackPayload
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Internalf("I couldn't look up that track", "decode track %s: %v", id, err)
	}
	t := body.track()
	return &t, nil
}

// CurrentTrack returns the currently playing track, or nil when nothing
// is playing (the API signals that with a bodyless 204, not an error).
func (c *Client) CurrentTrack(ctx context.Context) (*Track, error) {
	resp, err := c.get(ctx, "/me/player/currently-playing", nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.internal("I couldn't see what's playing", resp)
	}
	var body struct {
		Item *trackPayload `json:"item"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Internalf("I couldn't see what's playing", "decode currently-playing: %v", err)
	}
	if body.Item == nil {
		return nil, nil
	}
	t := body.Item.track()
	return &t, nil
}

// RecentlyPlayed returns up to limit recently played tracks, newest
// first. Same 204-as-empty convention as CurrentTrack.
func (c *Client) RecentlyPlayed(ctx context.Context, limit int) ([]Track, error) {
	if limit <= 0 {
		limit = 3
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	resp, err := c.get(ctx, "/me/player/recently-played", q)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.internal("I couldn't see what's been playing", resp)
	}
	var body struct {
		Items []struct {
			Track trackPayload `json:"track"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Internalf("I couldn't see what's been playing", "decode recently-played: %v", err)
	}
	tracks := make([]Track, 0, len(body.Items))
	for _, item := range body.Items {
		tracks = append(tracks, item.Track.track())
	}
	return tracks, nil
}

// GetPlaylist fetches playlist metadata, used both to validate a new
// playlist binding and to show its display name.
func (c *Client) GetPlaylist(ctx context.Context, id string) (*Playlist, error) {
	resp, err := c.get(ctx, "/playlists/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.Usagef("sorry, that playlist doesn't exist!")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.internal("I couldn't look up that playlist", resp)
	}
	var body struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Owner struct {
			ID string `json:"id"`
		} `json:"owner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Internalf("I couldn't look up that playlist", "decode playlist %s: %v", id, err)
	}
	return &Playlist{ID: body.ID, Name: body.Name, OwnerID: body.Owner.ID}, nil
}

// AddItemsToPlaylist appends track URIs to a playlist.
func (c *Client) AddItemsToPlaylist(ctx context.Context, playlistID string, uris []string) error {
	payload, err := json.Marshal(map[string]any{"uris": uris})
	if err != nil {
		return errs.Internalf("I couldn't add to the playlist", "marshal uris: %v", err)
	}
	resp, err := c.session.Do(ctx, func(string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost,
			c.baseURL+"/playlists/"+url.PathEscape(playlistID)+"/tracks",
			bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return c.internal("I couldn't add to the playlist", resp)
	}
	return nil
}

// AddItemToQueue appends a track URI to the account's playback queue.
// Spotify reports "no active device" as a structured 404; that case is
// the user's situation ("nobody is listening"), not an integration bug.
func (c *Client) AddItemToQueue(ctx context.Context, uri string) error {
	q := url.Values{"uri": {uri}}
	resp, err := c.session.Do(ctx, func(string) (*http.Request, error) {
		return http.NewRequest(http.MethodPost, c.baseURL+"/me/player/queue?"+q.Encode(), nil)
	})
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound {
		var payload struct {
			Error struct {
				Reason string `json:"reason"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error.Reason == "NO_ACTIVE_DEVICE" {
			return errs.Usagef("%s isn't listening right now!", c.ownerName)
		}
	}
	return errs.Internal("I couldn't add to the queue",
		fmt.Sprintf("queue %s: %s: %s", uri, resp.Status, body))
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.session.Do(ctx, func(string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, target, nil)
	})
}

func (c *Client) internal(reason string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return errs.Internal(reason, fmt.Sprintf("%s %s: %s: %s",
		resp.Request.Method, resp.Request.URL.Path, resp.Status, body))
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
