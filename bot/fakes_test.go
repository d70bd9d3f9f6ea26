package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noahbkim/playlistener/spotify"
	"github.com/noahbkim/playlistener/telemetry"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu           sync.Mutex
	integrations map[string]*Integration
	users        map[string]*User
	updateErr    error
}

func newFakeStore(igs ...*Integration) *fakeStore {
	s := &fakeStore{
		integrations: make(map[string]*Integration),
		users:        make(map[string]*User),
	}
	for _, ig := range igs {
		s.integrations[ig.Channel] = ig
	}
	return s
}

func userKey(integrationID int64, name string) string {
	return fmt.Sprintf("%d:%s", integrationID, name)
}

func (s *fakeStore) IntegrationByChannel(ctx context.Context, channel string) (*Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ig, ok := s.integrations[channel]
	if !ok {
		return nil, nil
	}
	cp := *ig
	return &cp, nil
}

func (s *fakeStore) EnabledIntegrations(ctx context.Context) ([]Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Integration
	for _, ig := range s.integrations {
		if ig.Enabled {
			out = append(out, *ig)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateIntegration(ctx context.Context, ig *Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	cp := *ig
	s.integrations[ig.Channel] = &cp
	return nil
}

func (s *fakeStore) GetOrCreateUser(ctx context.Context, integrationID int64, name string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey(integrationID, name)
	u, ok := s.users[key]
	if !ok {
		u = &User{IntegrationID: integrationID, Name: name}
		s.users[key] = u
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) SetBanned(ctx context.Context, integrationID int64, name string, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userKey(integrationID, name)].Banned = banned
	return nil
}

func (s *fakeStore) SetCooldown(ctx context.Context, integrationID int64, name string, until time.Time, manual bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userKey(integrationID, name)]
	u.CooldownUntil = until
	u.ManualCooldown = manual
	return nil
}

func (s *fakeStore) ClaimCooldown(ctx context.Context, integrationID int64, name string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userKey(integrationID, name)]
	if u.CooldownUntil.After(time.Now()) {
		return false, nil
	}
	u.CooldownUntil = until
	u.ManualCooldown = false
	return true, nil
}

func (s *fakeStore) IncrementQueueCounts(ctx context.Context, integrationID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ig := range s.integrations {
		if ig.ID == integrationID {
			ig.QueueCount++
		}
	}
	s.users[userKey(integrationID, name)].QueueCount++
	return nil
}

func (s *fakeStore) user(integrationID int64, name string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userKey(integrationID, name)]
	if !ok {
		return User{}
	}
	return *u
}

// fakeSender records outbound messages and membership changes.
type fakeSender struct {
	mu        sync.Mutex
	messages  []string
	joins     []string
	departs   []string
	joinErr   map[string]error
	departErr map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{joinErr: make(map[string]error), departErr: make(map[string]error)}
}

func (s *fakeSender) Say(channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
	return nil
}

func (s *fakeSender) Reply(channel, user, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, "@"+user+" "+text)
	return nil
}

func (s *fakeSender) Join(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.joinErr[channel]; err != nil {
		return err
	}
	s.joins = append(s.joins, channel)
	return nil
}

func (s *fakeSender) Depart(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.departErr[channel]; err != nil {
		return err
	}
	s.departs = append(s.departs, channel)
	return nil
}

func (s *fakeSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return ""
	}
	return s.messages[len(s.messages)-1]
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// fakeMusic is a canned Music implementation. When trackGate is set,
// GetTrack announces itself on trackStarted and blocks until the gate is
// closed, so tests can hold a handler mid-flight.
type fakeMusic struct {
	me       *spotify.User
	track    *spotify.Track
	trackErr error

	trackStarted chan struct{}
	trackGate    chan struct{}

	current *spotify.Track
	recent  []spotify.Track

	playlist    *spotify.Playlist
	playlistErr error

	queueErr error
	addErr   error

	mu     sync.Mutex
	queued []string
	added  []string

	owner string
}

func (m *fakeMusic) Me(ctx context.Context) (*spotify.User, error) {
	return m.me, nil
}

func (m *fakeMusic) GetTrack(ctx context.Context, id string) (*spotify.Track, error) {
	if m.trackGate != nil {
		m.trackStarted <- struct{}{}
		<-m.trackGate
	}
	if m.trackErr != nil {
		return nil, m.trackErr
	}
	return m.track, nil
}

func (m *fakeMusic) CurrentTrack(ctx context.Context) (*spotify.Track, error) {
	return m.current, nil
}

func (m *fakeMusic) RecentlyPlayed(ctx context.Context, limit int) ([]spotify.Track, error) {
	return m.recent, nil
}

func (m *fakeMusic) GetPlaylist(ctx context.Context, id string) (*spotify.Playlist, error) {
	if m.playlistErr != nil {
		return nil, m.playlistErr
	}
	return m.playlist, nil
}

func (m *fakeMusic) AddItemsToPlaylist(ctx context.Context, playlistID string, uris []string) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, uris...)
	return nil
}

func (m *fakeMusic) AddItemToQueue(ctx context.Context, uri string) error {
	if m.queueErr != nil {
		return m.queueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, uri)
	return nil
}

func (m *fakeMusic) OwnerName() string {
	if m.owner == "" {
		return "the streamer"
	}
	return m.owner
}

func testIntegration() *Integration {
	return &Integration{
		ID:                      1,
		OwnerID:                 10,
		Channel:                 "streamer",
		Enabled:                 true,
		QueueCooldown:           60,
		QueueCooldownSubscriber: 30,
		AddToQueue:              true,
	}
}

func newTestBot(store Store, music Music, send Sender) *Bot {
	telemetry.Init()
	resolver := func(ctx context.Context, ownerID int64) (Music, error) {
		return music, nil
	}
	b := New(store, resolver, send, Options{})
	b.Start(context.Background())
	return b
}

// run pushes a message through the full pipeline synchronously.
func run(b *Bot, msg Message) {
	name, args, ok := parseCommand(msg.Text, b.opts.Trigger)
	if !ok {
		return
	}
	cmd, ok := commands[name]
	if !ok {
		return
	}
	b.dispatch(msg, name, args, cmd)
}
