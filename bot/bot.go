// Package bot implements the chat-command dispatcher and the presence
// synchronizer. A Bot routes inbound chat messages through a pipeline of
// integration lookup, permission and rate gates, and command handlers,
// and keeps the set of joined channels reconciled with which channels
// are live.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/noahbkim/playlistener/spotify"
)

// Message is one inbound chat message with the author's role flags.
type Message struct {
	Channel     string // login name of the channel the message was sent in
	UserID      string
	User        string // author login name
	Text        string
	Broadcaster bool
	Mod         bool
	Subscriber  bool
}

// privileged is mod or broadcaster: the tier that may manage the bot.
func (m Message) privileged() bool { return m.Mod || m.Broadcaster }

// subscriberTier is the cooldown tier for subscribers, mods, and the
// broadcaster.
func (m Message) subscriberTier() bool { return m.Subscriber || m.Mod || m.Broadcaster }

// Sender delivers outbound messages and manages channel membership.
// Implemented over the IRC connection in production; faked in tests.
type Sender interface {
	// Say sends an untargeted message to a channel.
	Say(channel, text string) error
	// Reply addresses the given user in the channel.
	Reply(channel, user, text string) error
	Join(channel string) error
	Depart(channel string) error
}

// Music is the slice of the Spotify client the command handlers use.
type Music interface {
	Me(ctx context.Context) (*spotify.User, error)
	GetTrack(ctx context.Context, id string) (*spotify.Track, error)
	CurrentTrack(ctx context.Context) (*spotify.Track, error)
	RecentlyPlayed(ctx context.Context, limit int) ([]spotify.Track, error)
	GetPlaylist(ctx context.Context, id string) (*spotify.Playlist, error)
	AddItemsToPlaylist(ctx context.Context, playlistID string, uris []string) error
	AddItemToQueue(ctx context.Context, uri string) error
	OwnerName() string
}

// MusicResolver returns the Music client for an integration owner's
// account. Implementations cache sessions so refresh stays single-flight
// per identity.
type MusicResolver func(ctx context.Context, ownerID int64) (Music, error)

// Options tunes dispatcher behavior; zero values get defaults in New.
type Options struct {
	Trigger       byte          // command prefix character, default '?'
	RateLimit     int           // command budget per channel per window, default 10
	RateWindow    time.Duration // default 30s
	ExecTimeout   time.Duration // per-command deadline, default 10s
	MaxConcurrent int           // bound on concurrently executing handlers, default 8
}

// Bot is the service object owning dispatcher and presence state. One
// instance runs per process; everything it needs is injected.
type Bot struct {
	store Store
	music MusicResolver
	send  Sender
	opts  Options

	baseCtx context.Context
	slots   chan struct{} // bounds concurrent command executions

	channelMu sync.Map // channel -> *sync.Mutex, serializes per-channel handling
	rates     sync.Map // channel -> *rateWindow

	joinedMu sync.Mutex // serializes join/part and guards joined
	joined   map[string]bool
}

// New constructs a Bot. Call Start before handling messages.
func New(store Store, music MusicResolver, send Sender, opts Options) *Bot {
	if opts.Trigger == 0 {
		opts.Trigger = '?'
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = 30 * time.Second
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 10 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	return &Bot{
		store:   store,
		music:   music,
		send:    send,
		opts:    opts,
		baseCtx: context.Background(),
		slots:   make(chan struct{}, opts.MaxConcurrent),
		joined:  make(map[string]bool),
	}
}

// Start binds the bot to a root context; in-flight commands are bounded
// by ExecTimeout once the context is cancelled.
func (b *Bot) Start(ctx context.Context) { b.baseCtx = ctx }

// Joined returns a snapshot of the currently joined channels.
func (b *Bot) Joined() []string {
	b.joinedMu.Lock()
	defer b.joinedMu.Unlock()
	out := make([]string, 0, len(b.joined))
	for ch := range b.joined {
		out = append(out, ch)
	}
	return out
}

// lockChannel serializes command handling for one channel so cooldown and
// ban check-then-writes cannot race within it.
func (b *Bot) lockChannel(channel string) *sync.Mutex {
	mu, _ := b.channelMu.LoadOrStore(channel, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// acquireSlot blocks until an execution slot is available or the context
// is cancelled.
func (b *Bot) acquireSlot(ctx context.Context) bool {
	select {
	case b.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bot) releaseSlot() {
	select {
	case <-b.slots:
	default:
		slog.Warn("slot release without corresponding acquire")
	}
}
