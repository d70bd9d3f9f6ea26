package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/noahbkim/playlistener/errs"
	"github.com/noahbkim/playlistener/telemetry"
)

func errInternalForTest() error {
	return errs.Internal("something went wrong upstream", "secret detail")
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text     string
		name     string
		args     string
		ok       bool
	}{
		{"?queue https://example.com", "queue", "https://example.com", true},
		{"?song", "song", "", true},
		{"?BAN someone", "ban", "someone", true},
		{"  ?count  ", "count", "", true},
		{"?cooldown user 30", "cooldown", "user 30", true},
		{"hello there", "", "", false},
		{"?", "", "", false},
		{"queue without trigger", "", "", false},
	}
	for _, tc := range cases {
		name, args, ok := parseCommand(tc.text, '?')
		if name != tc.name || args != tc.args || ok != tc.ok {
			t.Errorf("parseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.text, name, args, ok, tc.name, tc.args, tc.ok)
		}
	}
}

func TestDispatchIgnoresUnconfiguredChannel(t *testing.T) {
	send := newFakeSender()
	b := newTestBot(newFakeStore(), &fakeMusic{}, send)
	run(b, Message{Channel: "nobody", User: "viewer", Text: "?song"})
	if send.count() != 0 {
		t.Errorf("messages sent for unconfigured channel: %v", send.messages)
	}
}

func TestDispatchRejectsUnprivilegedModCommand(t *testing.T) {
	send := newFakeSender()
	b := newTestBot(newFakeStore(testIntegration()), &fakeMusic{}, send)
	run(b, Message{Channel: "streamer", User: "viewer", Text: "?ban someone"})
	if got := send.last(); got != "@viewer you do not have access to this command!" {
		t.Errorf("reply = %q", got)
	}
}

func TestDispatchAllowsModCommandForBroadcaster(t *testing.T) {
	send := newFakeSender()
	b := newTestBot(newFakeStore(testIntegration()), &fakeMusic{}, send)
	run(b, Message{Channel: "streamer", User: "streamer", Broadcaster: true, Text: "?ban viewer"})
	if got := send.last(); got != "@streamer banned viewer" {
		t.Errorf("reply = %q", got)
	}
}

func TestDispatchRateLimitsChannel(t *testing.T) {
	send := newFakeSender()
	b := newTestBot(newFakeStore(testIntegration()), &fakeMusic{current: nil}, send)
	// song costs 3 against the default budget of 10; the fourth call
	// overruns the window.
	for i := 0; i < 4; i++ {
		run(b, Message{Channel: "streamer", User: "viewer", Text: "?song"})
	}
	if got := send.last(); !strings.Contains(got, "I'm a little busy") {
		t.Errorf("reply = %q, want rate-limit denial", got)
	}
}

func TestDispatchInternalErrorIsSummarizedForChat(t *testing.T) {
	send := newFakeSender()
	store := newFakeStore(testIntegration())
	music := &fakeMusic{trackErr: errInternalForTest()}
	b := newTestBot(store, music, send)
	run(b, Message{Channel: "streamer", User: "viewer",
		Text: "?queue https://open.spotify.com/track/abc123"})
	got := send.last()
	if !strings.HasPrefix(got, "@viewer sorry, ") {
		t.Errorf("reply = %q, want apologetic summary", got)
	}
	if strings.Contains(got, "secret detail") {
		t.Errorf("reply leaked internal details: %q", got)
	}
}

func TestDispatchBusyChannelDoesNotStarveOthers(t *testing.T) {
	igA := testIntegration()
	igB := &Integration{
		ID: 2, OwnerID: 20, Channel: "other", Enabled: true,
		QueueCooldown: 60, QueueCooldownSubscriber: 30, AddToQueue: true,
	}
	store := newFakeStore(igA, igB)
	music := queueMusic()
	music.trackStarted = make(chan struct{}, 2)
	music.trackGate = make(chan struct{})
	send := newFakeSender()

	telemetry.Init()
	resolver := func(ctx context.Context, ownerID int64) (Music, error) { return music, nil }
	b := New(store, resolver, send, Options{MaxConcurrent: 2, ExecTimeout: time.Second})
	b.Start(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); run(b, queueMessage()) }()
	// First handler now holds its channel's mutex mid-call.
	<-music.trackStarted
	go func() { defer wg.Done(); run(b, queueMessage()) }()
	// Give the second handler time to park on the channel mutex.
	time.Sleep(50 * time.Millisecond)

	run(b, Message{Channel: "other", User: "viewer", Text: "?count"})
	if got := send.last(); !strings.Contains(got, "has queued") {
		t.Errorf("idle channel reply = %q, want count reply while the other channel is mid-call", got)
	}

	close(music.trackGate)
	wg.Wait()
}

func TestRateWindowResets(t *testing.T) {
	w := &rateWindow{}
	now := time.Now()
	if _, ok := w.allow(now, 8, 10, 30*time.Second); !ok {
		t.Fatal("first charge should fit")
	}
	if _, ok := w.allow(now, 5, 10, 30*time.Second); ok {
		t.Fatal("second charge should overflow")
	}
	wait, ok := w.allow(now.Add(time.Second), 5, 10, 30*time.Second)
	if ok {
		t.Fatal("still inside window")
	}
	if wait <= 0 || wait > 30*time.Second {
		t.Errorf("wait = %v", wait)
	}
	if _, ok := w.allow(now.Add(31*time.Second), 5, 10, 30*time.Second); !ok {
		t.Fatal("window should reset after elapsing")
	}
}

func TestCooldownRemainingRoundsUp(t *testing.T) {
	now := time.Now()
	u := &User{CooldownUntil: now.Add(1500 * time.Millisecond)}
	if got := u.CooldownRemaining(now); got != 2 {
		t.Errorf("CooldownRemaining = %d, want 2", got)
	}
	u.CooldownUntil = now.Add(-time.Second)
	if got := u.CooldownRemaining(now); got != 0 {
		t.Errorf("CooldownRemaining after expiry = %d, want 0", got)
	}
}

func TestCooldownForTier(t *testing.T) {
	ig := testIntegration()
	if got := ig.CooldownFor(false); got != 60 {
		t.Errorf("base tier = %d", got)
	}
	if got := ig.CooldownFor(true); got != 30 {
		t.Errorf("privileged tier = %d", got)
	}
}
