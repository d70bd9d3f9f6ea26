package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/noahbkim/playlistener/twitchapi"
)

type fakeLive struct {
	live []string
	err  error
}

func (f *fakeLive) GetStreams(ctx context.Context, logins []string) ([]twitchapi.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []twitchapi.Stream
	for _, login := range f.live {
		out = append(out, twitchapi.Stream{UserLogin: login})
	}
	return out, nil
}

func TestPresenceJoinsLiveAndPartsOffline(t *testing.T) {
	store := newFakeStore(testIntegration())
	send := newFakeSender()
	b := newTestBot(store, queueMusic(), send)
	live := &fakeLive{live: []string{"streamer"}}

	b.syncPresence(context.Background(), live)
	if len(send.joins) != 1 || send.joins[0] != "streamer" {
		t.Fatalf("joins = %v", send.joins)
	}
	if send.count() != 1 {
		t.Errorf("messages = %v, want one greeting", send.messages)
	}

	// Still live: no rejoin, no second greeting.
	b.syncPresence(context.Background(), live)
	if len(send.joins) != 1 || send.count() != 1 {
		t.Errorf("joins = %v messages = %v after second sync", send.joins, send.messages)
	}

	// Offline: part exactly once.
	live.live = nil
	b.syncPresence(context.Background(), live)
	b.syncPresence(context.Background(), live)
	if len(send.departs) != 1 || send.departs[0] != "streamer" {
		t.Errorf("departs = %v", send.departs)
	}
	if len(b.Joined()) != 0 {
		t.Errorf("joined = %v, want empty", b.Joined())
	}
}

func TestPresenceRetriesFailedJoin(t *testing.T) {
	store := newFakeStore(testIntegration())
	send := newFakeSender()
	send.joinErr["streamer"] = errors.New("connection hiccup")
	b := newTestBot(store, queueMusic(), send)
	live := &fakeLive{live: []string{"streamer"}}

	b.syncPresence(context.Background(), live)
	if len(b.Joined()) != 0 {
		t.Fatalf("joined = %v after failed join", b.Joined())
	}

	send.joinErr = map[string]error{}
	b.syncPresence(context.Background(), live)
	if len(b.Joined()) != 1 {
		t.Errorf("joined = %v, want retry to succeed", b.Joined())
	}
}

func TestPresenceRetriesFailedPart(t *testing.T) {
	store := newFakeStore(testIntegration())
	send := newFakeSender()
	b := newTestBot(store, queueMusic(), send)
	live := &fakeLive{live: []string{"streamer"}}

	b.syncPresence(context.Background(), live)
	live.live = nil
	send.departErr["streamer"] = errors.New("connection hiccup")
	b.syncPresence(context.Background(), live)
	if len(b.Joined()) != 1 {
		t.Fatalf("joined = %v, failed part must stay joined for retry", b.Joined())
	}

	send.departErr = map[string]error{}
	b.syncPresence(context.Background(), live)
	if len(send.departs) != 1 || len(b.Joined()) != 0 {
		t.Errorf("departs = %v joined = %v, want retry to part", send.departs, b.Joined())
	}
}

func TestReminderSkipsChannelsWithModesOff(t *testing.T) {
	ig := testIntegration()
	ig.AddToQueue = false
	ig.AddToPlaylist = false
	store := newFakeStore(ig)
	send := newFakeSender()
	b := newTestBot(store, queueMusic(), send)
	b.syncPresence(context.Background(), &fakeLive{live: []string{"streamer"}})
	greetings := send.count()

	b.broadcastReminder(context.Background())
	if send.count() != greetings {
		t.Errorf("messages = %v, want no reminder with both modes off", send.messages)
	}

	ig.AddToQueue = true
	b.broadcastReminder(context.Background())
	if send.count() != greetings+1 {
		t.Fatalf("messages = %v, want one reminder", send.messages)
	}
	if got := send.last(); got != "psst! you can queue songs with ?queue <spotify link>" {
		t.Errorf("reminder = %q", got)
	}
}

func TestPresenceLookupFailureKeepsState(t *testing.T) {
	store := newFakeStore(testIntegration())
	send := newFakeSender()
	b := newTestBot(store, queueMusic(), send)
	live := &fakeLive{live: []string{"streamer"}}

	b.syncPresence(context.Background(), live)
	live.err = errors.New("helix down")
	b.syncPresence(context.Background(), live)

	if len(b.Joined()) != 1 {
		t.Errorf("joined = %v, lookup failure must not part channels", b.Joined())
	}
	if len(send.departs) != 0 {
		t.Errorf("departs = %v", send.departs)
	}
}
