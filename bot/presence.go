package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/noahbkim/playlistener/telemetry"
	"github.com/noahbkim/playlistener/twitchapi"
)

// LiveLister reports which of the given channel logins are currently
// live. Implemented by the Helix client in production.
type LiveLister interface {
	GetStreams(ctx context.Context, logins []string) ([]twitchapi.Stream, error)
}

// RunPresence reconciles joined channels against which enabled
// integrations are live, on each tick: join channels that went live
// (greeting them once per join) and part channels that went offline.
// A failed join leaves the channel unjoined so the next tick retries.
// Blocks until ctx is cancelled.
func (b *Bot) RunPresence(ctx context.Context, live LiveLister, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("presence synchronizer started", slog.Duration("interval", interval))
	b.syncPresence(ctx, live)
	for {
		select {
		case <-ctx.Done():
			slog.Info("presence synchronizer stopped")
			return
		case <-ticker.C:
			b.syncPresence(ctx, live)
		}
	}
}

func (b *Bot) syncPresence(ctx context.Context, live LiveLister) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	integrations, err := b.store.EnabledIntegrations(ctx)
	if err != nil {
		slog.Error("presence: integration listing failed", slog.Any("err", err))
		return
	}
	logins := make([]string, 0, len(integrations))
	for _, ig := range integrations {
		logins = append(logins, ig.Channel)
	}

	streams, err := live.GetStreams(ctx, logins)
	if err != nil {
		slog.Error("presence: stream lookup failed", slog.Any("err", err))
		return
	}
	liveSet := make(map[string]bool, len(streams))
	for _, s := range streams {
		liveSet[s.UserLogin] = true
	}

	b.joinedMu.Lock()
	defer b.joinedMu.Unlock()

	for _, ig := range integrations {
		if liveSet[ig.Channel] && !b.joined[ig.Channel] {
			if err := b.send.Join(ig.Channel); err != nil {
				slog.Warn("presence: join failed", slog.String("channel", ig.Channel), slog.Any("err", err))
				continue
			}
			b.joined[ig.Channel] = true
			slog.Info("joined channel", slog.String("channel", ig.Channel))
			if err := b.send.Say(ig.Channel, "let's get this bread"); err != nil {
				slog.Warn("presence: greeting failed", slog.String("channel", ig.Channel), slog.Any("err", err))
			}
		}
	}
	for channel := range b.joined {
		if !liveSet[channel] {
			if err := b.send.Depart(channel); err != nil {
				// Keep the channel joined so the next tick retries the part.
				slog.Warn("presence: part failed", slog.String("channel", channel), slog.Any("err", err))
				continue
			}
			delete(b.joined, channel)
			slog.Info("parted channel", slog.String("channel", channel))
		}
	}
	telemetry.SetJoinedChannels(len(b.joined))
}

// RunReminder periodically tells each joined channel how to use the bot.
// Channels with both queue and playlist additions off are skipped.
// Blocks until ctx is cancelled.
func (b *Bot) RunReminder(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("reminder broadcaster started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("reminder broadcaster stopped")
			return
		case <-ticker.C:
			b.broadcastReminder(ctx)
		}
	}
}

func (b *Bot) broadcastReminder(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, channel := range b.Joined() {
		ig, err := b.store.IntegrationByChannel(ctx, channel)
		if err != nil {
			slog.Warn("reminder: integration lookup failed", slog.String("channel", channel), slog.Any("err", err))
			continue
		}
		if ig == nil || !ig.Enabled || (!ig.AddToQueue && !ig.AddToPlaylist) {
			continue
		}
		text := "psst! you can queue songs with " + string(b.opts.Trigger) + "queue <spotify link>"
		if err := b.send.Say(channel, text); err != nil {
			slog.Warn("reminder delivery failed", slog.String("channel", channel), slog.Any("err", err))
		}
	}
}
