package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noahbkim/playlistener/errs"
	"github.com/noahbkim/playlistener/spotify"
	"github.com/noahbkim/playlistener/telemetry"
)

// describeQueue names the action taken for the confirmation message.
func describeQueue(queued, added bool) string {
	if queued {
		if added {
			return "queued and added"
		}
		return "queued"
	}
	return "added"
}

// cmdQueue adds a track to the playback queue and/or the bound playlist.
// Preconditions short-circuit in order; the ban check runs before link
// parsing so banned users get the same answer no matter what they sent.
func cmdQueue(ctx context.Context, inv *invocation) error {
	ig := inv.integration
	if !ig.Enabled {
		return errs.Usagef("sorry, song requests are turned off right now!")
	}
	if !ig.AddToQueue && !ig.AddToPlaylist {
		return errs.Usagef("sorry, song requests aren't set up for this channel!")
	}
	if ig.SubscribersOnly && !inv.msg.subscriberTier() {
		return errs.Usagef("sorry, only subscribers can queue songs right now!")
	}
	if inv.user.Banned {
		return errs.Usagef("sorry, you're banned from queueing songs!")
	}

	now := time.Now()
	if inv.user.OnCooldown(now) {
		denial := fmt.Sprintf("sorry, you have to wait %d seconds to queue again!",
			inv.user.CooldownRemaining(now))
		// Upsell the cheaper tier, unless a mod imposed this cooldown.
		if !inv.msg.subscriberTier() && ig.QueueCooldownSubscriber < ig.QueueCooldown && !inv.user.ManualCooldown {
			denial += fmt.Sprintf(" subscribers only wait %d seconds ;)", ig.QueueCooldownSubscriber)
		}
		return errs.Usagef("%s", denial)
	}

	if strings.TrimSpace(inv.args) == "" {
		return errs.Usagef("use this command to add Spotify track links to %s's queue!", inv.music.OwnerName())
	}
	trackID := spotify.FindTrackLink(inv.msg.Text)
	if trackID == "" {
		return errs.Usagef("sorry, I couldn't find a Spotify track link in your message!")
	}

	track, err := inv.music.GetTrack(ctx, trackID)
	if err != nil {
		return err
	}

	uri := spotify.TrackURI(trackID)
	queued, added := false, false
	if ig.AddToQueue {
		if err := inv.music.AddItemToQueue(ctx, uri); err != nil {
			return err
		}
		queued = true
	}
	if ig.AddToPlaylist && ig.PlaylistID != "" {
		if err := inv.music.AddItemsToPlaylist(ctx, ig.PlaylistID, []string{uri}); err != nil {
			return err
		}
		added = true
	}

	tier := ig.CooldownFor(inv.msg.subscriberTier())
	until := now.Add(time.Duration(tier) * time.Second)
	won, err := inv.bot.store.ClaimCooldown(ctx, ig.ID, inv.user.Name, until)
	if err != nil {
		return errs.Internalf("I lost track of your cooldown", "claim cooldown for %s: %v", inv.user.Name, err)
	}
	if !won {
		// Another request for this user slipped in first; don't double-act.
		return errs.Usagef("sorry, you have to wait %d seconds to queue again!", tier)
	}

	if queued || added {
		if err := inv.bot.store.IncrementQueueCounts(ctx, ig.ID, inv.user.Name); err != nil {
			inv.log.Warn("queue count increment failed", "err", err)
		}
		telemetry.TracksQueued.Inc()
		inv.say("%s %s", describeQueue(queued, added), track.Describe(false))
	}
	return nil
}

func cmdPlaylist(ctx context.Context, inv *invocation) error {
	if inv.integration.PlaylistID == "" {
		inv.reply("no playlist is configured for this channel!")
		return nil
	}
	inv.reply("%s", spotify.PlaylistURL(inv.integration.PlaylistID))
	return nil
}

func cmdSong(ctx context.Context, inv *invocation) error {
	track, err := inv.music.CurrentTrack(ctx)
	if err != nil {
		return err
	}
	if track == nil {
		inv.reply("%s isn't listening to anything on Spotify!", inv.msg.Channel)
		return nil
	}
	inv.reply("%s", track.Describe(true))
	return nil
}

func cmdRecent(ctx context.Context, inv *invocation) error {
	tracks, err := inv.music.RecentlyPlayed(ctx, 3)
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		inv.reply("%s isn't listening to anything on Spotify!", inv.msg.Channel)
		return nil
	}
	parts := make([]string, 0, len(tracks))
	for _, t := range tracks {
		parts = append(parts, t.Describe(true))
	}
	inv.reply("%s", strings.Join(parts, ", "))
	return nil
}

func cmdCount(ctx context.Context, inv *invocation) error {
	inv.reply("%s has queued %d of %d total songs!",
		inv.user.Name, inv.user.QueueCount, inv.integration.QueueCount)
	return nil
}

// targetUser parses the first argument as a user name and loads (or
// creates) that user's record.
func targetUser(ctx context.Context, inv *invocation) (*User, error) {
	fields := strings.Fields(inv.args)
	if len(fields) == 0 {
		return nil, errs.Usagef("usage: %c%s <user>", inv.bot.opts.Trigger, inv.name)
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "@"))
	user, err := inv.bot.store.GetOrCreateUser(ctx, inv.integration.ID, name)
	if err != nil {
		return nil, errs.Internalf("I couldn't load that user", "get or create user %s: %v", name, err)
	}
	return user, nil
}

func cmdBan(ctx context.Context, inv *invocation) error {
	user, err := targetUser(ctx, inv)
	if err != nil {
		return err
	}
	if user.Banned {
		inv.reply("%s is already banned!", user.Name)
		return nil
	}
	if err := inv.bot.store.SetBanned(ctx, inv.integration.ID, user.Name, true); err != nil {
		return errs.Internalf("I couldn't save the ban", "ban %s: %v", user.Name, err)
	}
	inv.reply("banned %s", user.Name)
	return nil
}

func cmdUnban(ctx context.Context, inv *invocation) error {
	user, err := targetUser(ctx, inv)
	if err != nil {
		return err
	}
	if !user.Banned {
		inv.reply("%s isn't banned!", user.Name)
		return nil
	}
	if err := inv.bot.store.SetBanned(ctx, inv.integration.ID, user.Name, false); err != nil {
		return errs.Internalf("I couldn't save the unban", "unban %s: %v", user.Name, err)
	}
	inv.reply("unbanned %s", user.Name)
	return nil
}

// cmdCooldown inspects, force-sets, or clears one user's cooldown.
// "clear" or a non-positive number clears; a manual set suppresses the
// subscription upsell in later denials.
func cmdCooldown(ctx context.Context, inv *invocation) error {
	user, err := targetUser(ctx, inv)
	if err != nil {
		return err
	}
	fields := strings.Fields(inv.args)
	if len(fields) == 1 {
		now := time.Now()
		if !user.OnCooldown(now) {
			inv.reply("%s has no cooldown", user.Name)
			return nil
		}
		inv.reply("%s can queue again in %d seconds", user.Name, user.CooldownRemaining(now))
		return nil
	}

	arg := fields[1]
	seconds := 0
	if arg != "clear" {
		seconds, err = strconv.Atoi(arg)
		if err != nil {
			return errs.Usagef("expected a number of seconds or \"clear\"!")
		}
	}
	if seconds <= 0 {
		if err := inv.bot.store.SetCooldown(ctx, inv.integration.ID, user.Name, time.Time{}, false); err != nil {
			return errs.Internalf("I couldn't update the cooldown", "clear cooldown %s: %v", user.Name, err)
		}
		inv.reply("cleared %s's cooldown", user.Name)
		return nil
	}
	until := time.Now().Add(time.Duration(seconds) * time.Second)
	if err := inv.bot.store.SetCooldown(ctx, inv.integration.ID, user.Name, until, true); err != nil {
		return errs.Internalf("I couldn't update the cooldown", "set cooldown %s: %v", user.Name, err)
	}
	inv.reply("set %s's cooldown to %d seconds", user.Name, seconds)
	return nil
}

func cmdOn(ctx context.Context, inv *invocation) error {
	return setEnabled(ctx, inv, true)
}

func cmdOff(ctx context.Context, inv *invocation) error {
	return setEnabled(ctx, inv, false)
}

func setEnabled(ctx context.Context, inv *invocation, enabled bool) error {
	word := map[bool]string{true: "on", false: "off"}[enabled]
	if inv.integration.Enabled == enabled {
		inv.reply("song requests are already %s!", word)
		return nil
	}
	inv.integration.Enabled = enabled
	if err := inv.bot.store.UpdateIntegration(ctx, inv.integration); err != nil {
		return errs.Internalf("I couldn't save that setting", "set enabled=%v: %v", enabled, err)
	}
	inv.reply("song requests are now %s!", word)
	return nil
}
