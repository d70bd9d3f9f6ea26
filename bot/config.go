package bot

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/noahbkim/playlistener/errs"
)

// configKey mutates one integration setting from its string argument.
// show renders the current value for the no-argument listing.
type configKey struct {
	apply func(ctx context.Context, inv *invocation, value string) error
	show  func(ig *Integration) string
}

var configKeys = map[string]configKey{
	"subonly": {
		apply: func(ctx context.Context, inv *invocation, value string) error {
			b, err := parseBool(value)
			if err != nil {
				return err
			}
			inv.integration.SubscribersOnly = b
			return nil
		},
		show: func(ig *Integration) string { return strconv.FormatBool(ig.SubscribersOnly) },
	},
	"queue": {
		apply: func(ctx context.Context, inv *invocation, value string) error {
			b, err := parseBool(value)
			if err != nil {
				return err
			}
			inv.integration.AddToQueue = b
			return nil
		},
		show: func(ig *Integration) string { return strconv.FormatBool(ig.AddToQueue) },
	},
	"playlist": {
		apply: func(ctx context.Context, inv *invocation, value string) error {
			b, err := parseBool(value)
			if err != nil {
				return err
			}
			if b && inv.integration.PlaylistID == "" {
				return errs.Usagef("set playlistid before turning playlist additions on!")
			}
			inv.integration.AddToPlaylist = b
			return nil
		},
		show: func(ig *Integration) string { return strconv.FormatBool(ig.AddToPlaylist) },
	},
	"cooldown": {
		apply: func(ctx context.Context, inv *invocation, value string) error {
			n, err := parseSeconds(value)
			if err != nil {
				return err
			}
			inv.integration.QueueCooldown = n
			return nil
		},
		show: func(ig *Integration) string { return strconv.Itoa(ig.QueueCooldown) + "s" },
	},
	"subcooldown": {
		apply: func(ctx context.Context, inv *invocation, value string) error {
			n, err := parseSeconds(value)
			if err != nil {
				return err
			}
			inv.integration.QueueCooldownSubscriber = n
			return nil
		},
		show: func(ig *Integration) string { return strconv.Itoa(ig.QueueCooldownSubscriber) + "s" },
	},
	"playlistid": {
		apply: func(ctx context.Context, inv *invocation, value string) error {
			if value == "none" {
				inv.integration.PlaylistID = ""
				inv.integration.AddToPlaylist = false
				return nil
			}
			playlist, err := inv.music.GetPlaylist(ctx, value)
			if err != nil {
				return err
			}
			me, err := inv.music.Me(ctx)
			if err != nil {
				return err
			}
			if playlist.OwnerID != me.ID {
				return errs.Usagef("that playlist belongs to someone else, so I can't add to it!")
			}
			inv.integration.PlaylistID = playlist.ID
			return nil
		},
		show: func(ig *Integration) string {
			if ig.PlaylistID == "" {
				return "none"
			}
			return ig.PlaylistID
		},
	},
}

// cmdConfig shows or updates per-channel settings: "?config" lists every
// key, "?config <key>" shows one, "?config <key> <value>" sets one and
// persists the integration.
func cmdConfig(ctx context.Context, inv *invocation) error {
	fields := strings.Fields(inv.args)
	if len(fields) == 0 {
		names := make([]string, 0, len(configKeys))
		for name := range configKeys {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+"="+configKeys[name].show(inv.integration))
		}
		inv.reply("%s", strings.Join(parts, " "))
		return nil
	}
	name := strings.ToLower(fields[0])
	key, ok := configKeys[name]
	if !ok {
		return errs.Usagef("I don't recognize the setting %q!", fields[0])
	}
	if len(fields) < 2 {
		inv.reply("%s is %s", name, key.show(inv.integration))
		return nil
	}
	if err := key.apply(ctx, inv, fields[1]); err != nil {
		return err
	}
	if err := inv.bot.store.UpdateIntegration(ctx, inv.integration); err != nil {
		return errs.Internalf("I couldn't save that setting", "update integration %d: %v", inv.integration.ID, err)
	}
	inv.reply("%s is now %s", name, key.show(inv.integration))
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, errs.Usagef("expected on or off, not %q!", value)
}

func parseSeconds(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSuffix(value, "s"))
	if err != nil || n < 0 {
		return 0, errs.Usagef("expected a non-negative number of seconds!")
	}
	return n, nil
}
