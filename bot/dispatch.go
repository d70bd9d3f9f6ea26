package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noahbkim/playlistener/errs"
	"github.com/noahbkim/playlistener/telemetry"
)

type role int

const (
	roleEveryone role = iota
	roleMod           // moderator or broadcaster
	roleBroadcaster
)

type handlerFunc func(ctx context.Context, inv *invocation) error

// command describes one entry in the dispatch table: its handler, the
// permission tier, the rate-gate cost (song/recent charge more because
// they always hit the music API), and which dependencies the pipeline
// should resolve before the handler runs.
type command struct {
	handler    handlerFunc
	role       role
	cost       int
	needsUser  bool
	needsMusic bool
}

// commands maps command names to descriptors; built once at startup.
var commands = map[string]command{
	"queue":    {handler: cmdQueue, cost: 2, needsUser: true, needsMusic: true},
	"playlist": {handler: cmdPlaylist, cost: 1},
	"song":     {handler: cmdSong, cost: 3, needsMusic: true},
	"recent":   {handler: cmdRecent, cost: 3, needsMusic: true},
	"count":    {handler: cmdCount, cost: 1, needsUser: true},
	"ban":      {handler: cmdBan, role: roleMod, cost: 1},
	"unban":    {handler: cmdUnban, role: roleMod, cost: 1},
	"cooldown": {handler: cmdCooldown, role: roleMod, cost: 1},
	"config":   {handler: cmdConfig, role: roleMod, cost: 1, needsMusic: true},
	"on":       {handler: cmdOn, role: roleMod, cost: 1},
	"off":      {handler: cmdOff, role: roleMod, cost: 1},
}

// invocation carries one command's resolved state through the pipeline.
type invocation struct {
	bot         *Bot
	msg         Message
	name        string
	args        string
	integration *Integration
	user        *User
	music       Music
	log         *slog.Logger
}

// reply addresses the invoking user.
func (inv *invocation) reply(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if err := inv.bot.send.Reply(inv.msg.Channel, inv.msg.User, text); err != nil {
		inv.log.Error("reply delivery failed", slog.Any("err", err))
		return
	}
	telemetry.RepliesSent.Inc()
}

// say sends to the channel untargeted.
func (inv *invocation) say(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if err := inv.bot.send.Say(inv.msg.Channel, text); err != nil {
		inv.log.Error("send delivery failed", slog.Any("err", err))
		return
	}
	telemetry.RepliesSent.Inc()
}

// parseCommand splits "?name arg tail" into name and argument tail.
// Anything not starting with the trigger character is not a command.
func parseCommand(text string, trigger byte) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || text[0] != trigger {
		return "", "", false
	}
	rest := text[1:]
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		return strings.ToLower(rest[:i]), strings.TrimSpace(rest[i+1:]), true
	}
	return strings.ToLower(rest), "", true
}

// HandleMessage classifies an inbound message and, for known commands,
// dispatches it on its own goroutine so slow external calls never block
// unrelated channels.
func (b *Bot) HandleMessage(msg Message) {
	name, args, ok := parseCommand(msg.Text, b.opts.Trigger)
	if !ok {
		return
	}
	cmd, ok := commands[name]
	if !ok {
		return
	}
	go b.dispatch(msg, name, args, cmd)
}

func (b *Bot) dispatch(msg Message, name, args string, cmd command) {
	corr := uuid.NewString()
	ctx := telemetry.WithCorrelation(b.baseCtx, corr)
	ctx, cancel := context.WithTimeout(ctx, b.opts.ExecTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "bot", "command "+name,
		attribute.String("channel", msg.Channel),
		attribute.String("user", msg.User),
	)
	defer span.End()

	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("channel", msg.Channel),
		slog.String("user", msg.User),
		slog.String("command", name),
	)

	// Serialize handling per channel so cooldown and ban check-then-set
	// observe a consistent view. Other channels proceed independently.
	mu := b.lockChannel(msg.Channel)
	mu.Lock()
	defer mu.Unlock()

	// Slots are taken after the channel mutex: only handlers actually
	// executing hold one, so a burst queued on one channel's mutex cannot
	// exhaust the pool for other channels.
	if !b.acquireSlot(ctx) {
		return
	}
	defer b.releaseSlot()

	telemetry.CommandsReceived.Inc()

	ig, err := b.store.IntegrationByChannel(ctx, msg.Channel)
	if err != nil {
		log.Error("integration lookup failed", slog.Any("err", err))
		return
	}
	if ig == nil {
		return // channel not configured, ignore silently
	}

	inv := &invocation{bot: b, msg: msg, name: name, args: args, integration: ig, log: log}

	if (cmd.role == roleMod && !msg.privileged()) || (cmd.role == roleBroadcaster && !msg.Broadcaster) {
		telemetry.CommandsRejected.Inc()
		inv.reply("you do not have access to this command!")
		return
	}

	if wait, ok := b.rateFor(msg.Channel).allow(time.Now(), cmd.cost, b.opts.RateLimit, b.opts.RateWindow); !ok {
		telemetry.CommandsRejected.Inc()
		inv.reply("sorry, I'm a little busy! try again in %d seconds", ceilSeconds(wait))
		return
	}

	err = func() error {
		if cmd.needsUser {
			user, err := b.store.GetOrCreateUser(ctx, ig.ID, msg.User)
			if err != nil {
				return errs.Internalf("I couldn't load your record", "get or create user %s: %v", msg.User, err)
			}
			inv.user = user
		}
		if cmd.needsMusic {
			music, err := b.music(ctx, ig.OwnerID)
			if err != nil {
				return err
			}
			inv.music = music
		}
		var herr error
		telemetry.TimeFunc(telemetry.CommandDuration, func() {
			herr = cmd.handler(ctx, inv)
		})
		return herr
	}()
	b.settle(span, inv, err)
}

// settle is the single place errors become chat messages, so wording is
// consistent and internal details never leak into public chat.
func (b *Bot) settle(span trace.Span, inv *invocation, err error) {
	var usage *errs.UsageError
	var internal *errs.InternalError
	switch {
	case err == nil:
		telemetry.CommandsSucceeded.Inc()
	case errors.As(err, &usage):
		telemetry.CommandsRejected.Inc()
		inv.reply("%s", usage.Reason)
	case errors.As(err, &internal):
		telemetry.CommandErrors.Inc()
		telemetry.RecordError(span, err)
		inv.log.Error("command failed",
			slog.String("reason", internal.Reason),
			slog.String("details", internal.Details))
		inv.reply("sorry, %s!", internal.Reason)
	default:
		telemetry.CommandErrors.Inc()
		telemetry.RecordError(span, err)
		inv.log.Error("command failed", slog.Any("err", err))
		inv.reply("sorry, something went wrong!")
	}
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
