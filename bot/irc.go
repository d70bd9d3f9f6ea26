package bot

import (
	"context"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// IRCSender adapts the Twitch IRC client to the Sender interface. The
// client's own write queue handles outbound rate limiting.
type IRCSender struct {
	client *twitch.Client
}

func NewIRCSender(client *twitch.Client) *IRCSender { return &IRCSender{client: client} }

func (s *IRCSender) Say(channel, text string) error {
	s.client.Say(channel, text)
	return nil
}

func (s *IRCSender) Reply(channel, user, text string) error {
	s.client.Say(channel, "@"+user+" "+text)
	return nil
}

func (s *IRCSender) Join(channel string) error {
	s.client.Join(channel)
	return nil
}

func (s *IRCSender) Depart(channel string) error {
	s.client.Depart(channel)
	return nil
}

// BindIRC registers the bot's message handler on the IRC client and
// arranges disconnect on context cancellation. Call client.Connect
// separately; it blocks.
func BindIRC(ctx context.Context, client *twitch.Client, b *Bot) {
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		b.HandleMessage(messageFromIRC(msg))
	})
	client.OnConnect(func() {
		slog.Info("connected to chat")
	})
	go func() {
		<-ctx.Done()
		client.Disconnect()
	}()
}

// messageFromIRC flattens the IRC badge map into role flags. Founders
// are early subscribers and keep the subscriber tier.
func messageFromIRC(msg twitch.PrivateMessage) Message {
	badges := msg.User.Badges
	return Message{
		Channel:     msg.Channel,
		UserID:      msg.User.ID,
		User:        msg.User.Name,
		Text:        msg.Message,
		Broadcaster: badges["broadcaster"] > 0,
		Mod:         badges["moderator"] > 0,
		Subscriber:  badges["subscriber"] > 0 || badges["founder"] > 0,
	}
}
