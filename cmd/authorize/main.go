// Command authorize runs the one-time Spotify connection flow for a
// streamer. Without -code it prints the authorization URL to visit; with
// -code it exchanges the code, stores the tokens, and (with -channel)
// binds the account to a chat channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/noahbkim/playlistener/config"
	"github.com/noahbkim/playlistener/db"
	"github.com/noahbkim/playlistener/oauth"
	"github.com/noahbkim/playlistener/spotify"
	"github.com/noahbkim/playlistener/twitchapi"
)

func main() {
	code := flag.String("code", "", "authorization code from the redirect")
	channel := flag.String("channel", "", "chat channel to bind the account to")
	flag.Parse()

	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		fatal("config load failed", err)
	}
	if err := cfg.ValidateSpotifyReady(); err != nil {
		fatal("spotify credentials missing", err)
	}

	oc := &oauth2.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RedirectURL:  cfg.SpotifyRedirectURI,
		Scopes:       strings.Fields(cfg.SpotifyScopes),
		Endpoint:     spotify.Endpoint,
	}

	if *code == "" {
		v := url.Values{
			"response_type": {"code"},
			"client_id":     {cfg.SpotifyClientID},
			"redirect_uri":  {cfg.SpotifyRedirectURI},
			"scope":         {cfg.SpotifyScopes},
		}
		fmt.Println("visit this URL and re-run with -code:")
		fmt.Println(spotify.Endpoint.AuthURL + "?" + v.Encode())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		fatal("failed to open db", err)
	}
	defer database.Close() //nolint:errcheck
	if err := db.RunMigrations(database); err != nil {
		if err := db.Migrate(ctx, database); err != nil {
			fatal("failed to migrate db", err)
		}
	}

	session := oauth.NewSession(oc, oauth.Token{})
	if err := session.Exchange(ctx, *code); err != nil {
		fatal("code exchange failed", err)
	}

	client := spotify.New(session)
	me, err := client.Me(ctx)
	if err != nil {
		fatal("account lookup failed", err)
	}

	accountID, err := db.CreateAccount(ctx, database, me.ID, me.DisplayName)
	if err != nil {
		fatal("account save failed", err)
	}
	tok := session.Token()
	if err := db.UpsertOAuthToken(ctx, database, "spotify", accountID,
		tok.AccessToken, tok.RefreshToken, tok.ExpiresAt, tok.Scope); err != nil {
		fatal("token save failed", err)
	}
	fmt.Printf("connected spotify account %s (%s)\n", me.DisplayName, me.ID)

	if *channel == "" {
		return
	}
	login := strings.ToLower(*channel)
	channelID := ""
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		helix := &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{
				ClientID:     cfg.TwitchClientID,
				ClientSecret: cfg.TwitchClientSecret,
			},
			ClientID: cfg.TwitchClientID,
		}
		users, err := helix.GetUsers(ctx, []string{login})
		if err != nil || len(users) == 0 {
			slog.Warn("channel lookup failed, storing without platform id", slog.Any("err", err))
		} else {
			channelID = users[0].ID
		}
	}
	if _, err := db.CreateIntegration(ctx, database, accountID, channelID, login); err != nil {
		fatal("integration save failed", err)
	}
	fmt.Printf("bound channel %s\n", login)
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
