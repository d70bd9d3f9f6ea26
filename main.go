// Command playlistener runs the Twitch chat bot that lets viewers queue
// Spotify tracks. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Connects to Twitch chat and dispatches viewer commands.
//   - Keeps channel membership synced to which streams are live and
//     refreshes Spotify tokens in the background.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status,
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/noahbkim/playlistener/bot"
	"github.com/noahbkim/playlistener/config"
	"github.com/noahbkim/playlistener/db"
	"github.com/noahbkim/playlistener/server"
	"github.com/noahbkim/playlistener/sessions"
	"github.com/noahbkim/playlistener/spotify"
	"github.com/noahbkim/playlistener/telemetry"
	"github.com/noahbkim/playlistener/twitchapi"
)

func main() {
	// .env is a local dev convenience; production relies on real env.
	_ = godotenv.Load(".env")

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Error("chat credentials missing", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateSpotifyReady(); err != nil {
		slog.Error("spotify credentials missing", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("playlistener", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; fall back to embedded SQL when the
	// migration files aren't shipped alongside the binary.
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded SQL", slog.Any("err", err))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := sessions.NewManager(database, &oauth2.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RedirectURL:  cfg.SpotifyRedirectURI,
		Scopes:       strings.Fields(cfg.SpotifyScopes),
		Endpoint:     spotify.Endpoint,
	})
	manager.AutoRefresh(ctx, cfg.RefreshInterval, 15*time.Minute)

	store := &db.IntegrationStore{DB: database}
	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
	sender := bot.NewIRCSender(client)

	b := bot.New(store, manager.Resolve, sender, bot.Options{
		Trigger:       cfg.Trigger,
		RateLimit:     cfg.RateLimit,
		RateWindow:    cfg.RateWindow,
		ExecTimeout:   cfg.ExecTimeout,
		MaxConcurrent: cfg.MaxConcurrent,
	})
	b.Start(ctx)
	bot.BindIRC(ctx, client, b)

	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
		},
		ClientID: cfg.TwitchClientID,
	}
	go b.RunPresence(ctx, helix, cfg.PresenceInterval)
	go b.RunReminder(ctx, cfg.ReminderInterval)

	go func() {
		if err := server.Start(ctx, server.Deps{DB: database, Joined: b.Joined}, cfg.ListenAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	go func() {
		if err := client.Connect(); err != nil && ctx.Err() == nil {
			slog.Error("chat connection failed", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// initLogging configures slog from LOG_LEVEL and LOG_FORMAT (text|json).
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
