// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommandsReceived  prometheus.Counter
	CommandsSucceeded prometheus.Counter
	CommandsRejected  prometheus.Counter // permission/rate/usage denials
	CommandErrors     prometheus.Counter // internal failures
	RepliesSent       prometheus.Counter
	TracksQueued      prometheus.Counter
	TokenRefreshes    prometheus.Counter

	// Histograms (seconds)
	CommandDuration prometheus.Observer

	// Gauges
	JoinedChannelsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_commands_received_total", Help: "Number of chat commands received"})
		CommandsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_commands_succeeded_total", Help: "Number of chat commands completed successfully"})
		CommandsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_commands_rejected_total", Help: "Number of chat commands rejected by permission, rate, or usage checks"})
		CommandErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_command_errors_total", Help: "Number of chat commands failed on internal errors"})
		RepliesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_replies_sent_total", Help: "Number of outbound chat messages sent"})
		TracksQueued = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_tracks_queued_total", Help: "Number of tracks queued or added to playlists"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_token_refreshes_total", Help: "Number of OAuth token refreshes performed"})
		CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_command_duration_seconds", Help: "Command handling duration seconds", Buckets: prometheus.DefBuckets})
		JoinedChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_joined_channels", Help: "Current number of joined chat channels"})
	})
}

// CountTokenRefresh records a completed OAuth token refresh.
func CountTokenRefresh() {
	if TokenRefreshes != nil {
		TokenRefreshes.Inc()
	}
}

// SetJoinedChannels records the current joined-channel count.
func SetJoinedChannels(n int) {
	if JoinedChannelsGauge != nil {
		JoinedChannelsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
