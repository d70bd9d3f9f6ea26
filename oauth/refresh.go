package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// StartRefresher launches a goroutine that periodically checks a session's
// token and refreshes it before expiry, so interactive requests rarely pay
// refresh latency. The session's own retry protocol still covers the case
// where this loop loses the race.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, s *Session, name string, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			tok := s.Token()
			if tok.RefreshToken == "" {
				continue
			}
			if time.Until(tok.ExpiresAt) > window {
				continue
			}
			rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := s.Refresh(rctx)
			cancel()
			if err != nil {
				slog.Warn("token refresh failed", slog.String("identity", name), slog.Any("err", err))
				continue
			}
			slog.Info("token refreshed", slog.String("identity", name))
		}
	}()
}
