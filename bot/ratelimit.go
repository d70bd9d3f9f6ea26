package bot

import (
	"sync"
	"time"
)

// rateWindow is a fixed-window budget shared by all commands from one
// channel, protecting the external APIs from bursts. Expensive commands
// charge more than one unit.
type rateWindow struct {
	mu    sync.Mutex
	start time.Time
	used  int
}

// allow charges cost against the window, resetting it when the window has
// elapsed. When the budget is exhausted it returns false and how long the
// caller should wait.
func (w *rateWindow) allow(now time.Time, cost, limit int, window time.Duration) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if now.Sub(w.start) >= window {
		w.start = now
		w.used = 0
	}
	if w.used+cost > limit {
		return w.start.Add(window).Sub(now), false
	}
	w.used += cost
	return 0, true
}

func (b *Bot) rateFor(channel string) *rateWindow {
	w, _ := b.rates.LoadOrStore(channel, &rateWindow{})
	return w.(*rateWindow)
}
