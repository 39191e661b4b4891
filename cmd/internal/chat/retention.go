package chat

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultRetentionWindow keeps messages for 30 days unless configured.
	DefaultRetentionWindow = 30 * 24 * time.Hour

	// DefaultSweepInterval is how often the janitor purges expired messages.
	DefaultSweepInterval = time.Hour
)

// Janitor purges messages older than the retention window on a fixed
// interval, independent of message traffic.
type Janitor struct {
	log      *slog.Logger
	store    MessageLog
	window   time.Duration
	interval time.Duration
}

// NewJanitor constructs a retention janitor with safe defaults when inputs
// are invalid.
func NewJanitor(log *slog.Logger, store MessageLog, window, interval time.Duration) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	if window <= 0 {
		window = DefaultRetentionWindow
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{log: log, store: store, window: window, interval: interval}
}

// Run sweeps until ctx is cancelled. It is meant to be launched as a
// goroutine from app wiring.
func (j *Janitor) Run(ctx context.Context) {
	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.window)

	n, err := j.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		j.log.Error("retention.purge.fail", "err", err)
		return
	}
	if n > 0 {
		purgedTotal.Add(float64(n))
		j.log.Info("retention.purge", "removed", n, "cutoff", cutoff)
	}
}
