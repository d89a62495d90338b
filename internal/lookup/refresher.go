package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultBackoff is the wait before retrying a failed scheduled refresh.
const DefaultBackoff = 60 * time.Second

// Refresher owns the cache lifecycle: a strict load at startup and a
// periodic reload afterwards.
type Refresher struct {
	cache   *Cache
	backoff time.Duration
	logger  *slog.Logger
	after   func(time.Duration) <-chan time.Time
}

func NewRefresher(cache *Cache, backoff time.Duration, logger *slog.Logger) (*Refresher, error) {
	if cache == nil {
		return nil, errors.New("lookup: cache must not be nil")
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		cache:   cache,
		backoff: backoff,
		logger:  logger,
		after:   time.After,
	}, nil
}

// Startup performs the initial load. Any failure, including an empty
// mapping, is returned so the caller can refuse to start serving.
func (r *Refresher) Startup(ctx context.Context) error {
	if err := r.cache.Load(ctx, false); err != nil {
		return fmt.Errorf("lookup: initial load from %s: %w", r.cache.SourceName(), err)
	}
	r.logger.Info("reference loaded", "source", r.cache.SourceName(), "entries", r.cache.Size())
	return nil
}

// Run reloads the cache every TTL until ctx is cancelled. Failed reloads
// keep the stale mapping and are retried after the backoff.
func (r *Refresher) Run(ctx context.Context) {
	wait := r.cache.TTL()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.after(wait):
		}
		wait = r.refresh(ctx)
	}
}

func (r *Refresher) refresh(ctx context.Context) time.Duration {
	err := r.cache.Load(ctx, true)
	switch {
	case err == nil:
		r.logger.Info("reference refreshed", "source", r.cache.SourceName(), "entries", r.cache.Size())
	case errors.Is(err, ErrSourceEmpty):
		r.logger.Warn("reference refreshed but empty", "source", r.cache.SourceName())
	default:
		r.logger.Error("reference refresh failed", "source", r.cache.SourceName(), "err", err, "retry_in", r.backoff)
		return r.backoff
	}
	return r.cache.TTL()
}
