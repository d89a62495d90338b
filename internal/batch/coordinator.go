package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"codes-bot/internal/domain"
)

const (
	// DefaultWindow is the quiet period after the last outcome before a
	// batch is summarized.
	DefaultWindow = 3100 * time.Millisecond
	// DefaultMaxIdle is the age after which ReapIdle drops a session.
	DefaultMaxIdle = time.Hour

	sendTimeout = 10 * time.Second
)

// Notifier delivers the batch summary to a chat.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Remover releases a transient file referenced by an outcome.
type Remover interface {
	Remove(path string) error
}

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. time.AfterFunc satisfies it via
// SystemScheduler.
type Scheduler func(d time.Duration, f func()) Timer

func SystemScheduler(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type session struct {
	userID       int64
	chatID       int64
	outcomes     []domain.Outcome
	lastActivity time.Time
	timer        Timer
	// gen identifies the currently armed timer; callbacks carrying an older
	// value are stale and must not emit.
	gen uint64
}

// Coordinator groups per-file outcomes by user and emits one summary per
// batch once the user has been quiet for the debounce window.
type Coordinator struct {
	notifier Notifier
	remover  Remover
	window   time.Duration
	now      func() time.Time
	schedule Scheduler
	logger   *slog.Logger

	// emitting tracks summaries in flight so Shutdown can wait for them.
	emitting sync.WaitGroup

	// All further fields are protected by mu
	mu       sync.Mutex
	sessions map[int64]*session
	closed   bool
}

type Option func(*Coordinator)

func WithWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithScheduler(s Scheduler) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.schedule = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(notifier Notifier, remover Remover, opts ...Option) (*Coordinator, error) {
	if notifier == nil {
		return nil, errors.New("batch: notifier must not be nil")
	}
	if remover == nil {
		return nil, errors.New("batch: remover must not be nil")
	}
	c := &Coordinator{
		notifier: notifier,
		remover:  remover,
		window:   DefaultWindow,
		now:      time.Now,
		schedule: SystemScheduler,
		logger:   slog.Default(),
		sessions: make(map[int64]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RecordOutcome appends o to the user's current batch and restarts the
// debounce timer. The most recent chatID wins.
func (c *Coordinator) RecordOutcome(userID, chatID int64, o domain.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		// Nothing will summarize this outcome; release its files now.
		c.logger.Warn("outcome recorded after shutdown", "user_id", userID, "file", o.Filename)
		c.cleanup(userID, []domain.Outcome{o})
		return
	}

	s, ok := c.sessions[userID]
	if !ok {
		s = &session{userID: userID}
		c.sessions[userID] = s
	}
	s.chatID = chatID
	s.outcomes = append(s.outcomes, o)
	s.lastActivity = c.now()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = c.schedule(c.window, func() { c.fire(userID, s, gen) })
}

// fire runs on the timer goroutine. The session is detached from the table
// under the lock, so later outcomes for the user start a new batch.
func (c *Coordinator) fire(userID int64, s *session, gen uint64) {
	c.mu.Lock()
	if cur, ok := c.sessions[userID]; !ok || cur != s || s.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.sessions, userID)
	s.timer = nil
	c.emitting.Add(1)
	c.mu.Unlock()

	defer c.emitting.Done()
	c.emitSummary(s)
}

func (c *Coordinator) emitSummary(s *session) {
	if len(s.outcomes) == 0 {
		return
	}
	defer c.cleanup(s.userID, s.outcomes)

	summary := Summarize(s.outcomes)
	if !summary.NeedsMessage() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := c.notifier.SendMessage(ctx, s.chatID, summary.Text()); err != nil {
		c.logger.Error("batch summary not delivered", "user_id", s.userID, "chat_id", s.chatID, "err", err)
		return
	}
	c.logger.Info("batch summary sent", "user_id", s.userID, "files", summary.Total, "failed", summary.Failed())
}

func (c *Coordinator) cleanup(userID int64, outcomes []domain.Outcome) {
	for _, o := range outcomes {
		for _, path := range o.Paths() {
			if err := c.remover.Remove(path); err != nil {
				c.logger.Error("temp file cleanup failed", "user_id", userID, "path", path, "err", err)
				continue
			}
			c.logger.Debug("temp file removed", "path", path)
		}
	}
}

// ReapIdle drops sessions with no activity for longer than maxIdle. No
// summary is sent; files are removed best-effort. It returns the number of
// sessions dropped.
func (c *Coordinator) ReapIdle(maxIdle time.Duration) int {
	cutoff := c.now().Add(-maxIdle)

	c.mu.Lock()
	var stale []*session
	for userID, s := range c.sessions {
		if s.lastActivity.Before(cutoff) {
			if s.timer != nil {
				s.timer.Stop()
			}
			delete(c.sessions, userID)
			stale = append(stale, s)
		}
	}
	c.mu.Unlock()

	for _, s := range stale {
		c.logger.Info("idle session dropped", "user_id", s.userID, "files", len(s.outcomes))
		c.cleanup(s.userID, s.outcomes)
	}
	return len(stale)
}

// RunReaper calls ReapIdle every interval until ctx is cancelled.
func (c *Coordinator) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.ReapIdle(maxIdle); n > 0 {
				c.logger.Info("idle sessions reaped", "count", n)
			}
		}
	}
}

// Pending returns the number of batches still accumulating.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Shutdown cancels every pending timer, flushes the open batches and waits
// for in-flight summaries until ctx is done. Outcomes recorded afterwards
// are cleaned up immediately.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	pending := make([]*session, 0, len(c.sessions))
	for userID, s := range c.sessions {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		delete(c.sessions, userID)
		pending = append(pending, s)
	}
	c.emitting.Add(len(pending))
	c.mu.Unlock()

	for _, s := range pending {
		go func(s *session) {
			defer c.emitting.Done()
			c.emitSummary(s)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		c.emitting.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
