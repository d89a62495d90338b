package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is how long a loaded mapping is considered fresh.
const DefaultTTL = 8 * time.Hour

var (
	// ErrSourceUnavailable is returned when the source could not be read.
	// The previously loaded mapping stays in effect.
	ErrSourceUnavailable = errors.New("lookup: source unavailable")
	// ErrSourceEmpty flags a load that succeeded but produced no entries.
	// The empty mapping has been swapped in; callers decide how severe that is.
	ErrSourceEmpty = errors.New("lookup: source empty")
)

// Entry is a raw key/value row as returned by a Source.
type Entry struct {
	Key   string
	Value string
}

// Source reads the full reference mapping from external storage.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Entry, error)
}

type snapshot struct {
	entries  map[string]string
	loadedAt time.Time
	gen      uint64
}

// Cache is an in-memory key to value mapping that is reloaded wholesale
// from a Source. Reads never block on a reload.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	// loadMu serializes Load; readers only touch current.
	loadMu  sync.Mutex
	current atomic.Pointer[snapshot]
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty Cache backed by source.
func New(source Source, opts ...Option) (*Cache, error) {
	if source == nil {
		return nil, errors.New("lookup: source must not be nil")
	}
	c := &Cache{
		source: source,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(&snapshot{entries: map[string]string{}})
	return c, nil
}

// Normalize maps a key to the form it is stored under.
func Normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Load reads the source and swaps in the new mapping. Unless force is set,
// a mapping younger than the TTL is kept as is. A caller that waited for a
// concurrent Load is satisfied by that load's result.
func (c *Cache) Load(ctx context.Context, force bool) error {
	seen := c.current.Load().gen

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	cur := c.current.Load()
	if cur.gen != seen {
		return emptyErr(len(cur.entries))
	}
	if !force && cur.gen > 0 && c.now().Sub(cur.loadedAt) < c.ttl {
		return nil
	}

	rows, err := c.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, c.source.Name(), err)
	}

	entries := make(map[string]string, len(rows))
	for _, row := range rows {
		key := Normalize(row.Key)
		value := strings.TrimSpace(row.Value)
		if key == "" || value == "" {
			continue
		}
		entries[key] = value
	}

	c.current.Store(&snapshot{
		entries:  entries,
		loadedAt: c.now(),
		gen:      cur.gen + 1,
	})
	return emptyErr(len(entries))
}

func emptyErr(size int) error {
	if size == 0 {
		return ErrSourceEmpty
	}
	return nil
}

// Resolve returns the value stored for key, matched case- and
// whitespace-insensitively.
func (c *Cache) Resolve(key string) (string, bool) {
	v, ok := c.current.Load().entries[Normalize(key)]
	return v, ok
}

func (c *Cache) Size() int {
	return len(c.current.Load().entries)
}

func (c *Cache) IsEmpty() bool {
	return c.Size() == 0
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// LoadedAt returns the time of the last successful load, or the zero time.
func (c *Cache) LoadedAt() time.Time {
	return c.current.Load().loadedAt
}

// SourceName reports the configured source, for logging.
func (c *Cache) SourceName() string {
	return c.source.Name()
}
