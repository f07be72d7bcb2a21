// Package cache maintains an in-memory view of the crate corpus so queries
// never touch the store for per-crate data. A background worker rebuilds two
// maps (id -> crate, normalized name -> id) from the store and publishes them
// wholesale; readers observe either the fully-old or fully-new snapshot,
// never a partial one.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/delve-search/delve/app/storage"
)

// CachedCrate is the denormalized aggregate served to queries. It is rebuilt
// from scratch on every refresh and never mutated afterwards.
type CachedCrate struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Keywords        []int64 `json:"keywords"`
	Downloads       int64   `json:"downloads"`
	RecentDownloads int64   `json:"recentDownloads"`
}

// ErrClosed is returned by accessors and Refresh after Close.
var ErrClosed = errors.New("cache is closed")

// RecentWindowDays is how far back the recent-download aggregate reaches.
const RecentWindowDays = 30

type command struct {
	// When non-nil, the refresh result is delivered here.
	done chan error
}

type Cache struct {
	store    storage.Store
	commands chan command
	stopped  chan struct{}
	finished chan struct{}

	closeOnce sync.Once

	// The two maps are guarded independently so a query holding one read
	// lock never blocks publication of the other map. Published maps are
	// immutable; readers may keep using a map reference after releasing the
	// lock for the remainder of one query.
	cratesMu sync.RWMutex
	crates   map[int64]CachedCrate

	byNameMu sync.RWMutex
	byName   map[string]int64
}

// New starts the cache worker and queues an initial refresh. The worker runs
// until Close is called; commands are processed strictly in arrival order and
// never concurrently.
func New(store storage.Store) *Cache {
	c := &Cache{
		store:    store,
		commands: make(chan command, 16),
		stopped:  make(chan struct{}),
		finished: make(chan struct{}),
		crates:   map[int64]CachedCrate{},
		byName:   map[string]int64{},
	}

	c.commands <- command{}
	go c.run()

	return c
}

// Refresh queues a rebuild of both maps. It returns once the command is
// accepted, not once the rebuild completes.
func (c *Cache) Refresh() error {
	return c.send(command{})
}

// RefreshWait queues a rebuild and blocks until it completes, reporting the
// rebuild error to the caller. A concurrent Close unblocks the wait with
// ErrClosed instead of leaving the caller stuck on an unanswered command.
func (c *Cache) RefreshWait(ctx context.Context) error {
	done := make(chan error, 1)
	if err := c.send(command{done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) send(cmd command) error {
	select {
	case <-c.stopped:
		return ErrClosed
	default:
	}
	select {
	case c.commands <- cmd:
		return nil
	case <-c.stopped:
		return ErrClosed
	}
}

// Close shuts the worker down and waits for it to exit. The worker holds no
// back-reference that would keep it alive on its own, so shutdown is always
// explicit.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopped)
	})
	<-c.finished
}

// Crates returns the current id -> crate snapshot.
func (c *Cache) Crates() (map[int64]CachedCrate, error) {
	select {
	case <-c.stopped:
		return nil, ErrClosed
	default:
	}
	c.cratesMu.RLock()
	defer c.cratesMu.RUnlock()
	return c.crates, nil
}

// CratesByName returns the current normalized-name -> id snapshot.
func (c *Cache) CratesByName() (map[string]int64, error) {
	select {
	case <-c.stopped:
		return nil, ErrClosed
	default:
	}
	c.byNameMu.RLock()
	defer c.byNameMu.RUnlock()
	return c.byName, nil
}

func (c *Cache) run() {
	defer close(c.finished)
	for {
		select {
		case <-c.stopped:
			// Answer commands that were queued before shutdown won the race.
			for {
				select {
				case cmd := <-c.commands:
					if cmd.done != nil {
						cmd.done <- ErrClosed
					}
				default:
					return
				}
			}
		case cmd := <-c.commands:
			err := c.refresh()
			if cmd.done != nil {
				cmd.done <- err
			} else if err != nil {
				slogctx.Error(context.Background(), "Cache refresh failed", "error", err)
			}
		}
	}
}

// refresh recomputes both maps from the store and swaps them in. Each map is
// replaced as a whole under its write lock.
func (c *Cache) refresh() error {
	summaries, err := c.store.CrateSummaries()
	if err != nil {
		return err
	}

	windowStart := storage.DateOf(time.Now().UTC()).SubDays(RecentWindowDays)
	recent, err := c.store.RecentDownloads(windowStart)
	if err != nil {
		return err
	}

	crates := make(map[int64]CachedCrate, len(summaries))
	byName := make(map[string]int64, len(summaries))
	for _, summary := range summaries {
		crates[summary.ID] = CachedCrate{
			ID:              summary.ID,
			Name:            summary.Name,
			Description:     summary.Description,
			Keywords:        summary.Keywords,
			Downloads:       summary.Downloads,
			RecentDownloads: recent[summary.ID],
		}
		byName[summary.NormalizedName] = summary.ID
	}

	c.cratesMu.Lock()
	c.crates = crates
	c.cratesMu.Unlock()

	c.byNameMu.Lock()
	c.byName = byName
	c.byNameMu.Unlock()

	return nil
}
