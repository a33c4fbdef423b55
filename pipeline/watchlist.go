package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/data"
	"github.com/sentryvision/sv-go/service/lgr"
)

type watchlistSnapshot struct {
	entries     []model.WatchlistEntry
	refreshedAt time.Time
}

// WatchlistCache holds the enrolled embeddings consulted by every
// source's detection pipeline. It is the only state shared across
// pumps: the snapshot pointer is swapped atomically on refresh, so
// concurrent readers observe either the old or the new list, never a
// partially updated one. Entries are immutable once published.
type WatchlistCache struct {
	dataSvc data.IService
	ttl     time.Duration
	clock   func() time.Time

	refreshMu sync.Mutex
	current   atomic.Pointer[watchlistSnapshot]
}

func NewWatchlistCache(dataSvc data.IService, ttl time.Duration) *WatchlistCache {
	return &WatchlistCache{
		dataSvc: dataSvc,
		ttl:     ttl,
		clock:   time.Now,
	}
}

// Snapshot returns the current entry list, synchronously refreshing it
// first when the TTL has lapsed. A failed refresh keeps serving the
// stale snapshot rather than dropping matches on a transient
// persistence error.
func (c *WatchlistCache) Snapshot() []model.WatchlistEntry {
	if snap := c.current.Load(); snap != nil && c.clock().Sub(snap.refreshedAt) <= c.ttl {
		return snap.entries
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another pump may have refreshed while we waited for the lock.
	if snap := c.current.Load(); snap != nil && c.clock().Sub(snap.refreshedAt) <= c.ttl {
		return snap.entries
	}

	entries, err := c.dataSvc.RetrieveWatchlist()
	if err != nil {
		lgr.Logger.Error(
			"watchlist refresh failed, serving stale snapshot",
			slog.Any("error", err),
		)
		if snap := c.current.Load(); snap != nil {
			return snap.entries
		}
		return nil
	}

	c.current.Store(&watchlistSnapshot{
		entries:     entries,
		refreshedAt: c.clock(),
	})
	return entries
}

// Lookup finds an entry by identity in the current snapshot without
// forcing a refresh.
func (c *WatchlistCache) Lookup(personID string) (model.WatchlistEntry, bool) {
	snap := c.current.Load()
	if snap == nil {
		return model.WatchlistEntry{}, false
	}
	for _, entry := range snap.entries {
		if entry.PersonID == personID {
			return entry, true
		}
	}
	return model.WatchlistEntry{}, false
}
