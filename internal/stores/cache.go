package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chartermap/internal/components/assert"
	"chartermap/internal/components/chrono"
	"chartermap/internal/components/telemetry"
	"chartermap/internal/geojson"
)

const (
	report_cache_load = "cache.load"
	report_cache_save = "cache.save"
)

// Entry is the persisted result of one detail lookup.
type Entry struct {
	Icon       string            `json:"icon"`
	Name       string            `json:"name"`
	Desc       string            `json:"desc"`
	Geom       *geojson.Geometry `json:"geom"`
	ResolvedAt time.Time         `json:"ts"`
}

// Store persists every entry of a cache at once.
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
}

// Policy decides how long an entry may be reused. Confirmed entries are
// trusted longer since a store rarely changes brand, while an ambiguous
// entry may resolve differently on the next lookup.
type Policy struct {
	ConfirmedTTL time.Duration
	OtherTTL     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		ConfirmedTTL: 90 * 24 * time.Hour,
		OtherTTL:     14 * 24 * time.Hour,
	}
}

// Cache is an id -> Entry map backed by a Store. Entries are never evicted.
type Cache struct {
	store  Store
	policy Policy
	time   chrono.TimeAPI
	tel    telemetry.API

	mu      sync.RWMutex
	entries map[string]Entry
}

func NewCache(store Store, policy Policy, time chrono.TimeAPI, tel telemetry.API) *Cache {
	assert.NotNil(store, "store")
	assert.NotNil(time, "time")
	assert.NotNil(tel, "tel")

	return &Cache{
		store:   store,
		policy:  policy,
		time:    time,
		tel:     telemetry.NewScopedAPI("stores", tel),
		entries: map[string]Entry{},
	}
}

func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	return entry, ok
}

// Put overwrites the entry for id, stamping it with the current time.
func (c *Cache) Put(id string, entry Entry) Entry {
	entry.ResolvedAt = c.time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry
	return entry
}

// IsStale reports whether entry has outlived its TTL, classify picks the
// TTL tier. An entry that was never stamped is always stale.
func (c *Cache) IsStale(entry Entry, classify func(Entry) bool) bool {
	if entry.ResolvedAt.IsZero() {
		return true
	}
	ttl := c.policy.OtherTTL
	if classify != nil && classify(entry) {
		ttl = c.policy.ConfirmedTTL
	}
	return c.time.Now().Sub(entry.ResolvedAt) > ttl
}

// Age is the time since entry was resolved, zero for unstamped entries.
func (c *Cache) Age(entry Entry) time.Duration {
	if entry.ResolvedAt.IsZero() {
		return 0
	}
	return c.time.Now().Sub(entry.ResolvedAt)
}

// Load replaces the contents of the cache with what the store holds. A
// store that cannot be read leaves the cache empty, it is reported but
// never returned since the run can always proceed without a cache.
func (c *Cache) Load(ctx context.Context) {
	entries, err := c.store.Load(ctx)
	if err != nil {
		c.tel.ReportWarning(report_cache_load, fmt.Errorf("starting with an empty cache: %w", err))
		entries = nil
	}
	if entries == nil {
		entries = map[string]Entry{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	c.tel.ReportCount(report_cache_load, int64(len(entries)))
}

func (c *Cache) Save(ctx context.Context) error {
	err := c.store.Save(ctx, c.Snapshot())
	if err != nil {
		c.tel.ReportBroken(report_cache_save, err)
		return err
	}
	return nil
}

// Snapshot returns a copy of every entry.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(c.entries))
	for id, entry := range c.entries {
		out[id] = entry
	}
	return out
}

// IDs returns every cached id in ascending order.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var (
	_ Store = JSONFile{}
	_ Store = SQL{}
)
