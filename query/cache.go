package query

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/console-core/instrumentation"
)

// Entry is the cached result for one key
type Entry struct {
	Key       Key
	Data      any
	UpdatedAt time.Time

	// Stale entries are served by Read but refetched by Fetch
	Stale bool
}

// Event describes a change to one key
type Event struct {
	Key   Key
	Entry Entry

	// Removed is set when the key no longer has an entry
	Removed bool
}

// Listener receives change events for a subscribed key
type Listener func(Event)

// Fetcher loads the value for a key from the server
type Fetcher func(ctx context.Context) (any, error)

type subscriber struct {
	id uint64
	fn Listener
}

// inflight tracks one running Fetch
type inflight struct {
	key      Key
	canceled bool
	cancel   context.CancelFunc
}

// Cache is a keyed store of server-owned data
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*Entry
	subscribers map[string][]subscriber
	inflight    map[string]*inflight
	nextID      uint64

	// generation increments on Clear; writes prepared against an older
	// generation are dropped
	generation uint64

	group  singleflight.Group
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
	now    func() time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInstrumentation records cache metrics and registers the entry gauge
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(c *Cache) {
		c.inst = inst
	}
}

// WithClock overrides the time source used for UpdatedAt
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:     make(map[string]*Entry),
		subscribers: make(map[string][]subscriber),
		inflight:    make(map[string]*inflight),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.inst != nil {
		if err := c.inst.RegisterCacheSizeCallback(func() int64 { return int64(c.Len()) }); err != nil {
			c.logger.Warn("Failed to register cache size gauge", "error", err)
		}
	}
	return c
}

// Len returns the number of entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Read returns the entry for key without fetching
func (c *Cache) Read(key Key) (Entry, bool) {
	c.mu.Lock()
	e, ok := c.entries[key.Hash()]
	var out Entry
	if ok {
		out = *e
	}
	c.mu.Unlock()

	if c.inst != nil {
		c.inst.Metrics().RecordCacheRead(context.Background(), ok && !out.Stale)
	}
	return out, ok
}

// Write replaces (or creates) the entry for key with data, clears its stale flag
// and notifies subscribers
func (c *Cache) Write(key Key, data any) {
	c.mu.Lock()
	e := &Entry{Key: key.clone(), Data: data, UpdatedAt: c.now()}
	c.entries[key.Hash()] = e
	ev := Event{Key: e.Key, Entry: *e}
	subs := c.subscribersFor(key.Hash())
	c.mu.Unlock()

	deliver(subs, ev)
}

// Update replaces the entry for key with fn applied to its current data. It
// reports false, without calling fn, when key has no entry.
func (c *Cache) Update(key Key, fn func(data any) any) bool {
	c.mu.Lock()
	current, ok := c.entries[key.Hash()]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e := &Entry{Key: current.Key, Data: fn(current.Data), UpdatedAt: c.now()}
	c.entries[key.Hash()] = e
	ev := Event{Key: e.Key, Entry: *e}
	subs := c.subscribersFor(key.Hash())
	c.mu.Unlock()

	deliver(subs, ev)
	return true
}

// Invalidate marks every entry under prefix stale, notifies their subscribers and
// returns the number of entries marked
func (c *Cache) Invalidate(prefix Key) int {
	var pending []notification

	c.mu.Lock()
	for hash, e := range c.entries {
		if !e.Key.HasPrefix(prefix) {
			continue
		}
		stale := *e
		stale.Stale = true
		c.entries[hash] = &stale
		pending = append(pending, notification{subs: c.subscribersFor(hash), ev: Event{Key: stale.Key, Entry: stale}})
	}
	c.mu.Unlock()

	deliverAll(pending)

	if c.inst != nil && len(pending) > 0 {
		c.inst.Metrics().RecordCacheInvalidation(context.Background(), len(pending))
	}
	c.logger.Debug("Cache invalidated", "prefix", prefix.String(), "entries", len(pending))
	return len(pending)
}

// Cancel marks every in-flight Fetch under prefix as canceled. Their results are
// discarded on arrival and their callers get ErrFetchCanceled. Returns the number
// of fetches canceled.
func (c *Cache) Cancel(prefix Key) int {
	c.mu.Lock()
	n := c.cancelLocked(func(k Key) bool { return k.HasPrefix(prefix) })
	c.mu.Unlock()

	if c.inst != nil && n > 0 {
		c.inst.Metrics().RecordCacheCancellation(context.Background(), n)
	}
	return n
}

// cancelLocked must be called with mu held
func (c *Cache) cancelLocked(match func(Key) bool) int {
	n := 0
	for hash, f := range c.inflight {
		if !match(f.key) {
			continue
		}
		f.canceled = true
		if f.cancel != nil {
			f.cancel()
		}
		delete(c.inflight, hash)
		// New fetches for this key must not join the canceled one
		c.group.Forget(hash)
		n++
	}
	return n
}

// Matching returns copies of all entries under prefix, ordered by key
func (c *Cache) Matching(prefix Key) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry
	for _, e := range c.entries {
		if e.Key.HasPrefix(prefix) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Hash() < out[j].Key.Hash() })
	return out
}

// Generation returns the current cache generation. It changes only on Clear.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Edit cancels the in-flight fetches under prefixes, captures every matching
// entry and replaces the data of each with edit, all under one lock. A fetch
// can therefore neither slip between the snapshot and the edit nor overwrite
// the edit later. edit may be nil to only snapshot; it must not call back into
// the cache. The returned snapshot holds the entries as they were before the
// edit, ordered by key, together with the generation they belong to.
func (c *Cache) Edit(prefixes []Key, edit func(key Key, data any) any) (snapshot []Entry, generation uint64) {
	var pending []notification
	canceled := 0

	c.mu.Lock()
	for _, prefix := range prefixes {
		canceled += c.cancelLocked(func(k Key) bool { return k.HasPrefix(prefix) })
	}
	for _, e := range c.entries {
		for _, prefix := range prefixes {
			if e.Key.HasPrefix(prefix) {
				snapshot = append(snapshot, *e)
				break
			}
		}
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Key.Hash() < snapshot[j].Key.Hash() })

	if edit != nil {
		for _, old := range snapshot {
			hash := old.Key.Hash()
			e := &Entry{Key: old.Key, Data: edit(old.Key, old.Data), UpdatedAt: c.now()}
			c.entries[hash] = e
			pending = append(pending, notification{subs: c.subscribersFor(hash), ev: Event{Key: e.Key, Entry: *e}})
		}
	}
	generation = c.generation
	c.mu.Unlock()

	deliverAll(pending)

	if c.inst != nil && canceled > 0 {
		c.inst.Metrics().RecordCacheCancellation(context.Background(), canceled)
	}
	return snapshot, generation
}

// Restore writes entries back verbatim, keeping their timestamps and stale flags
func (c *Cache) Restore(entries []Entry) {
	c.mu.Lock()
	pending := c.restoreLocked(entries)
	c.mu.Unlock()

	deliverAll(pending)
}

// RestoreIf is Restore for entries captured in generation. It writes nothing
// and reports false when the cache was cleared since.
func (c *Cache) RestoreIf(generation uint64, entries []Entry) bool {
	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		c.logger.Debug("Restore dropped, cache cleared meanwhile", "entries", len(entries))
		return false
	}
	pending := c.restoreLocked(entries)
	c.mu.Unlock()

	deliverAll(pending)
	return true
}

// restoreLocked must be called with mu held
func (c *Cache) restoreLocked(entries []Entry) []notification {
	pending := make([]notification, 0, len(entries))
	for _, e := range entries {
		restored := e
		restored.Key = e.Key.clone()
		hash := restored.Key.Hash()
		c.entries[hash] = &restored
		pending = append(pending, notification{subs: c.subscribersFor(hash), ev: Event{Key: restored.Key, Entry: restored}})
	}
	return pending
}

// Remove deletes the entry for key and cancels its in-flight fetch
func (c *Cache) Remove(key Key) {
	hash := key.Hash()

	c.mu.Lock()
	c.cancelLocked(func(k Key) bool { return k.Hash() == hash })
	_, ok := c.entries[hash]
	delete(c.entries, hash)
	subs := c.subscribersFor(hash)
	c.mu.Unlock()

	if ok {
		deliver(subs, Event{Key: key, Removed: true})
	}
}

// Clear removes every entry and cancels every in-flight fetch. Subscriptions
// stay registered.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.cancelLocked(func(Key) bool { return true })
	var pending []notification
	for hash, e := range c.entries {
		pending = append(pending, notification{subs: c.subscribersFor(hash), ev: Event{Key: e.Key, Removed: true}})
	}
	c.entries = make(map[string]*Entry)
	c.generation++
	c.mu.Unlock()

	deliverAll(pending)
	c.logger.Debug("Cache cleared", "entries", len(pending))
}

// Subscribe registers fn for changes to key. The returned function removes the
// subscription and is safe to call more than once.
func (c *Cache) Subscribe(key Key, fn Listener) (unsubscribe func()) {
	hash := key.Hash()

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subscribers[hash] = append(c.subscribers[hash], subscriber{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := slices.DeleteFunc(c.subscribers[hash], func(s subscriber) bool { return s.id == id })
			if len(subs) == 0 {
				delete(c.subscribers, hash)
				return
			}
			c.subscribers[hash] = subs
		})
	}
}

// Subscribers returns the number of live subscribers for key
func (c *Cache) Subscribers(key Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers[key.Hash()])
}

// subscribersFor must be called with mu held
func (c *Cache) subscribersFor(hash string) []subscriber {
	return slices.Clone(c.subscribers[hash])
}

type notification struct {
	subs []subscriber
	ev   Event
}

func deliver(subs []subscriber, ev Event) {
	for _, s := range subs {
		s.fn(ev)
	}
}

func deliverAll(pending []notification) {
	for _, n := range pending {
		deliver(n.subs, n.ev)
	}
}
