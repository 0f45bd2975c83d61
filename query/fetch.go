package query

import (
	"context"
	"errors"
	"fmt"
)

// Fetch returns the data for key. A fresh entry is served from the cache;
// otherwise fetcher loads it. Concurrent fetches of the same key share one load.
// The load ignores the caller's cancellation; Cancel, Remove and Clear abort it.
func (c *Cache) Fetch(ctx context.Context, key Key, fetcher Fetcher) (any, error) {
	if e, ok := c.Read(key); ok && !e.Stale {
		return e.Data, nil
	}

	hash := key.Hash()

	// inflight[hash] exists exactly while the group has a call for hash, so a
	// caller either joins the registered load or starts a new one.
	c.mu.Lock()
	f, ok := c.inflight[hash]
	if !ok {
		f = &inflight{key: key.clone()}
		c.inflight[hash] = f
	}
	ch := c.group.DoChan(hash, func() (any, error) {
		return c.load(ctx, hash, f, fetcher)
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load runs fetcher and writes its result unless the fetch was canceled
// meanwhile. A fetcher error other than the cancellation itself is returned as is.
func (c *Cache) load(ctx context.Context, hash string, f *inflight, fetcher Fetcher) (any, error) {
	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	c.mu.Lock()
	if f.canceled {
		c.mu.Unlock()
		c.recordFetch(ctx, "canceled")
		return nil, ErrFetchCanceled
	}
	f.cancel = cancel
	c.mu.Unlock()

	data, err := fetcher(loadCtx)

	c.mu.Lock()
	canceled := f.canceled
	if c.inflight[hash] == f {
		delete(c.inflight, hash)
		c.group.Forget(hash)
	}
	var pending []notification
	if !canceled && err == nil {
		e := &Entry{Key: f.key, Data: data, UpdatedAt: c.now()}
		c.entries[hash] = e
		pending = append(pending, notification{subs: c.subscribersFor(hash), ev: Event{Key: e.Key, Entry: *e}})
	}
	c.mu.Unlock()

	switch {
	case canceled && (err == nil || errors.Is(err, context.Canceled)):
		c.recordFetch(ctx, "canceled")
		c.logger.Debug("Fetch result dropped", "key", hash)
		return nil, ErrFetchCanceled
	case err != nil:
		c.recordFetch(ctx, "error")
		return nil, err
	}

	deliverAll(pending)
	c.recordFetch(ctx, "ok")
	return data, nil
}

func (c *Cache) recordFetch(ctx context.Context, result string) {
	if c.inst != nil {
		c.inst.Metrics().RecordCacheFetch(ctx, result)
	}
}

// Get returns the cached value for key as a T
func Get[T any](c *Cache, key Key) (T, bool, error) {
	var zero T
	e, ok := c.Read(key)
	if !ok {
		return zero, false, nil
	}
	v, ok := e.Data.(T)
	if !ok {
		return zero, true, &TypeError{Key: key, Want: typeName[T](), Got: e.Data}
	}
	return v, true, nil
}

// Query fetches key through the cache with a typed loader
func Query[T any](ctx context.Context, c *Cache, key Key, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	data, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		return zero, err
	}
	v, ok := data.(T)
	if !ok {
		return zero, &TypeError{Key: key, Want: typeName[T](), Got: data}
	}
	return v, nil
}

// IsCanceled reports whether err is a canceled fetch
func IsCanceled(err error) bool {
	return errors.Is(err, ErrFetchCanceled)
}

func typeName[T any]() string {
	return fmt.Sprintf("%T", *new(T))
}
