package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/console-core/internal/testutil"
)

type organization struct {
	Name string
}

var orgsKey = NewKey("organizations", "list")

func TestCache_ReadWrite(t *testing.T) {
	clock := testutil.NewMockTime(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	cache := New(WithClock(clock.Now))

	if _, ok := cache.Read(orgsKey); ok {
		t.Fatal("Read() on empty cache reported an entry")
	}

	cache.Write(orgsKey, []organization{{Name: "acme"}})

	e, ok := cache.Read(orgsKey)
	if !ok {
		t.Fatal("Read() after Write() reported no entry")
	}
	if e.Stale {
		t.Error("fresh entry is stale")
	}
	if !e.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("UpdatedAt = %v, want %v", e.UpdatedAt, clock.Now())
	}
	if got := e.Data.([]organization); len(got) != 1 || got[0].Name != "acme" {
		t.Errorf("Data = %v", got)
	}
}

func TestCache_InvalidateMarksPrefixStale(t *testing.T) {
	cache := New()
	acme := NewKey("projects", "list").With("organization", "acme")
	globex := NewKey("projects", "list").With("organization", "globex")
	cache.Write(orgsKey, []organization{})
	cache.Write(acme, []string{"web"})
	cache.Write(globex, []string{"api"})

	if n := cache.Invalidate(NewKey("projects")); n != 2 {
		t.Errorf("Invalidate() = %d, want 2", n)
	}

	for _, k := range []Key{acme, globex} {
		if e, _ := cache.Read(k); !e.Stale {
			t.Errorf("%s not stale after Invalidate", k)
		}
	}
	if e, _ := cache.Read(orgsKey); e.Stale {
		t.Error("entry outside prefix marked stale")
	}

	// Writing clears the stale flag
	cache.Write(acme, []string{"web", "docs"})
	if e, _ := cache.Read(acme); e.Stale {
		t.Error("Write() did not clear stale flag")
	}
}

func TestCache_SubscribeOrderAndUnsubscribe(t *testing.T) {
	cache := New()

	var order []string
	unsubA := cache.Subscribe(orgsKey, func(Event) { order = append(order, "a") })
	cache.Subscribe(orgsKey, func(Event) { order = append(order, "b") })
	cache.Subscribe(NewKey("projects"), func(Event) { order = append(order, "other") })

	cache.Write(orgsKey, 1)
	unsubA()
	unsubA()
	cache.Write(orgsKey, 2)

	want := []string{"a", "b", "b"}
	if len(order) != len(want) {
		t.Fatalf("notifications = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("notifications = %v, want %v", order, want)
		}
	}
	if n := cache.Subscribers(orgsKey); n != 1 {
		t.Errorf("Subscribers() = %d, want 1", n)
	}
}

func TestCache_ListenerMayReenter(t *testing.T) {
	cache := New()

	var seen any
	cache.Subscribe(orgsKey, func(ev Event) {
		e, _ := cache.Read(ev.Key)
		seen = e.Data
	})

	cache.Write(orgsKey, "v1")
	if seen != "v1" {
		t.Errorf("listener read %v, want v1", seen)
	}
}

func TestCache_MatchingAndRestore(t *testing.T) {
	cache := New()
	acme := NewKey("projects", "list").With("organization", "acme")
	globex := NewKey("projects", "list").With("organization", "globex")
	cache.Write(acme, []string{"web"})
	cache.Write(globex, []string{"api"})
	cache.Invalidate(globex)

	snapshot := cache.Matching(NewKey("projects"))
	if len(snapshot) != 2 {
		t.Fatalf("Matching() = %d entries, want 2", len(snapshot))
	}
	if !snapshot[0].Key.Equal(acme) || !snapshot[1].Key.Equal(globex) {
		t.Errorf("Matching() not ordered by key: %v, %v", snapshot[0].Key, snapshot[1].Key)
	}

	cache.Write(acme, []string{})
	cache.Remove(globex)

	cache.Restore(snapshot)

	e, ok := cache.Read(acme)
	if !ok || len(e.Data.([]string)) != 1 || !e.UpdatedAt.Equal(snapshot[0].UpdatedAt) {
		t.Errorf("acme not restored verbatim: %+v", e)
	}
	e, ok = cache.Read(globex)
	if !ok || !e.Stale {
		t.Errorf("globex not restored with its stale flag: %+v", e)
	}
}

func TestCache_Update(t *testing.T) {
	cache := New()

	if cache.Update(orgsKey, func(any) any { t.Fatal("fn called without entry"); return nil }) {
		t.Error("Update() on missing key = true")
	}

	original := []organization{{Name: "acme"}, {Name: "globex"}}
	cache.Write(orgsKey, original)
	cache.Update(orgsKey, func(data any) any {
		return []organization{data.([]organization)[1]}
	})

	got, _, err := Get[[]organization](cache, orgsKey)
	testutil.AssertNoError(t, err)
	if len(got) != 1 || got[0].Name != "globex" {
		t.Errorf("Get() = %v", got)
	}
	if original[0].Name != "acme" {
		t.Error("Update() mutated the stored value in place")
	}
}

func TestCache_ClearRemovesEverything(t *testing.T) {
	cache := New()
	cache.Write(orgsKey, 1)
	cache.Write(NewKey("projects"), 2)

	var removed int
	cache.Subscribe(orgsKey, func(ev Event) {
		if ev.Removed {
			removed++
		}
	})

	cache.Clear()

	if cache.Len() != 0 {
		t.Errorf("Len() = %d after Clear()", cache.Len())
	}
	if removed != 1 {
		t.Errorf("removal notifications = %d, want 1", removed)
	}
	if cache.Subscribers(orgsKey) != 1 {
		t.Error("Clear() dropped subscriptions")
	}
}

func TestCache_FetchServesFreshEntry(t *testing.T) {
	cache := New()
	cache.Write(orgsKey, "cached")

	got, err := cache.Fetch(context.Background(), orgsKey, func(context.Context) (any, error) {
		t.Fatal("fetcher called for fresh entry")
		return nil, nil
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual[any](t, got, "cached")
}

func TestCache_FetchRefetchesStaleEntry(t *testing.T) {
	cache := New()
	cache.Write(orgsKey, "old")
	cache.Invalidate(orgsKey)

	got, err := cache.Fetch(context.Background(), orgsKey, func(context.Context) (any, error) {
		return "new", nil
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual[any](t, got, "new")

	e, _ := cache.Read(orgsKey)
	if e.Stale || e.Data != "new" {
		t.Errorf("entry = %+v, want fresh \"new\"", e)
	}
}

func TestCache_FetchDeduplicates(t *testing.T) {
	cache := New()

	var calls atomic.Int32
	release := make(chan struct{})
	fetcher := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "value", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := cache.Fetch(context.Background(), orgsKey, fetcher)
			if err != nil {
				t.Errorf("Fetch() error = %v", err)
			}
			results[i] = v
		}(i)
	}

	testutil.Eventually(t, time.Second, func() bool { return calls.Load() == 1 }, "fetcher never started")
	// Give the other callers time to join the flight
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("fetcher called %d times, want 1", n)
	}
	for i, v := range results {
		if v != "value" {
			t.Errorf("result[%d] = %v", i, v)
		}
	}
}

func TestCache_CancelDropsInFlightResult(t *testing.T) {
	cache := New()
	cache.Write(orgsKey, "before")
	cache.Invalidate(orgsKey)

	started := make(chan struct{})
	release := make(chan struct{})
	var fetchCtxErr error
	done := make(chan error, 1)
	go func() {
		_, err := cache.Fetch(context.Background(), orgsKey, func(ctx context.Context) (any, error) {
			close(started)
			<-release
			fetchCtxErr = ctx.Err()
			return "from server", nil
		})
		done <- err
	}()

	<-started
	if n := cache.Cancel(NewKey("organizations")); n != 1 {
		t.Errorf("Cancel() = %d, want 1", n)
	}

	// An edit made after cancellation must survive the late response
	cache.Write(orgsKey, "optimistic")
	close(release)

	err := <-done
	if !errors.Is(err, ErrFetchCanceled) || !IsCanceled(err) {
		t.Errorf("Fetch() error = %v, want ErrFetchCanceled", err)
	}
	if !errors.Is(fetchCtxErr, context.Canceled) {
		t.Errorf("fetcher context error = %v, want context.Canceled", fetchCtxErr)
	}
	if e, _ := cache.Read(orgsKey); e.Data != "optimistic" {
		t.Errorf("entry = %v, canceled fetch overwrote the cache", e.Data)
	}
}

func TestCache_FetchAfterCancelStartsNewLoad(t *testing.T) {
	cache := New()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = cache.Fetch(context.Background(), orgsKey, func(context.Context) (any, error) {
			close(started)
			<-release
			return "stale", nil
		})
	}()
	<-started
	cache.Cancel(orgsKey)

	got, err := cache.Fetch(context.Background(), orgsKey, func(context.Context) (any, error) {
		return "fresh", nil
	})
	close(release)

	testutil.AssertNoError(t, err)
	testutil.AssertEqual[any](t, got, "fresh")
}

func TestCache_FetchErrorLeavesEntry(t *testing.T) {
	cache := New()
	cache.Write(orgsKey, "old")
	cache.Invalidate(orgsKey)

	wantErr := errors.New("unavailable")
	_, err := cache.Fetch(context.Background(), orgsKey, func(context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Fetch() error = %v, want %v", err, wantErr)
	}

	e, _ := cache.Read(orgsKey)
	if e.Data != "old" || !e.Stale {
		t.Errorf("entry = %+v, want stale \"old\"", e)
	}
}

func TestCache_FetchCallerContext(t *testing.T) {
	cache := New()

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cache.Fetch(ctx, orgsKey, func(context.Context) (any, error) {
		<-release
		return "late", nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Fetch() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestQuery_Typed(t *testing.T) {
	cache := New()

	orgs, err := Query(context.Background(), cache, orgsKey, func(context.Context) ([]organization, error) {
		return []organization{{Name: "acme"}}, nil
	})
	testutil.AssertNoError(t, err)
	if len(orgs) != 1 || orgs[0].Name != "acme" {
		t.Errorf("Query() = %v", orgs)
	}

	_, ok, err := Get[[]string](cache, orgsKey)
	if !ok {
		t.Fatal("Get() reported no entry")
	}
	var typeErr *TypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("Get() error = %v, want *TypeError", err)
	}
	if typeErr.Want != "[]string" {
		t.Errorf("TypeError.Want = %q", typeErr.Want)
	}
}

func TestCache_EditSnapshotsAndAppliesAtomically(t *testing.T) {
	cache := New()
	acme := NewKey("projects", "list").With("organization", "acme")
	cache.Write(orgsKey, []organization{{Name: "acme"}, {Name: "globex"}})
	cache.Write(acme, []string{"web"})
	cache.Write(NewKey("settings"), "untouched")
	cache.Invalidate(orgsKey)

	started := make(chan struct{})
	release := make(chan struct{})
	fetchDone := make(chan error, 1)
	go func() {
		_, err := cache.Fetch(context.Background(), orgsKey, func(context.Context) (any, error) {
			close(started)
			<-release
			return []organization{{Name: "acme"}, {Name: "globex"}}, nil
		})
		fetchDone <- err
	}()
	<-started

	var events int
	cache.Subscribe(orgsKey, func(Event) { events++ })

	snapshot, generation := cache.Edit([]Key{NewKey("organizations"), NewKey("projects")}, func(key Key, data any) any {
		if orgs, ok := data.([]organization); ok {
			return []organization{orgs[1]}
		}
		return []string{}
	})

	if generation != cache.Generation() {
		t.Errorf("Edit() generation = %d, want %d", generation, cache.Generation())
	}
	if len(snapshot) != 2 {
		t.Fatalf("snapshot = %d entries, want 2", len(snapshot))
	}
	for _, e := range snapshot {
		if e.Key.Equal(orgsKey) && (!e.Stale || len(e.Data.([]organization)) != 2) {
			t.Errorf("snapshot holds %+v, want the pre-edit stale entry", e)
		}
	}
	if events != 1 {
		t.Errorf("edit notifications = %d, want 1", events)
	}

	// The edited entry is fresh, so a fetch issued now is served from it
	got, err := cache.Fetch(context.Background(), orgsKey, func(context.Context) (any, error) {
		t.Error("fetcher called for the edited entry")
		return nil, nil
	})
	testutil.AssertNoError(t, err)
	if orgs := got.([]organization); len(orgs) != 1 || orgs[0].Name != "globex" {
		t.Errorf("Fetch() = %v, want the edited list", orgs)
	}

	close(release)
	if err := <-fetchDone; !IsCanceled(err) {
		t.Errorf("in-flight Fetch() error = %v, want ErrFetchCanceled", err)
	}
	if e, _ := cache.Read(orgsKey); len(e.Data.([]organization)) != 1 {
		t.Errorf("entry = %v, canceled fetch overwrote the edit", e.Data)
	}
	if e, _ := cache.Read(NewKey("settings")); e.Data != "untouched" {
		t.Error("entry outside the prefixes was edited")
	}
}

func TestCache_EditWithoutEditFunc(t *testing.T) {
	cache := New()
	cache.Write(orgsKey, "v1")
	before, _ := cache.Read(orgsKey)

	snapshot, _ := cache.Edit([]Key{orgsKey, NewKey("organizations")}, nil)
	if len(snapshot) != 1 {
		t.Fatalf("snapshot = %d entries, want 1 (deduplicated)", len(snapshot))
	}
	if after, _ := cache.Read(orgsKey); !after.UpdatedAt.Equal(before.UpdatedAt) || after.Data != "v1" {
		t.Errorf("entry changed without an edit: %+v", after)
	}
}

func TestCache_RestoreIf(t *testing.T) {
	cache := New()
	cache.Write(orgsKey, "confirmed")
	snapshot, generation := cache.Edit([]Key{orgsKey}, func(Key, any) any { return "optimistic" })

	if !cache.RestoreIf(generation, snapshot) {
		t.Fatal("RestoreIf() with current generation = false")
	}
	if e, _ := cache.Read(orgsKey); e.Data != "confirmed" {
		t.Errorf("entry = %v after RestoreIf, want confirmed", e.Data)
	}

	snapshot, generation = cache.Edit([]Key{orgsKey}, func(Key, any) any { return "optimistic" })
	cache.Clear()
	if cache.Generation() == generation {
		t.Fatal("Clear() did not advance the generation")
	}

	if cache.RestoreIf(generation, snapshot) {
		t.Error("RestoreIf() after Clear() = true")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, snapshot from before Clear() was restored", cache.Len())
	}
}
