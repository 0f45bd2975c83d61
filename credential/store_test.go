package credential

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testCredential(token string) *Credential {
	return &Credential{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
		Claims: Claims{
			Subject: "user-123",
			Email:   "user@example.com",
			Groups:  []string{"admins"},
		},
	}
}

func TestStore_EmptyIsUnauthenticated(t *testing.T) {
	store := NewStore()

	if got := store.Get(); got != nil {
		t.Errorf("Get() = %+v, want nil", got)
	}
	if store.Authenticated() {
		t.Error("Authenticated() = true on empty store")
	}
}

func TestStore_SetGet(t *testing.T) {
	store := NewStore()

	// get() after set(c) returns exactly c, for any sequence of sets
	sequence := []*Credential{
		testCredential("token-a"),
		nil,
		testCredential("token-b"),
		testCredential("token-c"),
		nil,
	}

	for i, c := range sequence {
		store.Set(c)
		got := store.Get()
		switch {
		case c == nil && got != nil:
			t.Fatalf("step %d: Get() = %+v, want nil", i, got)
		case c != nil && (got == nil || got.AccessToken != c.AccessToken):
			t.Fatalf("step %d: Get() = %+v, want token %q", i, got, c.AccessToken)
		}
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store := NewStore()
	store.Set(testCredential("token-a"))

	got := store.Get()
	got.AccessToken = "mutated"
	got.Claims.Groups[0] = "mutated"

	again := store.Get()
	if again.AccessToken != "token-a" {
		t.Errorf("AccessToken = %q, external mutation leaked into store", again.AccessToken)
	}
	if again.Claims.Groups[0] != "admins" {
		t.Errorf("Groups[0] = %q, external mutation leaked into store", again.Claims.Groups[0])
	}
}

func TestStore_SubscribeObservesNewValue(t *testing.T) {
	store := NewStore()

	var seen []string
	unsubscribe := store.Subscribe(func(c *Credential) {
		// Listeners observe the new value through Get as well
		current := store.Get()
		if c == nil {
			if current != nil {
				t.Errorf("listener saw stale value %q", current.AccessToken)
			}
			seen = append(seen, "<nil>")
			return
		}
		if current == nil || current.AccessToken != c.AccessToken {
			t.Errorf("listener observed stale store state")
		}
		seen = append(seen, c.AccessToken)
	})

	store.Set(testCredential("token-a"))
	store.Set(nil)
	store.Set(testCredential("token-b"))

	want := []string{"token-a", "<nil>", "token-b"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("notifications = %v, want %v", seen, want)
	}

	unsubscribe()
	unsubscribe() // idempotent
	store.Set(testCredential("token-c"))
	if len(seen) != len(want) {
		t.Errorf("listener called after unsubscribe: %v", seen)
	}
}

func TestStore_SubscribersNotifiedInRegistrationOrder(t *testing.T) {
	store := NewStore()

	var order []int
	for i := 0; i < 3; i++ {
		store.Subscribe(func(*Credential) { order = append(order, i) })
	}

	store.Set(testCredential("token-a"))

	if fmt.Sprint(order) != "[0 1 2]" {
		t.Errorf("order = %v, want [0 1 2]", order)
	}
}

func TestStore_WithInitialDoesNotNotify(t *testing.T) {
	store := NewStore(WithInitial(testCredential("persisted")))

	called := false
	store.Subscribe(func(*Credential) { called = true })

	if got := store.Get(); got == nil || got.AccessToken != "persisted" {
		t.Fatalf("Get() = %+v, want persisted credential", got)
	}
	if called {
		t.Error("listener called during construction")
	}
}

func TestStore_CompareAndClear(t *testing.T) {
	store := NewStore()
	store.Set(testCredential("token-a"))

	var notifications int
	store.Subscribe(func(*Credential) { notifications++ })

	// A newer credential must not be cleared by a stale failure
	store.Set(testCredential("token-b"))
	if store.CompareAndClear("token-a") {
		t.Fatal("CompareAndClear(stale token) = true")
	}
	if got := store.Get(); got == nil || got.AccessToken != "token-b" {
		t.Fatalf("Get() = %+v, want token-b", got)
	}

	if !store.CompareAndClear("token-b") {
		t.Fatal("CompareAndClear(current token) = false")
	}
	if store.Get() != nil {
		t.Error("credential not cleared")
	}
	if notifications != 2 {
		t.Errorf("notifications = %d, want 2", notifications)
	}

	if store.CompareAndClear("token-b") {
		t.Error("CompareAndClear on empty store = true")
	}
}

func TestStore_ConcurrentSetLastWriteWins(t *testing.T) {
	store := NewStore()

	var mu sync.Mutex
	var last string
	store.Subscribe(func(c *Credential) {
		mu.Lock()
		defer mu.Unlock()
		if c == nil {
			last = ""
			return
		}
		last = c.AccessToken
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				store.Set(nil)
				return
			}
			store.Set(testCredential(fmt.Sprintf("token-%d", i)))
		}(i)
	}
	wg.Wait()

	// The last notification delivered matches the final stored value
	got := store.Get()
	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		if last != "" {
			t.Errorf("store empty but last notification was %q", last)
		}
		return
	}
	if got.AccessToken != last {
		t.Errorf("store holds %q but last notification was %q", got.AccessToken, last)
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	store := NewStore()
	store.Set(testCredential("token-a"))

	if store.CompareAndSwap("token-x", testCredential("token-b")) {
		t.Error("CompareAndSwap(wrong token) = true")
	}
	if !store.CompareAndSwap("token-a", testCredential("token-b")) {
		t.Fatal("CompareAndSwap(current token) = false")
	}
	if got := store.Get(); got == nil || got.AccessToken != "token-b" {
		t.Errorf("Get() = %+v, want token-b", got)
	}
}

func TestStore_SetIf(t *testing.T) {
	store := NewStore()
	store.Set(testCredential("token-a"))

	notified := 0
	store.Subscribe(func(*Credential) { notified++ })

	if store.SetIf(testCredential("token-b"), func(current *Credential) bool { return current == nil }) {
		t.Error("SetIf() with false condition = true")
	}
	if got := store.Get(); got.AccessToken != "token-a" || notified != 0 {
		t.Errorf("rejected SetIf changed the store: %q, %d notifications", got.AccessToken, notified)
	}

	var seen string
	ok := store.SetIf(testCredential("token-b"), func(current *Credential) bool {
		seen = current.AccessToken
		return true
	})
	if !ok || seen != "token-a" {
		t.Errorf("SetIf() = %v with current %q, want true with token-a", ok, seen)
	}
	if got := store.Get(); got.AccessToken != "token-b" || notified != 1 {
		t.Errorf("Get() = %q after %d notifications, want token-b after 1", got.AccessToken, notified)
	}
}

func TestStore_SetIfBlocksConcurrentSet(t *testing.T) {
	store := NewStore()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan bool)
	go func() {
		done <- store.SetIf(testCredential("late-login"), func(*Credential) bool {
			close(entered)
			<-release
			return true
		})
	}()

	<-entered
	cleared := make(chan struct{})
	go func() {
		store.Set(nil)
		close(cleared)
	}()

	select {
	case <-cleared:
		t.Fatal("Set() ran between the SetIf check and its write")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if !<-done {
		t.Fatal("SetIf() = false, want true")
	}
	<-cleared

	if got := store.Get(); got != nil {
		t.Errorf("Get() = %q, want the later clear to win", got.AccessToken)
	}
}
