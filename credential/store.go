package credential

import (
	"crypto/subtle"
	"log/slog"
	"slices"
	"sync"

	"github.com/giantswarm/console-core/internal/util"
)

// tokenLogLength is the number of token characters included in debug logs
const tokenLogLength = 8

// Listener is called with the new credential (nil when cleared) after every change
type Listener func(*Credential)

type subscriber struct {
	id uint64
	fn Listener
}

// Store is the session-wide holder of the current credential.
//
// Set calls are serialized: the last call to complete wins, and every subscriber
// has observed the new value before Set returns. Listeners run on the goroutine
// calling Set and may call Get, but must not call Set or CompareAndClear.
type Store struct {
	// setMu serializes writers together with their notifications
	setMu sync.Mutex

	mu          sync.RWMutex
	current     *Credential
	subscribers []subscriber
	nextID      uint64

	logger *slog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithInitial seeds the store, e.g. from a persisted credential. No listener is notified.
func WithInitial(c *Credential) Option {
	return func(s *Store) {
		s.current = c.Clone()
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty (unauthenticated) store
func NewStore(opts ...Option) *Store {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the current credential, or nil when unauthenticated
func (s *Store) Get() *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Authenticated reports whether a credential is held
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// Set replaces the current credential (nil clears it) and notifies subscribers
func (s *Store) Set(c *Credential) {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.replace(c.Clone())
}

// SetIf replaces the credential with c only if cond, evaluated against the held
// credential, returns true. cond runs serialized with every other write, so no
// Set can land between the check and the replacement. cond must not write to
// the store.
func (s *Store) SetIf(c *Credential, cond func(current *Credential) bool) bool {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.RLock()
	current := s.current.Clone()
	s.mu.RUnlock()

	if !cond(current) {
		return false
	}
	s.replace(c.Clone())
	return true
}

// CompareAndClear clears the credential only if it still carries accessToken.
// It returns true when the credential was cleared. Callers holding a token read
// before an awaited call use this so a newer credential is never discarded.
func (s *Store) CompareAndClear(accessToken string) bool {
	return s.CompareAndSwap(accessToken, nil)
}

// CompareAndSwap replaces the credential with next only if the held credential
// still carries accessToken. It returns true when the swap happened.
func (s *Store) CompareAndSwap(accessToken string, next *Credential) bool {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if current == nil || subtle.ConstantTimeCompare([]byte(current.AccessToken), []byte(accessToken)) != 1 {
		return false
	}

	s.replace(next.Clone())
	return true
}

// replace must be called with setMu held
func (s *Store) replace(next *Credential) {
	s.mu.Lock()
	s.current = next
	subs := slices.Clone(s.subscribers)
	s.mu.Unlock()

	if next == nil {
		s.logger.Debug("Credential cleared")
	} else {
		s.logger.Debug("Credential replaced",
			"token_prefix", util.SafeTruncate(next.AccessToken, tokenLogLength),
			"expiry", next.Expiry)
	}

	for _, sub := range subs {
		sub.fn(next.Clone())
	}
}

// Subscribe registers fn to be called on every change. The returned function
// removes the subscription and is safe to call more than once.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.subscribers = slices.DeleteFunc(s.subscribers, func(sub subscriber) bool {
				return sub.id == id
			})
		})
	}
}
