package flow

// State is the login state of a Manager
type State int

const (
	// Unauthenticated means no credential is held and no login is in progress
	Unauthenticated State = iota

	// AuthorizationRequested means a pending request exists and the authorization
	// URL is being handed to the user agent
	AuthorizationRequested

	// CallbackPending means the user agent was sent to the identity provider and
	// the callback has not arrived yet
	CallbackPending

	// Authenticated means a credential is held
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AuthorizationRequested:
		return "authorization_requested"
	case CallbackPending:
		return "callback_pending"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// StateListener observes state transitions
type StateListener func(from, to State)
