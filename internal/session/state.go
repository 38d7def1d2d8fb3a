package session

// User is the identity derived from token claims.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// AuthState is the read-only snapshot of the session exposed to consumers.
// IsAuthenticated is true only when both User and Token are populated.
type AuthState struct {
	User            *User  `json:"user"`
	Token           string `json:"-"`
	IsAuthenticated bool   `json:"is_authenticated"`
	IsAdmin         bool   `json:"is_admin"`
	Loading         bool   `json:"loading"`
}

// State is the session lifecycle state.
type State int

const (
	// StateUninitialized is the only start state.
	StateUninitialized State = iota

	// StateInitializing means the one-time boot handshake is in flight.
	StateInitializing

	// StateAnonymous is the stable unauthenticated resting state.
	StateAnonymous

	// StateAuthenticated means a live token is held and kept fresh.
	StateAuthenticated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}
