package relaychat

import "errors"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error response from the chat backend.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "api error"
	}
	return e.Message
}

// Sentinel errors returned by Session operations.
var (
	// ErrNotConnected is returned by send/update/delete while the
	// streaming connection is down. The operation is not queued.
	ErrNotConnected = errors.New("not connected")

	// ErrNotAuthenticated is returned by operations that require a
	// logged-in session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// ============================================================================
// Messages
// ============================================================================

// Message is a single chat message between two users.
// ID is assigned by the server and unique; Timestamp is RFC3339 text.
type Message struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Action classifies a live delta event delivered over the subscription.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionUnknown Action = ""
)

// ParseAction maps a wire action tag onto the closed Action set.
// An absent tag on a wire event means a plain broadcast and is treated
// as a create; anything unrecognized becomes ActionUnknown.
func ParseAction(s string) Action {
	switch s {
	case "CREATE", "":
		return ActionCreate
	case "UPDATE":
		return ActionUpdate
	case "DELETE":
		return ActionDelete
	default:
		return ActionUnknown
	}
}

// Event is a decoded live delta: the affected message plus its action.
type Event struct {
	Action  Action
	Message Message
}

// ============================================================================
// Auth Types
// ============================================================================

// Credentials carry a username/password pair for login and registration.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResult is the backend's response to login and registration.
type AuthResult struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// ============================================================================
// Outbound wire payloads
// ============================================================================

type sendPayload struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type updatePayload struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type deletePayload struct {
	ID       int64  `json:"id"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}
