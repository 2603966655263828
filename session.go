package relaychat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Destinations
// ============================================================================

const (
	destSend   = "/app/chat.send"
	destUpdate = "/app/chat.update"
	destDelete = "/app/chat.delete"
)

// userQueue is the per-user subscription destination for live deltas.
func userQueue(username string) string {
	return "/user/" + username + "/queue/messages"
}

// ============================================================================
// Session
// ============================================================================

// Session ties the REST client, conversation store, event router, and
// connection lifecycle together for one authenticated user. It is created
// unauthenticated; Login or Register populates it and Logout clears it
// atomically, including any pending reconnect.
type Session struct {
	client       *Client
	logger       *slog.Logger
	backoff      Backoff
	suppressEcho bool
	onEvent      func(Event)
	newTransport func(baseURL string) Transport

	mu          sync.Mutex
	currentUser string
	token       string
	store       *ConversationStore
	router      *EventRouter
	transport   Transport
	conn        *ConnManager
	users       []string
	selected    string
}

type SessionOption func(*Session)

// WithLogger sets the structured logger; the default discards everything.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithBackoff overrides the reconnect delay policy.
func WithBackoff(b Backoff) SessionOption {
	return func(s *Session) { s.backoff = b }
}

// WithEchoSuppression drops create events echoed back for the session's
// own sends. Off by default: the session does not apply outbound sends
// locally, so the echo is how a sent message enters the store.
func WithEchoSuppression(on bool) SessionOption {
	return func(s *Session) { s.suppressEcho = on }
}

// WithEventHandler registers fn to run after every live delta that
// changed a conversation, typically to refresh a UI. fn runs on the
// subscription read goroutine and must not block.
func WithEventHandler(fn func(Event)) SessionOption {
	return func(s *Session) { s.onEvent = fn }
}

// WithTransportFactory overrides how the streaming transport is built.
// Used by tests to inject a fake; the default speaks STOMP over websocket.
func WithTransportFactory(f func(baseURL string) Transport) SessionOption {
	return func(s *Session) { s.newTransport = f }
}

// NewSession creates an unauthenticated session over the given REST client.
func NewSession(client *Client, opts ...SessionOption) *Session {
	s := &Session{
		client:       client,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		backoff:      DefaultBackoff,
		newTransport: NewSTOMPTransport,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================================
// Login / Register / Logout
// ============================================================================

// Login authenticates and brings the session fully online: subscription
// open, history seeded, user directory loaded. Any failure along the way
// tears the partial session down and is returned to the caller.
func (s *Session) Login(ctx context.Context, username, password string) error {
	res, err := s.client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return s.start(ctx, username, res)
}

// Register creates an account and brings the session online exactly like
// Login.
func (s *Session) Register(ctx context.Context, username, password string) error {
	res, err := s.client.Register(ctx, username, password)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return s.start(ctx, username, res)
}

func (s *Session) start(ctx context.Context, fallbackUser string, res *AuthResult) error {
	user := res.Username
	if user == "" {
		// Some backend builds omit the username; the token subject
		// carries it.
		if sub, _, err := TokenClaims(res.Token); err == nil && sub != "" {
			user = sub
		}
	}
	if user == "" {
		user = fallbackUser
	}

	store := NewConversationStore(user)
	router := NewEventRouter(store, s.logger, s.suppressEcho)
	if s.onEvent != nil {
		router.OnApplied(s.onEvent)
	}
	transport := s.newTransport(s.client.BaseURL())
	conn := NewConnManager(transport, userQueue(user), router.OnEvent, s.afterConnect, s.backoff, s.logger)

	s.mu.Lock()
	s.currentUser = user
	s.token = res.Token
	s.store = store
	s.router = router
	s.transport = transport
	s.conn = conn
	s.selected = ""
	s.mu.Unlock()

	if err := conn.Connect(ctx, res.Token); err != nil {
		s.Logout()
		return err
	}
	return nil
}

// afterConnect is the post-connect side effect, run on every successful
// handshake: reload the full history and refresh the user directory so
// deltas missed while disconnected are reconciled.
func (s *Session) afterConnect(ctx context.Context) error {
	if err := s.LoadHistory(ctx); err != nil {
		return err
	}
	users, err := s.client.Users(ctx)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	s.setUsers(users)
	return nil
}

// Logout deactivates the transport, cancels any pending reconnect, and
// clears the store together with all auth material. Safe to call on an
// unauthenticated or already logged-out session.
func (s *Session) Logout() {
	s.mu.Lock()
	conn := s.conn
	store := s.store
	s.currentUser = ""
	s.token = ""
	s.store = nil
	s.router = nil
	s.transport = nil
	s.conn = nil
	s.users = nil
	s.selected = ""
	s.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	if store != nil {
		store.Clear()
	}
	s.client.SetToken("")
}

// ============================================================================
// Outbound actions
// ============================================================================

// SendMessage publishes a chat.send event for receiver. The message is
// not applied locally: the server assigns the id and echoes the message
// back through the subscription, which is the single path into the store.
// Fails fast with ErrNotConnected while the connection is down.
func (s *Session) SendMessage(receiver, content string) error {
	user, transport, err := s.connectedTransport()
	if err != nil {
		return err
	}
	return s.publish(transport, destSend, sendPayload{
		Sender:    user,
		Receiver:  receiver,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// UpdateMessage publishes a chat.update event for an existing message id.
func (s *Session) UpdateMessage(id int64, content string) error {
	_, transport, err := s.connectedTransport()
	if err != nil {
		return err
	}
	return s.publish(transport, destUpdate, updatePayload{
		ID:        id,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// DeleteMessage publishes a chat.delete event for a message in the
// conversation with partner.
func (s *Session) DeleteMessage(id int64, partner string) error {
	user, transport, err := s.connectedTransport()
	if err != nil {
		return err
	}
	return s.publish(transport, destDelete, deletePayload{
		ID:       id,
		Sender:   user,
		Receiver: partner,
	})
}

func (s *Session) connectedTransport() (string, Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUser == "" {
		return "", nil, ErrNotAuthenticated
	}
	if s.transport == nil || !s.transport.Connected() {
		return "", nil, ErrNotConnected
	}
	return s.currentUser, s.transport, nil
}

func (s *Session) publish(transport Transport, destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", destination, err)
	}
	return transport.Publish(destination, body)
}

// ============================================================================
// Read accessors
// ============================================================================

// IsAuthenticated reports whether the session holds a credential.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// CurrentUser returns the authenticated username, or "".
func (s *Session) CurrentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUser
}

// State returns the streaming connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return StateDisconnected
	}
	return conn.State()
}

// OtherUsers returns the user directory minus the current user.
func (s *Session) OtherUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	others := make([]string, 0, len(s.users))
	for _, u := range s.users {
		if u != s.currentUser {
			others = append(others, u)
		}
	}
	return others
}

// MessagesByUser returns the sorted, deduplicated conversation with
// partner. Empty when the partner is unknown.
func (s *Session) MessagesByUser(partner string) []Message {
	store := s.conversationStore()
	if store == nil {
		return nil
	}
	return store.MessagesByUser(partner)
}

// SelectUser marks partner's thread as active and returns it, fetching
// history on first access.
func (s *Session) SelectUser(ctx context.Context, partner string) ([]Message, error) {
	msgs, err := s.ChatHistory(ctx, partner)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.selected = partner
	s.mu.Unlock()
	return msgs, nil
}

// SelectedUser returns the active conversation partner, or "".
func (s *Session) SelectedUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// RefreshUsers re-fetches the user directory. As a background refresh it
// degrades on failure: the error is logged and the previous list kept.
func (s *Session) RefreshUsers(ctx context.Context) []string {
	users, err := s.client.Users(ctx)
	if err != nil {
		s.logger.Warn("user directory refresh failed", "error", err)
		return s.OtherUsers()
	}
	s.setUsers(users)
	return s.OtherUsers()
}

func (s *Session) setUsers(users []string) {
	s.mu.Lock()
	s.users = append([]string(nil), users...)
	s.mu.Unlock()
}

func (s *Session) conversationStore() *ConversationStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// ============================================================================
// Token claims
// ============================================================================

// TokenClaims reads the subject and expiry from a bearer token without
// verifying its signature. The server is the authority on validity;
// clients only need the claims for display and local expiry checks.
func TokenClaims(token string) (subject string, expiresAt time.Time, err error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	return subject, expiresAt, nil
}
