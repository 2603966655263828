package relaychat

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Transport interface
// ============================================================================

// MessageHandler receives the raw body of a frame delivered to a
// subscription.
type MessageHandler func(body []byte)

// Transport is the narrow surface the session consumes from the streaming
// layer: open a connection with a credential, subscribe a destination,
// publish to destinations, and tear down. Implementations must invoke the
// OnClose handler exactly once per unexpected connection loss.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Subscribe(destination string, h MessageHandler) error
	Publish(destination string, body []byte) error
	Connected() bool
	Deactivate() error
	OnClose(h func(err error))
}

// ============================================================================
// STOMP frame codec
// ============================================================================

type stompFrame struct {
	command string
	headers map[string]string
	body    []byte
}

// encode serializes a frame per STOMP 1.2: command line, header lines,
// blank line, body, NUL.
func (f *stompFrame) encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.command)
	buf.WriteByte('\n')
	for k, v := range f.headers {
		buf.WriteString(escapeHeader(k))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(v))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// parseStompFrame decodes a single frame. Heartbeat frames (bare EOL)
// decode to nil with no error.
func parseStompFrame(data []byte) (*stompFrame, error) {
	trimmed := bytes.TrimLeft(data, "\r\n")
	if len(trimmed) == 0 {
		return nil, nil // heartbeat
	}

	headerEnd := bytes.Index(trimmed, []byte("\n\n"))
	bodyStart := headerEnd + 2
	if crlf := bytes.Index(trimmed, []byte("\r\n\r\n")); crlf >= 0 && (headerEnd < 0 || crlf < headerEnd) {
		headerEnd = crlf
		bodyStart = crlf + 4
	}
	if headerEnd < 0 {
		return nil, fmt.Errorf("malformed frame: missing header terminator")
	}
	head := strings.ReplaceAll(string(trimmed[:headerEnd]), "\r", "")
	body := bytes.TrimRight(trimmed[bodyStart:], "\x00")

	lines := strings.Split(head, "\n")
	f := &stompFrame{
		command: lines[0],
		headers: make(map[string]string, len(lines)-1),
		body:    body,
	}
	if f.command == "" {
		return nil, fmt.Errorf("malformed frame: empty command")
	}
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed frame header %q", line)
		}
		key := unescapeHeader(k)
		// First occurrence wins when a header repeats.
		if _, exists := f.headers[key]; !exists {
			f.headers[key] = unescapeHeader(v)
		}
	}
	return f, nil
}

var headerEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, ":", `\c`, "\r", `\r`)
var headerUnescaper = strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\c`, ":", `\\`, `\`)

func escapeHeader(s string) string   { return headerEscaper.Replace(s) }
func unescapeHeader(s string) string { return headerUnescaper.Replace(s) }

// ============================================================================
// STOMP transport over websocket
// ============================================================================

// stompTransport speaks minimal STOMP 1.2 over a websocket: CONNECT with a
// bearer credential, SUBSCRIBE per destination, SEND for publishes, and a
// read loop that routes MESSAGE frames to subscription handlers.
type stompTransport struct {
	url string

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	intentional  bool
	cancelRead   context.CancelFunc
	subByID      map[string]MessageHandler
	idByDest     map[string]string
	closeHandler func(err error)
}

// NewSTOMPTransport creates a transport for the backend at baseURL.
// The websocket endpoint is baseURL's /ws path with the scheme switched
// to ws/wss.
func NewSTOMPTransport(baseURL string) Transport {
	wsURL := strings.Replace(baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	return &stompTransport{
		url:      strings.TrimRight(wsURL, "/") + "/ws",
		subByID:  make(map[string]MessageHandler),
		idByDest: make(map[string]string),
	}
}

// Connect dials the websocket and performs the STOMP handshake with the
// given bearer token. Subscriptions do not survive a reconnect; callers
// re-subscribe on the new connection.
func (t *stompTransport) Connect(ctx context.Context, token string) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.intentional = false
	t.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	connect := &stompFrame{
		command: "CONNECT",
		headers: map[string]string{
			"accept-version": "1.2",
			"heart-beat":     "0,0",
			"Authorization":  "Bearer " + token,
		},
	}
	if err := conn.Write(ctx, websocket.MessageText, connect.encode()); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("stomp connect: %w", err)
	}

	// The handshake completes when the server answers CONNECTED.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("read stomp handshake: %w", err)
		}
		f, err := parseStompFrame(data)
		if err != nil {
			conn.Close(websocket.StatusProtocolError, "")
			return fmt.Errorf("stomp handshake: %w", err)
		}
		if f == nil {
			continue
		}
		if f.command == "ERROR" {
			conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("stomp handshake refused: %s", f.headers["message"])
		}
		if f.command == "CONNECTED" {
			break
		}
	}

	readCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.cancelRead = cancel
	// Old subscriptions died with the old socket; callers re-subscribe
	// after each connect.
	t.subByID = make(map[string]MessageHandler)
	t.idByDest = make(map[string]string)
	t.mu.Unlock()

	go t.readLoop(readCtx, conn)
	return nil
}

// Subscribe registers a handler for a destination and, when connected,
// issues the SUBSCRIBE frame. Re-subscribing a destination replaces its
// handler.
func (t *stompTransport) Subscribe(destination string, h MessageHandler) error {
	t.mu.Lock()
	if oldID, ok := t.idByDest[destination]; ok {
		delete(t.subByID, oldID)
	}
	id := "sub-" + uuid.NewString()
	t.idByDest[destination] = id
	t.subByID[id] = h
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		return nil
	}
	return t.sendSubscribe(context.Background(), destination)
}

func (t *stompTransport) sendSubscribe(ctx context.Context, destination string) error {
	t.mu.Lock()
	conn := t.conn
	id := t.idByDest[destination]
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	sub := &stompFrame{
		command: "SUBSCRIBE",
		headers: map[string]string{
			"id":          id,
			"destination": destination,
			"ack":         "auto",
		},
	}
	if err := conn.Write(ctx, websocket.MessageText, sub.encode()); err != nil {
		return fmt.Errorf("stomp subscribe %s: %w", destination, err)
	}
	return nil
}

// Publish sends a SEND frame to the destination. Fails fast with
// ErrNotConnected when the connection is down; nothing is queued.
func (t *stompTransport) Publish(destination string, body []byte) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	send := &stompFrame{
		command: "SEND",
		headers: map[string]string{
			"destination":    destination,
			"content-type":   "application/json",
			"content-length": fmt.Sprintf("%d", len(body)),
			"receipt":        "rcpt-" + uuid.NewString(),
		},
		body: body,
	}
	if err := conn.Write(context.Background(), websocket.MessageText, send.encode()); err != nil {
		return fmt.Errorf("stomp send %s: %w", destination, err)
	}
	return nil
}

func (t *stompTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Deactivate tears the connection down intentionally: no close handler
// fires and no reconnect follows.
func (t *stompTransport) Deactivate() error {
	t.mu.Lock()
	t.intentional = true
	t.connected = false
	if t.cancelRead != nil {
		t.cancelRead()
		t.cancelRead = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	disconnect := &stompFrame{
		command: "DISCONNECT",
		headers: map[string]string{"receipt": "rcpt-" + uuid.NewString()},
	}
	// Best effort: the socket is closing either way.
	_ = conn.Write(context.Background(), websocket.MessageText, disconnect.encode())
	return conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

func (t *stompTransport) OnClose(h func(err error)) {
	t.mu.Lock()
	t.closeHandler = h
	t.mu.Unlock()
}

func (t *stompTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.handleReadError(err)
			return
		}

		f, err := parseStompFrame(data)
		if err != nil || f == nil {
			// Heartbeats and undecodable frames are skipped; payload
			// validation happens downstream in the event router.
			continue
		}

		switch f.command {
		case "MESSAGE":
			t.mu.Lock()
			h := t.subByID[f.headers["subscription"]]
			if h == nil {
				if id, ok := t.idByDest[f.headers["destination"]]; ok {
					h = t.subByID[id]
				}
			}
			t.mu.Unlock()
			if h != nil {
				h(f.body)
			}
		case "ERROR":
			t.handleReadError(fmt.Errorf("stomp error: %s", f.headers["message"]))
			conn.Close(websocket.StatusNormalClosure, "")
			return
		default:
			// RECEIPT and anything else needs no action.
		}
	}
}

func (t *stompTransport) handleReadError(err error) {
	t.mu.Lock()
	if t.intentional {
		t.mu.Unlock()
		return
	}
	t.connected = false
	t.conn = nil
	h := t.closeHandler
	t.mu.Unlock()

	if h != nil {
		h(err)
	}
}
