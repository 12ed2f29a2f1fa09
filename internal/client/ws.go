package client

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gowebio/webio/internal/event"
)

const wsWriteTimeout = 10 * time.Second

// WSTransport is the persistent-channel transport: one long-lived
// socket bound to one session, events pushed immediately both ways.
type WSTransport struct {
	url    string
	dialer *websocket.Dialer
	inbox  *inbox

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	sessionID string

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWSTransport targets the io endpoint at apiURL (http/https schemes
// are rewritten to ws/wss).
func NewWSTransport(apiURL string) (*WSTransport, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return &WSTransport{
		url:    u.String(),
		dialer: websocket.DefaultDialer,
		inbox:  newInbox(),
		closed: make(chan struct{}),
	}, nil
}

// OnOutput registers the frame handler. Must precede StartSession.
func (t *WSTransport) OnOutput(fn func(event.Frame)) {
	t.inbox.setHandler(fn)
}

// StartSession dials the endpoint. The server creates the session on
// open; the id is learned from the first output frame.
func (t *WSTransport) StartSession(debug bool) error {
	dialURL := t.url
	if debug {
		u, err := url.Parse(t.url)
		if err != nil {
			return fmt.Errorf("parse api url: %w", err)
		}
		q := u.Query()
		q.Set("debug", "1")
		u.RawQuery = q.Encode()
		dialURL = u.String()
	}
	conn, _, err := t.dialer.Dial(dialURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, t.url, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
				// Closed locally; not a failure.
			default:
				log.Printf("[client] websocket read: %v", err)
				t.synthesizeClose("connection lost")
			}
			return
		}

		var frame event.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[client] bad frame: %v", err)
			continue
		}

		t.mu.Lock()
		if t.sessionID == "" {
			t.sessionID = frame.SessionID
		}
		t.mu.Unlock()

		t.inbox.accept(frame)
	}
}

// synthesizeClose surfaces a transport failure to the controller as a
// close frame so the terminal path is the same for every cause.
func (t *WSTransport) synthesizeClose(reason string) {
	t.mu.Lock()
	sid := t.sessionID
	t.mu.Unlock()
	frame, err := event.NewOutputFrame(sid, 0, event.CloseSession{Reason: reason})
	if err != nil {
		return
	}
	t.inbox.accept(frame)
}

// SendInput pushes one input event over the socket.
func (t *WSTransport) SendInput(ev event.ClientEvent) error {
	t.mu.Lock()
	conn := t.conn
	sid := t.sessionID
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", ErrConnection)
	}

	frame, err := event.NewInputFrame(sid, ev)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// SessionID returns the session id once known.
func (t *WSTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Close shuts the socket down. Idempotent.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			t.writeMu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			t.writeMu.Unlock()
			conn.Close()
		}
	})
	return nil
}
