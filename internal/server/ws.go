package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/gowebio/webio/internal/event"
	"github.com/gowebio/webio/internal/session"
)

const sendBufferSize = 64

// wsConn pairs one WebSocket connection with exactly one session for
// the connection's whole lifetime.
type wsConn struct {
	conn *websocket.Conn
	sess *session.Session
	send chan []byte

	done        chan struct{}
	doneOnce    sync.Once
	fromSession atomic.Bool // session ended first; don't treat the close as a transport failure
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	task, ok := s.lookupTask(r)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown app")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin, r.Host)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	sess := session.Run(s.registry, task, debugFlag(r))
	log.Printf("[ws] new session %s from %s", sess.ID(), r.RemoteAddr)

	c := &wsConn{
		conn: conn,
		sess: sess,
		send: make(chan []byte, sendBufferSize),
	}
	c.done = make(chan struct{})

	go c.writePump()
	go s.pushLoop(c)
	s.readLoop(c)
}

// pushLoop forwards output frames to the connection as soon as the
// session produces them. When the session ends it flushes whatever is
// still queued and then closes the socket from the server side.
func (s *Server) pushLoop(c *wsConn) {
	for {
		frames, err := c.sess.WaitCommands(context.Background())
		for _, f := range frames {
			data, merr := json.Marshal(f)
			if merr != nil {
				log.Printf("[ws] marshal frame: %v", merr)
				continue
			}
			select {
			case c.send <- data:
			case <-c.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, session.ErrSessionClosed) {
				log.Printf("[ws] session %s wait: %v", c.sess.ID(), err)
			}
			c.fromSession.Store(true)
			close(c.send)
			return
		}
	}
}

func (c *wsConn) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.conn.Close()
			return
		}
	}
	// send was closed by pushLoop: the session ended, so say goodbye.
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.sess.CloseReason()))
	c.conn.Close()
}

// readLoop applies inbound input events until the connection drops.
// Losing the connection while the session is still running errors the
// session; a close initiated by the session itself does not.
func (s *Server) readLoop(c *wsConn) {
	defer func() {
		c.doneOnce.Do(func() { close(c.done) })
		if !c.fromSession.Load() && !c.sess.Status().Terminal() {
			log.Printf("[ws] connection lost, session %s errored", c.sess.ID())
			c.sess.Fail("connection lost")
		}
		s.registry.Remove(c.sess.ID())
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame event.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[ws] session %s: bad frame: %v", c.sess.ID(), err)
			continue
		}
		if frame.Kind != event.KindInput {
			log.Printf("[ws] session %s: unexpected %s frame from client", c.sess.ID(), frame.Kind)
			continue
		}
		ev, err := event.DecodeClientEvent(frame)
		if err != nil {
			log.Printf("[ws] session %s: %v", c.sess.ID(), err)
			continue
		}
		if err := c.sess.Deliver(ev); err != nil {
			// Protocol violations drop the event, not the session.
			log.Printf("[ws] session %s: drop input event: %v", c.sess.ID(), err)
		}
	}
}
