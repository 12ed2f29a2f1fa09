package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gowebio/webio/internal/event"
	"github.com/gowebio/webio/internal/session"
)

// handleIO serves GET /io: the capability probe, the WebSocket upgrade
// and the polling pull all share this path.
func (s *Server) handleIO(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("test") != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	s.handlePoll(w, r)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	var sess *session.Session

	sid := r.Header.Get(SessionHeader)
	if sid == "" {
		task, ok := s.lookupTask(r)
		if !ok {
			respondError(w, http.StatusNotFound, "unknown app")
			return
		}
		sess = session.Run(s.registry, task, debugFlag(r))
		w.Header().Set(SessionHeader, sess.ID())
		log.Printf("[io] new polling session %s", sess.ID())
	} else {
		var err error
		sess, err = s.registry.Get(sid)
		if err != nil {
			// The session is gone (expired or finished). Tell the
			// client to stop instead of erroring the poll loop.
			frame, _ := event.NewOutputFrame(sid, 0, event.CloseSession{Reason: "session not found"})
			respondJSON(w, http.StatusOK, event.PollResponse{Events: []event.Frame{frame}})
			return
		}
	}

	sess.Touch()
	events := sess.AckAndPending(sinceMarker(r))
	if sess.Status().Terminal() && len(events) == 0 {
		s.registry.Remove(sess.ID())
	}
	respondJSON(w, http.StatusOK, event.PollResponse{Events: events, Next: sess.NextSeq()})
}

// handlePush serves POST /io: one input event rides in the body and
// the response doubles as a poll so the task's reaction comes straight
// back.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req event.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event == nil {
		respondError(w, http.StatusBadRequest, "event is required")
		return
	}
	if req.Event.Kind != event.KindInput {
		respondError(w, http.StatusBadRequest, "event must be an input event")
		return
	}

	sid := r.Header.Get(SessionHeader)
	if sid == "" {
		sid = req.Event.SessionID
	}
	if sid == "" {
		respondError(w, http.StatusBadRequest, "session id is required")
		return
	}

	sess, err := s.registry.Get(sid)
	if err != nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	ev, err := event.DecodeClientEvent(*req.Event)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := sess.Deliver(ev); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionClosed):
			respondError(w, http.StatusGone, err.Error())
		case errors.Is(err, session.ErrNoPendingInput),
			errors.Is(err, session.ErrDuplicateInput),
			errors.Is(err, session.ErrUnknownCallback):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	// Give the unblocked task a moment to produce its next command so
	// it rides back on this response instead of the next poll.
	if s.cfg.Poll.PostWait > 0 {
		time.Sleep(s.cfg.Poll.PostWait)
	}

	events := sess.AckAndPending(req.Since)
	respondJSON(w, http.StatusOK, event.PollResponse{Events: events, Next: sess.NextSeq()})
}

func sinceMarker(r *http.Request) uint64 {
	v := r.URL.Query().Get("since")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[io] failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
