package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gowebio/webio/internal/event"
)

// Expiry defaults match the protocol's original deployment values: a
// session with no activity for a minute is considered abandoned, and
// the sweep runs a few times per expiry window.
const (
	DefaultExpiry        = 60 * time.Second
	DefaultSweepInterval = 20 * time.Second
)

// Registry is the process-wide owner of sessions. Lookups take the
// registry lock only long enough to resolve the id; all per-session
// work happens on the session's own lock, so independent sessions do
// not contend.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	queueSize int
}

// NewRegistry creates a registry whose sessions carry bounded outbound
// queues of queueSize frames (0 selects the default).
func NewRegistry(queueSize int) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		queueSize: queueSize,
	}
}

// Create mints a session with a fresh unique id.
func (r *Registry) Create(debug bool) *Session {
	s := newSession(r.queueSize, debug)
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	return s
}

// Get resolves a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// SubmitInput delivers one client event to the named session.
func (r *Registry) SubmitInput(id string, ev event.ClientEvent) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Deliver(ev)
}

// EnqueueOutput appends a command to the named session's queue.
func (r *Registry) EnqueueOutput(id string, cmd event.Command) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Enqueue(cmd)
}

// Remove drops the session from the registry without closing it;
// callers close first.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// ActiveCount reports sessions that are not yet terminal.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if !s.Status().Terminal() {
			count++
		}
	}
	return count
}

// EvictIdle closes sessions whose last activity is older than
// threshold and returns how many it closed. Closed sessions stay
// registered until a later sweep so a straggling submit still gets a
// closed error instead of not-found; idle sessions already terminal
// are dropped for good.
func (r *Registry) EvictIdle(threshold time.Duration) int {
	cutoff := time.Now().Add(-threshold)

	r.mu.Lock()
	var victims []*Session
	for id, s := range r.sessions {
		if !s.LastActivity().Before(cutoff) {
			continue
		}
		if s.Status().Terminal() {
			delete(r.sessions, id)
			continue
		}
		victims = append(victims, s)
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.Close("session expired")
	}
	return len(victims)
}

// StartSweeper runs EvictIdle on a ticker until ctx is cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval, expiry time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.EvictIdle(expiry); n > 0 {
					log.Printf("[session] evicted %d idle session(s)", n)
				}
			}
		}
	}()
}
