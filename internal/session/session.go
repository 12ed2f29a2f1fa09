package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gowebio/webio/internal/event"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrNoPendingInput  = errors.New("no pending input request")
	ErrPendingInput    = errors.New("input request already pending")
	ErrDuplicateInput  = errors.New("duplicate input submission")
	ErrQueueFull       = errors.New("outbound queue full")
	ErrUnknownCallback = errors.New("unknown callback id")
)

// Queue sizes mirror the limits the protocol was designed around: the
// producer blocks (or fails fast) rather than growing without bound.
const (
	DefaultQueueSize    = 1000
	defaultCallbackSize = 100
)

// Status describes where a session is in its lifecycle.
type Status int

const (
	Running Status = iota
	AwaitingInput
	Closed
	Errored
)

var statusNames = map[Status]string{
	Running:       "running",
	AwaitingInput: "awaiting_input",
	Closed:        "closed",
	Errored:       "errored",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return nil
}

// Terminal reports whether the session can no longer exchange events.
func (s Status) Terminal() bool {
	return s == Closed || s == Errored
}

// Session is the server-side state for one running task: an ordered
// outbound command queue and a single-slot rendezvous for the next
// expected input event. Transports hold sessions only by id through
// the Registry; the Registry owns the object.
type Session struct {
	id    string
	debug bool

	mu           sync.Mutex
	status       Status
	queue        []event.Frame
	maxQueue     int
	nextSeq      uint64
	notify       chan struct{}
	inputCh      chan event.ClientEvent
	lastActivity time.Time
	closeReason  string

	closeOnce sync.Once
	closed    chan struct{}

	callbackOnce sync.Once
	callbackCh   chan event.Callback
	callbacks    map[string]func(json.RawMessage)
}

func newSession(maxQueue int, debug bool) *Session {
	if maxQueue <= 0 {
		maxQueue = DefaultQueueSize
	}
	return &Session{
		id:           uuid.NewString(),
		debug:        debug,
		maxQueue:     maxQueue,
		notify:       make(chan struct{}, 1),
		closed:       make(chan struct{}),
		lastActivity: time.Now(),
		callbacks:    make(map[string]func(json.RawMessage)),
	}
}

func (s *Session) ID() string { return s.id }

// Debug reports whether the client requested verbose diagnostics at
// session start.
func (s *Session) Debug() bool { return s.debug }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastActivity returns the time of the last enqueue, delivery or poll.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch marks the session active. Transports call it on every poll so
// a quiet-but-connected client is not mistaken for an abandoned one.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// NextSeq returns the sequence number the next output frame will get.
func (s *Session) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq + 1
}

// Enqueue appends a command to the outbound queue, assigning the next
// sequence number. It fails with ErrSessionClosed once the session is
// terminal and ErrQueueFull when the bounded queue would overflow.
func (s *Session) Enqueue(cmd event.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(cmd)
}

func (s *Session) enqueueLocked(cmd event.Command) error {
	if s.status.Terminal() {
		return ErrSessionClosed
	}
	if len(s.queue) >= s.maxQueue {
		return ErrQueueFull
	}
	frame, err := event.NewOutputFrame(s.id, s.nextSeq+1, cmd)
	if err != nil {
		return err
	}
	s.nextSeq++
	s.queue = append(s.queue, frame)
	s.lastActivity = time.Now()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// DrainCommands removes and returns every buffered output frame. The
// polling path calls this once per poll.
func (s *Session) DrainCommands() []event.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// AckAndPending drops frames the client has acknowledged (Seq <=
// since) and returns a copy of what remains buffered. The polling
// transport uses this so frames survive a lost poll response and are
// re-delivered on the next cycle.
func (s *Session) AckAndPending(since uint64) []event.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := s.queue[:0]
	for _, f := range s.queue {
		if f.Seq > since {
			keep = append(keep, f)
		}
	}
	s.queue = keep
	out := make([]event.Frame, len(s.queue))
	copy(out, s.queue)
	return out
}

// WaitCommands blocks until at least one output frame is buffered,
// then drains the queue. After close it first delivers whatever is
// still buffered and only then reports ErrSessionClosed, so no frame
// produced before the close is lost.
func (s *Session) WaitCommands(ctx context.Context) ([]event.Frame, error) {
	for {
		if out := s.DrainCommands(); len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			if out := s.DrainCommands(); len(out) > 0 {
				return out, nil
			}
			return nil, ErrSessionClosed
		case <-s.notify:
		}
	}
}

// RequestInput enqueues an input-request command and blocks until the
// client answers, the session closes, or ctx expires. A session has at
// most one live input request; a concurrent second call fails with
// ErrPendingInput.
func (s *Session) RequestInput(ctx context.Context, spec event.FormSpec) (event.ClientEvent, error) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.inputCh != nil {
		s.mu.Unlock()
		return nil, ErrPendingInput
	}
	if err := s.enqueueLocked(event.InputRequest{Spec: spec}); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ch := make(chan event.ClientEvent, 1)
	s.inputCh = ch
	s.status = AwaitingInput
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inputCh = nil
		if s.status == AwaitingInput {
			s.status = Running
		}
		s.mu.Unlock()
	}()

	select {
	case ev := <-ch:
		return ev, nil
	case <-s.closed:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deliver routes one client event into the session: submissions and
// cancels resolve the pending input request, callback events go to the
// registered callback. Fails with ErrNoPendingInput when nothing is
// waiting and ErrDuplicateInput when the pending slot was already
// answered.
func (s *Session) Deliver(ev event.ClientEvent) error {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.lastActivity = time.Now()

	if cb, ok := ev.(event.Callback); ok {
		if _, known := s.callbacks[cb.CallbackID]; !known {
			s.mu.Unlock()
			return ErrUnknownCallback
		}
		ch := s.callbackCh
		s.mu.Unlock()
		select {
		case ch <- cb:
			return nil
		default:
			return ErrQueueFull
		}
	}

	ch := s.inputCh
	s.mu.Unlock()
	if ch == nil {
		return ErrNoPendingInput
	}
	select {
	case ch <- ev:
		return nil
	default:
		return ErrDuplicateInput
	}
}

// RegisterCallback registers fn and returns its callback id. Callback
// events are dispatched serially on a dedicated goroutine that lives
// until the session closes.
func (s *Session) RegisterCallback(fn func(json.RawMessage)) string {
	s.callbackOnce.Do(func() {
		s.mu.Lock()
		s.callbackCh = make(chan event.Callback, defaultCallbackSize)
		s.mu.Unlock()
		go s.dispatchCallbacks()
	})

	id := "cb-" + uuid.NewString()
	s.mu.Lock()
	s.callbacks[id] = fn
	s.mu.Unlock()
	return id
}

func (s *Session) dispatchCallbacks() {
	for {
		select {
		case <-s.closed:
			return
		case cb := <-s.callbackCh:
			s.mu.Lock()
			fn := s.callbacks[cb.CallbackID]
			s.mu.Unlock()
			if fn == nil {
				log.Printf("[session] no callback for id %s", cb.CallbackID)
				continue
			}
			fn(cb.Data)
		}
	}
}

// Close transitions the session to closed. Idempotent; buffered output
// frames remain drainable so transports can flush them before tearing
// down the connection.
func (s *Session) Close(reason string) {
	s.terminate(Closed, reason)
}

// Fail transitions the session to errored on an unrecoverable
// transport or task failure.
func (s *Session) Fail(reason string) {
	s.terminate(Errored, reason)
}

func (s *Session) terminate(status Status, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.status = status
		s.closeReason = reason
		s.mu.Unlock()
		close(s.closed)
	})
}

// CloseReason returns the reason recorded by Close or Fail.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Done exposes the close signal for select loops.
func (s *Session) Done() <-chan struct{} { return s.closed }
