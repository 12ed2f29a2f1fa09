package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gowebio/webio/internal/event"
)

// Poll defaults: the interval governs quiet-time pulls, the timeout is
// per request (a slow poll is not client abandonment), and a short run
// of consecutive failures is tolerated before giving up.
const (
	DefaultPollInterval = time.Second
	DefaultPollTimeout  = 10 * time.Second
	DefaultMaxFailures  = 3
)

// sessionHeader matches the server's polling session header.
const sessionHeader = "webio-session-id"

// PollOptions tunes the polling transport; zero values select the
// defaults.
type PollOptions struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
}

// PollTransport is the stateless request/response transport: periodic
// pulls for buffered output, input events carried as the body of an
// immediate out-of-cycle request.
type PollTransport struct {
	api   string
	hc    *http.Client
	inbox *inbox

	interval    time.Duration
	maxFailures int

	mu        sync.Mutex
	sessionID string
	failures  int
	debug     bool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPollTransport targets the io endpoint at apiURL.
func NewPollTransport(apiURL string, opts PollOptions) *PollTransport {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPollTimeout
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	return &PollTransport{
		api:         apiURL,
		hc:          &http.Client{Timeout: opts.Timeout},
		inbox:       newInbox(),
		interval:    opts.Interval,
		maxFailures: opts.MaxFailures,
		closed:      make(chan struct{}),
	}
}

// OnOutput registers the frame handler. Must precede StartSession.
func (t *PollTransport) OnOutput(fn func(event.Frame)) {
	t.inbox.setHandler(fn)
}

// StartSession performs the first poll, which makes the server mint
// the session, then starts the poll loop.
func (t *PollTransport) StartSession(debug bool) error {
	t.mu.Lock()
	t.debug = debug
	t.mu.Unlock()

	if err := t.poll(); err != nil {
		return fmt.Errorf("%w: initial poll: %v", ErrConnection, err)
	}
	go t.loop()
	return nil
}

func (t *PollTransport) loop() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			if err := t.poll(); err != nil {
				if t.recordFailure(err) {
					return
				}
			}
		}
	}
}

// recordFailure counts consecutive poll failures and fails closed once
// the bound is hit. Returns true when the transport gave up.
func (t *PollTransport) recordFailure(err error) bool {
	t.mu.Lock()
	t.failures++
	failures := t.failures
	sid := t.sessionID
	t.mu.Unlock()

	log.Printf("[client] poll failure %d/%d: %v", failures, t.maxFailures, err)
	if failures < t.maxFailures {
		return false
	}

	frame, ferr := event.NewOutputFrame(sid, 0, event.CloseSession{Reason: "connection lost"})
	if ferr == nil {
		t.inbox.accept(frame)
	}
	t.Close()
	return true
}

func (t *PollTransport) poll() error {
	req, err := http.NewRequest(http.MethodGet, t.pollURL(), nil)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set(sessionHeader, t.sessionID)
	}
	t.mu.Unlock()

	resp, err := t.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
	}

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	var pr event.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return fmt.Errorf("decode poll response: %w", err)
	}

	t.mu.Lock()
	t.failures = 0
	t.mu.Unlock()

	t.inbox.accept(pr.Events...)
	return nil
}

// pollURL merges the poll parameters into the api address, preserving
// any query it already carries (such as the app selector).
func (t *PollTransport) pollURL() string {
	u, err := url.Parse(t.api)
	if err != nil {
		return t.api
	}
	q := u.Query()
	q.Set("since", strconv.FormatUint(t.inbox.since(), 10))
	t.mu.Lock()
	if t.debug && t.sessionID == "" {
		q.Set("debug", "1")
	}
	t.mu.Unlock()
	u.RawQuery = q.Encode()
	return u.String()
}

// SendInput delivers the event as the body of an immediate request
// instead of waiting for the next scheduled poll. The response is a
// full poll response, so the task's reaction arrives on the same
// round trip.
func (t *PollTransport) SendInput(ev event.ClientEvent) error {
	t.mu.Lock()
	sid := t.sessionID
	t.mu.Unlock()
	if sid == "" {
		return fmt.Errorf("%w: session not started", ErrConnection)
	}

	frame, err := event.NewInputFrame(sid, ev)
	if err != nil {
		return err
	}
	body, err := json.Marshal(event.PushRequest{Event: &frame, Since: t.inbox.since()})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, t.api, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, sid)

	resp, err := t.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push: unexpected status %d", resp.StatusCode)
	}

	var pr event.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return fmt.Errorf("decode push response: %w", err)
	}
	t.inbox.accept(pr.Events...)
	return nil
}

// SessionID returns the session id once known.
func (t *PollTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Close stops the poll loop. Idempotent.
func (t *PollTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
