// Package client implements the remote side of the bridge: the
// backend capability probe, the two transports behind one contract,
// and the controller that turns output frames into rendered UI.
package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gowebio/webio/internal/event"
)

// ErrConnection marks transport establishment or delivery failures.
var ErrConnection = errors.New("connection failed")

// Transport moves events between this client and a server session.
// Both implementations share it; the choice is made once at startup
// and never revisited.
type Transport interface {
	// StartSession establishes delivery and returns once the session
	// is ready to exchange events.
	StartSession(debug bool) error
	// SendInput delivers one input event to the server.
	SendInput(ev event.ClientEvent) error
	// OnOutput registers the handler invoked once per output frame, in
	// sequence order, never concurrently. Must be called before
	// StartSession.
	OnOutput(fn func(event.Frame))
	// Close releases transport resources. Idempotent.
	Close() error
}

// Kind names a transport implementation.
type Kind int

const (
	KindWebSocket Kind = iota
	KindPolling
)

func (k Kind) String() string {
	if k == KindPolling {
		return "polling"
	}
	return "websocket"
}

// probeSentinel is the exact body a request/response-capable backend
// answers the probe with.
const probeSentinel = "ok"

// SelectBackend issues the single capability probe against base and
// picks the transport kind. Anything other than the literal sentinel
// body, including transport errors, fails closed to the
// persistent-channel transport. Callers must not re-evaluate.
func SelectBackend(hc *http.Client, base string) Kind {
	if hc == nil {
		hc = http.DefaultClient
	}
	u, err := url.Parse(base)
	if err != nil {
		return KindWebSocket
	}
	q := u.Query()
	q.Set("test", "1")
	u.RawQuery = q.Encode()

	resp, err := hc.Get(u.String())
	if err != nil {
		return KindWebSocket
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil || resp.StatusCode != http.StatusOK {
		return KindWebSocket
	}
	if string(body) != probeSentinel {
		return KindWebSocket
	}
	return KindPolling
}

// ResolveAPI extracts the backend address from a page URL: the
// pywebio_api query parameter (default "./io") resolved against the
// page, plus the debug flag.
func ResolveAPI(pageURL string) (api string, debug bool, err error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return "", false, fmt.Errorf("parse page url: %w", err)
	}

	ref := page.Query().Get("pywebio_api")
	if ref == "" {
		ref = "./io"
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", false, fmt.Errorf("parse api reference: %w", err)
	}

	resolved := page.ResolveReference(refURL)
	resolved.RawQuery = ""
	resolved.Fragment = ""

	d := page.Query().Get("debug")
	debug = d != "" && d != "0"
	return resolved.String(), debug, nil
}
