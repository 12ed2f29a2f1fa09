package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gowebio/webio/internal/config"
	"github.com/gowebio/webio/internal/event"
	"github.com/gowebio/webio/internal/server"
	"github.com/gowebio/webio/internal/session"
	"github.com/gowebio/webio/pkg/webio"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Addr: ":0"},
		Session: config.SessionConfig{
			Expiry:        time.Minute,
			SweepInterval: time.Minute,
			QueueSize:     100,
		},
		Poll: config.PollConfig{
			Interval: 50 * time.Millisecond,
			Timeout:  time.Second,
			PostWait: 50 * time.Millisecond,
		},
	}
}

func newTestServer(t *testing.T, apps map[string]session.Task) (*httptest.Server, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(0)
	srv := server.New(testConfig(), reg, apps, "index")
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, reg
}

func heightTask(io *webio.IO) {
	io.PutMarkdown("# Welcome")
	height, err := io.Input("height")
	if err != nil {
		return
	}
	io.PutMarkdown("your height is " + height)
}

func TestProbeReturnsSentinel(t *testing.T) {
	ts, _ := newTestServer(t, map[string]session.Task{"index": webio.TaskFunc(heightTask)})

	resp, err := http.Get(ts.URL + "/io?test=1")
	if err != nil {
		t.Fatalf("probe err: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("expected literal ok, got %q", string(body))
	}
}

// pollOnce performs one polling GET and decodes the response.
func pollOnce(t *testing.T, ts *httptest.Server, sid string, since uint64) (event.PollResponse, string) {
	t.Helper()
	url := ts.URL + "/io"
	if since > 0 {
		url += "?since=" + strconv.FormatUint(since, 10)
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if sid != "" {
		req.Header.Set(server.SessionHeader, sid)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("poll err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("poll status %d", resp.StatusCode)
	}

	var pr event.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		t.Fatalf("decode poll response: %v", err)
	}
	return pr, resp.Header.Get(server.SessionHeader)
}

// collectCommands polls until the predicate is satisfied, verifying
// the sequence invariant along the way.
func collectCommands(t *testing.T, ts *httptest.Server, sid string, stop func([]event.Command) bool) []event.Command {
	t.Helper()
	var cmds []event.Command
	var lastSeen uint64

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		pr, _ := pollOnce(t, ts, sid, lastSeen)
		for _, f := range pr.Events {
			if f.Seq <= lastSeen {
				continue // still buffered, already seen
			}
			if f.Seq != lastSeen+1 {
				t.Fatalf("sequence gap: got %d after %d", f.Seq, lastSeen)
			}
			lastSeen = f.Seq
			cmd, err := event.DecodeCommand(f)
			if err != nil {
				t.Fatalf("DecodeCommand err: %v", err)
			}
			cmds = append(cmds, cmd)
		}
		if stop(cmds) {
			return cmds
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("commands never satisfied predicate, got %d", len(cmds))
	return nil
}

func pushEvent(t *testing.T, ts *httptest.Server, sid string, ev event.ClientEvent, since uint64) *http.Response {
	t.Helper()
	frame, err := event.NewInputFrame(sid, ev)
	if err != nil {
		t.Fatalf("NewInputFrame err: %v", err)
	}
	body, _ := json.Marshal(event.PushRequest{Event: &frame, Since: since})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/io", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.SessionHeader, sid)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("push err: %v", err)
	}
	return resp
}

func TestPollingScenarioHeight(t *testing.T) {
	ts, _ := newTestServer(t, map[string]session.Task{"index": webio.TaskFunc(heightTask)})

	// First contact mints the session.
	pr, sid := pollOnce(t, ts, "", 0)
	if sid == "" {
		t.Fatal("expected a session id header on first contact")
	}
	_ = pr

	cmds := collectCommands(t, ts, sid, func(cmds []event.Command) bool {
		for _, c := range cmds {
			if _, ok := c.(event.InputRequest); ok {
				return true
			}
		}
		return false
	})

	req, ok := cmds[len(cmds)-1].(event.InputRequest)
	if !ok {
		t.Fatalf("expected trailing InputRequest, got %T", cmds[len(cmds)-1])
	}
	if len(req.Spec.Fields) != 1 || req.Spec.Fields[0].ID != "height" {
		t.Fatalf("unexpected form spec: %+v", req.Spec)
	}

	resp := pushEvent(t, ts, sid, event.Submit{Values: map[string]string{"height": "180"}}, 2)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("push status %d", resp.StatusCode)
	}

	var after event.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&after); err != nil {
		t.Fatalf("decode push response: %v", err)
	}

	foundEcho := false
	for _, f := range after.Events {
		cmd, err := event.DecodeCommand(f)
		if err != nil {
			t.Fatalf("DecodeCommand err: %v", err)
		}
		if md, ok := cmd.(event.Markdown); ok && md.Content == "your height is 180" {
			foundEcho = true
		}
	}
	if !foundEcho {
		t.Fatalf("task result missing from push response: %+v", after.Events)
	}
}

func TestPollUnknownSessionGetsCloseCommand(t *testing.T) {
	ts, _ := newTestServer(t, map[string]session.Task{"index": webio.TaskFunc(heightTask)})

	pr, _ := pollOnce(t, ts, "bogus-session", 0)
	if len(pr.Events) != 1 {
		t.Fatalf("expected a single close frame, got %d events", len(pr.Events))
	}
	cmd, err := event.DecodeCommand(pr.Events[0])
	if err != nil {
		t.Fatalf("DecodeCommand err: %v", err)
	}
	if _, ok := cmd.(event.CloseSession); !ok {
		t.Fatalf("expected CloseSession, got %T", cmd)
	}
}

func TestPushWithoutPendingInputConflicts(t *testing.T) {
	ts, reg := newTestServer(t, map[string]session.Task{
		"index": func(s *session.Session) {
			<-s.Done() // hold the session open without requesting input
		},
	})

	_, sid := pollOnce(t, ts, "", 0)

	resp := pushEvent(t, ts, sid, event.Submit{Values: map[string]string{"a": "b"}}, 0)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	s, err := reg.Get(sid)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if s.Status() != session.Running {
		t.Fatalf("rejected input changed session status to %s", s.Status())
	}
}

func TestPushToClosedSessionGone(t *testing.T) {
	ts, reg := newTestServer(t, map[string]session.Task{
		"index": func(*session.Session) {},
	})

	_, sid := pollOnce(t, ts, "", 0)

	s, err := reg.Get(sid)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	waitForStatus(t, s, session.Closed)

	resp := pushEvent(t, ts, sid, event.Submit{}, 0)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410, got %d", resp.StatusCode)
	}
}

func TestPushToUnknownSessionNotFound(t *testing.T) {
	ts, _ := newTestServer(t, map[string]session.Task{"index": webio.TaskFunc(heightTask)})

	resp := pushEvent(t, ts, "bogus", event.Submit{}, 0)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestUnknownAppRejected(t *testing.T) {
	ts, _ := newTestServer(t, map[string]session.Task{"index": webio.TaskFunc(heightTask)})

	resp, err := http.Get(ts.URL + "/io?app=nope")
	if err != nil {
		t.Fatalf("request err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func waitForStatus(t *testing.T, s *session.Session, want session.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %s (now %s)", want, s.Status())
}
