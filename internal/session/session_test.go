package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gowebio/webio/internal/event"
	"github.com/gowebio/webio/internal/session"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	return session.NewRegistry(0).Create(false)
}

func TestEnqueueAssignsIncreasingSequence(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < 3; i++ {
		if err := s.Enqueue(event.Markdown{Content: "x"}); err != nil {
			t.Fatalf("Enqueue err: %v", err)
		}
	}

	frames := s.DrainCommands()
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Seq != uint64(i+1) {
			t.Fatalf("frame %d has seq %d", i, f.Seq)
		}
		if f.SessionID != s.ID() {
			t.Fatalf("frame carries wrong session id %q", f.SessionID)
		}
	}
}

func TestRequestInputResumedBySubmit(t *testing.T) {
	s := newTestSession(t)

	type result struct {
		ev  event.ClientEvent
		err error
	}
	done := make(chan result, 1)
	go func() {
		ev, err := s.RequestInput(context.Background(), event.FormSpec{
			Fields: []event.FieldSpec{{ID: "height"}},
		})
		done <- result{ev, err}
	}()

	waitFor(t, func() bool { return s.Status() == session.AwaitingInput })

	if err := s.Deliver(event.Submit{Values: map[string]string{"height": "180"}}); err != nil {
		t.Fatalf("Deliver err: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("RequestInput err: %v", res.err)
	}
	submit, ok := res.ev.(event.Submit)
	if !ok {
		t.Fatalf("unexpected event type %T", res.ev)
	}
	if submit.Values["height"] != "180" {
		t.Fatalf("unexpected values: %v", submit.Values)
	}
	if s.Status() != session.Running {
		t.Fatalf("expected running after resume, got %s", s.Status())
	}
}

func TestSecondConcurrentInputRequestRejected(t *testing.T) {
	s := newTestSession(t)

	go s.RequestInput(context.Background(), event.FormSpec{})
	waitFor(t, func() bool { return s.Status() == session.AwaitingInput })

	if _, err := s.RequestInput(context.Background(), event.FormSpec{}); !errors.Is(err, session.ErrPendingInput) {
		t.Fatalf("expected ErrPendingInput, got %v", err)
	}
}

func TestDeliverWithoutPendingRequest(t *testing.T) {
	s := newTestSession(t)
	s.Enqueue(event.Markdown{Content: "x"})

	err := s.Deliver(event.Submit{Values: map[string]string{"a": "b"}})
	if !errors.Is(err, session.ErrNoPendingInput) {
		t.Fatalf("expected ErrNoPendingInput, got %v", err)
	}

	// The rejected event must leave the outbound queue untouched.
	if frames := s.DrainCommands(); len(frames) != 1 {
		t.Fatalf("queue changed by rejected input: %d frames", len(frames))
	}
}

func TestCloseInterruptsBlockedInput(t *testing.T) {
	s := newTestSession(t)

	done := make(chan error, 1)
	go func() {
		_, err := s.RequestInput(context.Background(), event.FormSpec{})
		done <- err
	}()
	waitFor(t, func() bool { return s.Status() == session.AwaitingInput })

	s.Close("test close")

	select {
	case err := <-done:
		if !errors.Is(err, session.ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked input call not interrupted by close")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	s := newTestSession(t)
	s.Close("done")
	if err := s.Enqueue(event.Markdown{Content: "x"}); !errors.Is(err, session.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestBoundedQueueRejectsOverflow(t *testing.T) {
	s := session.NewRegistry(2).Create(false)
	if err := s.Enqueue(event.Markdown{Content: "1"}); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	if err := s.Enqueue(event.Markdown{Content: "2"}); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	if err := s.Enqueue(event.Markdown{Content: "3"}); !errors.Is(err, session.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestWaitCommandsFlushesBeforeClose(t *testing.T) {
	s := newTestSession(t)
	s.Enqueue(event.Markdown{Content: "pending"})
	s.Close("done")

	frames, err := s.WaitCommands(context.Background())
	if err != nil {
		t.Fatalf("expected buffered frames before close error, got %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	if _, err := s.WaitCommands(context.Background()); !errors.Is(err, session.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after flush, got %v", err)
	}
}

func TestAckAndPendingRedelivers(t *testing.T) {
	s := newTestSession(t)
	s.Enqueue(event.Markdown{Content: "1"})
	s.Enqueue(event.Markdown{Content: "2"})

	// Nothing acknowledged: both frames stay buffered for re-delivery.
	if got := s.AckAndPending(0); len(got) != 2 {
		t.Fatalf("expected 2 pending frames, got %d", len(got))
	}
	if got := s.AckAndPending(0); len(got) != 2 {
		t.Fatalf("expected re-delivery of 2 frames, got %d", len(got))
	}

	// Acknowledging the first drops it.
	got := s.AckAndPending(1)
	if len(got) != 1 || got[0].Seq != 2 {
		t.Fatalf("expected only seq 2 pending, got %+v", got)
	}
}

func TestCallbackDispatch(t *testing.T) {
	s := newTestSession(t)

	got := make(chan string, 1)
	id := s.RegisterCallback(func(data json.RawMessage) {
		got <- string(data)
	})

	if err := s.Deliver(event.Callback{CallbackID: id, Data: json.RawMessage(`"clicked"`)}); err != nil {
		t.Fatalf("Deliver err: %v", err)
	}

	select {
	case data := <-got:
		if data != `"clicked"` {
			t.Fatalf("unexpected callback data: %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback not dispatched")
	}
}

func TestUnknownCallbackRejected(t *testing.T) {
	s := newTestSession(t)
	s.RegisterCallback(func(json.RawMessage) {})

	err := s.Deliver(event.Callback{CallbackID: "cb-bogus"})
	if !errors.Is(err, session.ErrUnknownCallback) {
		t.Fatalf("expected ErrUnknownCallback, got %v", err)
	}
}
