package event_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/gowebio/webio/internal/event"
)

func TestOutputFrameRoundTrip(t *testing.T) {
	frame, err := event.NewOutputFrame("sess-1", 7, event.Markdown{Content: "# hi"})
	if err != nil {
		t.Fatalf("NewOutputFrame err: %v", err)
	}
	if frame.Kind != event.KindOutput {
		t.Fatalf("unexpected kind: %s", frame.Kind)
	}
	if frame.Seq != 7 {
		t.Fatalf("unexpected seq: %d", frame.Seq)
	}

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	var decoded event.Frame
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}

	cmd, err := event.DecodeCommand(decoded)
	if err != nil {
		t.Fatalf("DecodeCommand err: %v", err)
	}
	md, ok := cmd.(event.Markdown)
	if !ok {
		t.Fatalf("unexpected command type %T", cmd)
	}
	if md.Content != "# hi" {
		t.Fatalf("unexpected content: %q", md.Content)
	}
}

func TestInputRequestCarriesFormSpec(t *testing.T) {
	spec := event.FormSpec{
		Fields: []event.FieldSpec{{ID: "height", Type: "number", Required: true}},
	}
	frame, err := event.NewOutputFrame("sess-1", 1, event.InputRequest{Spec: spec})
	if err != nil {
		t.Fatalf("NewOutputFrame err: %v", err)
	}

	cmd, err := event.DecodeCommand(frame)
	if err != nil {
		t.Fatalf("DecodeCommand err: %v", err)
	}
	req, ok := cmd.(event.InputRequest)
	if !ok {
		t.Fatalf("unexpected command type %T", cmd)
	}
	if len(req.Spec.Fields) != 1 || req.Spec.Fields[0].ID != "height" {
		t.Fatalf("form spec lost in transit: %+v", req.Spec)
	}
}

func TestClientEventRoundTrip(t *testing.T) {
	frame, err := event.NewInputFrame("sess-1", event.Submit{Values: map[string]string{"height": "180"}})
	if err != nil {
		t.Fatalf("NewInputFrame err: %v", err)
	}
	if frame.Kind != event.KindInput {
		t.Fatalf("unexpected kind: %s", frame.Kind)
	}
	if frame.Seq != 0 {
		t.Fatalf("input frames carry no sequence, got %d", frame.Seq)
	}

	ev, err := event.DecodeClientEvent(frame)
	if err != nil {
		t.Fatalf("DecodeClientEvent err: %v", err)
	}
	submit, ok := ev.(event.Submit)
	if !ok {
		t.Fatalf("unexpected event type %T", ev)
	}
	if submit.Values["height"] != "180" {
		t.Fatalf("unexpected values: %v", submit.Values)
	}
}

func TestDecodeUnknownPayload(t *testing.T) {
	frame := event.Frame{
		SessionID: "sess-1",
		Kind:      event.KindOutput,
		Payload:   json.RawMessage(`{"type":"no_such_command"}`),
	}
	if _, err := event.DecodeCommand(frame); !errors.Is(err, event.ErrUnknownPayload) {
		t.Fatalf("expected ErrUnknownPayload, got %v", err)
	}
}
