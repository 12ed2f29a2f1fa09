package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies the direction of a frame.
const (
	KindOutput = "output"
	KindInput  = "input"
)

var ErrUnknownPayload = errors.New("unknown payload type")

// Frame is the transport-agnostic envelope every message travels in.
// Output frames carry a per-session sequence number assigned by the
// server; input frames carry Seq 0 and are applied in arrival order.
type Frame struct {
	SessionID string          `json:"sessionId"`
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// Command is a server-to-client render or control instruction.
type Command interface {
	command() string
}

const (
	CmdMarkdown     = "markdown"
	CmdInputRequest = "input_request"
	CmdButtons      = "buttons"
	CmdClear        = "clear"
	CmdCloseSession = "close_session"
	CmdScriptError  = "script_error"
)

// Markdown renders a block of markdown text.
type Markdown struct {
	Content string `json:"content"`
}

// InputRequest asks the client to render a form and collect values.
type InputRequest struct {
	Spec FormSpec `json:"spec"`
}

// Buttons renders clickable buttons wired to server-side callbacks.
// Unlike an input request, buttons do not block the task and do not
// occupy the session's pending-input slot.
type Buttons struct {
	Buttons []ButtonSpec `json:"buttons"`
}

// ButtonSpec is one clickable button.
type ButtonSpec struct {
	Label      string `json:"label"`
	CallbackID string `json:"callbackId"`
}

// Clear wipes a named output region (empty string clears everything).
type Clear struct {
	Region string `json:"region,omitempty"`
}

// CloseSession ends the session on the client side.
type CloseSession struct {
	Reason string `json:"reason,omitempty"`
}

// ScriptError reports a failure inside the running task so the client
// can render it before the session transitions to errored.
type ScriptError struct {
	Message string `json:"message"`
}

func (Markdown) command() string     { return CmdMarkdown }
func (InputRequest) command() string { return CmdInputRequest }
func (Buttons) command() string      { return CmdButtons }
func (Clear) command() string        { return CmdClear }
func (CloseSession) command() string { return CmdCloseSession }
func (ScriptError) command() string  { return CmdScriptError }

// FormSpec describes an input form. Validation rules travel with the
// spec so the client can reject bad submissions without a round trip.
type FormSpec struct {
	Label  string      `json:"label,omitempty"`
	Fields []FieldSpec `json:"fields"`
}

// FieldSpec describes one input field inside a form.
type FieldSpec struct {
	ID          string   `json:"id"`
	Label       string   `json:"label,omitempty"`
	Type        string   `json:"type,omitempty"` // text, number, password, select, button
	Required    bool     `json:"required,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	MinLength   int      `json:"minLength,omitempty"`
	MaxLength   int      `json:"maxLength,omitempty"`
	Options     []string `json:"options,omitempty"`
	CallbackID  string   `json:"callbackId,omitempty"`
}

// ClientEvent is a client-to-server value or control signal.
type ClientEvent interface {
	clientEvent() string
}

const (
	EvSubmit   = "submit"
	EvCancel   = "cancel"
	EvCallback = "callback"
)

// Submit delivers form values keyed by field id.
type Submit struct {
	Values map[string]string `json:"values"`
}

// Cancel aborts the pending input request.
type Cancel struct{}

// Callback fires a registered server-side callback.
type Callback struct {
	CallbackID string          `json:"callbackId"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func (Submit) clientEvent() string   { return EvSubmit }
func (Cancel) clientEvent() string   { return EvCancel }
func (Callback) clientEvent() string { return EvCallback }

// tagged wraps a payload with its discriminator for the wire.
type tagged struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewOutputFrame packs a command into an output frame.
func NewOutputFrame(sessionID string, seq uint64, cmd Command) (Frame, error) {
	payload, err := encodeTagged(cmd.command(), cmd)
	if err != nil {
		return Frame{}, err
	}
	return Frame{SessionID: sessionID, Seq: seq, Kind: KindOutput, Payload: payload}, nil
}

// NewInputFrame packs a client event into an input frame.
func NewInputFrame(sessionID string, ev ClientEvent) (Frame, error) {
	payload, err := encodeTagged(ev.clientEvent(), ev)
	if err != nil {
		return Frame{}, err
	}
	return Frame{SessionID: sessionID, Kind: KindInput, Payload: payload}, nil
}

func encodeTagged(tag string, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", tag, err)
	}
	return json.Marshal(tagged{Type: tag, Data: data})
}

// DecodeCommand unpacks the command carried by an output frame.
func DecodeCommand(f Frame) (Command, error) {
	var t tagged
	if err := json.Unmarshal(f.Payload, &t); err != nil {
		return nil, fmt.Errorf("decode output payload: %w", err)
	}
	var cmd Command
	switch t.Type {
	case CmdMarkdown:
		cmd = &Markdown{}
	case CmdInputRequest:
		cmd = &InputRequest{}
	case CmdButtons:
		cmd = &Buttons{}
	case CmdClear:
		cmd = &Clear{}
	case CmdCloseSession:
		cmd = &CloseSession{}
	case CmdScriptError:
		cmd = &ScriptError{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, t.Type)
	}
	if len(t.Data) > 0 {
		if err := json.Unmarshal(t.Data, cmd); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
	}
	return deref(cmd), nil
}

// DecodeClientEvent unpacks the event carried by an input frame.
func DecodeClientEvent(f Frame) (ClientEvent, error) {
	var t tagged
	if err := json.Unmarshal(f.Payload, &t); err != nil {
		return nil, fmt.Errorf("decode input payload: %w", err)
	}
	var ev ClientEvent
	switch t.Type {
	case EvSubmit:
		ev = &Submit{}
	case EvCancel:
		ev = &Cancel{}
	case EvCallback:
		ev = &Callback{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, t.Type)
	}
	if len(t.Data) > 0 {
		if err := json.Unmarshal(t.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
	}
	return derefEvent(ev), nil
}

func deref(c Command) Command {
	switch v := c.(type) {
	case *Markdown:
		return *v
	case *InputRequest:
		return *v
	case *Buttons:
		return *v
	case *Clear:
		return *v
	case *CloseSession:
		return *v
	case *ScriptError:
		return *v
	}
	return c
}

func derefEvent(e ClientEvent) ClientEvent {
	switch v := e.(type) {
	case *Submit:
		return *v
	case *Cancel:
		return *v
	case *Callback:
		return *v
	}
	return e
}
