// Package webio is the task-facing surface of the bridge: sequential
// "print something, ask something" calls that ride on one session.
// Session-id threading stays inside this package; task code never sees
// the protocol.
package webio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebio/webio/internal/event"
	"github.com/gowebio/webio/internal/session"
)

// ErrCancelled is returned by input calls when the user dismisses the
// form instead of submitting it.
var ErrCancelled = errors.New("input cancelled")

const enqueueRetryDelay = 10 * time.Millisecond

// IO exposes blocking input/output calls bound to one session.
type IO struct {
	s *session.Session
}

// New wraps a session. Most callers go through TaskFunc instead.
func New(s *session.Session) *IO {
	return &IO{s: s}
}

// TaskFunc adapts a function over IO into a session task.
func TaskFunc(fn func(*IO)) session.Task {
	return func(s *session.Session) {
		fn(New(s))
	}
}

// Session returns the underlying session.
func (io *IO) Session() *session.Session { return io.s }

// PutMarkdown renders a markdown block. When the outbound queue is
// full the call blocks until the client drains it or the session dies,
// so a fast producer cannot silently lose output.
func (io *IO) PutMarkdown(md string) error {
	return io.enqueue(event.Markdown{Content: md})
}

// PutText renders plain text as its own paragraph.
func (io *IO) PutText(text string) error {
	return io.enqueue(event.Markdown{Content: text + "\n"})
}

// Clear wipes the named output region; an empty region clears all.
func (io *IO) Clear(region string) error {
	return io.enqueue(event.Clear{Region: region})
}

// Input renders a single-field form and blocks until the user answers.
// The label doubles as the field id.
func (io *IO) Input(label string, opts ...FieldOption) (string, error) {
	field := event.FieldSpec{ID: label, Label: label, Type: "text"}
	for _, opt := range opts {
		opt(&field)
	}
	values, err := io.InputForm(event.FormSpec{Fields: []event.FieldSpec{field}})
	if err != nil {
		return "", err
	}
	return values[field.ID], nil
}

// InputForm renders a multi-field form and blocks until submission.
func (io *IO) InputForm(spec event.FormSpec) (map[string]string, error) {
	ev, err := io.s.RequestInput(context.Background(), spec)
	if err != nil {
		return nil, err
	}
	switch v := ev.(type) {
	case event.Submit:
		return v.Values, nil
	case event.Cancel:
		return nil, ErrCancelled
	default:
		return nil, fmt.Errorf("unexpected input event %T", ev)
	}
}

// Confirm asks a yes/no question.
func (io *IO) Confirm(label string) (bool, error) {
	values, err := io.InputForm(event.FormSpec{
		Label: label,
		Fields: []event.FieldSpec{{
			ID:       "confirm",
			Label:    label,
			Type:     "select",
			Required: true,
			Options:  []string{"yes", "no"},
		}},
	})
	if err != nil {
		return false, err
	}
	return values["confirm"] == "yes", nil
}

// OnClick renders a button whose clicks invoke fn on the server.
// Clicks do not occupy the pending-input slot, so the task is free to
// keep producing output or to block on Input concurrently.
func (io *IO) OnClick(label string, fn func()) error {
	id := io.s.RegisterCallback(func(json.RawMessage) { fn() })
	return io.enqueue(event.Buttons{Buttons: []event.ButtonSpec{{Label: label, CallbackID: id}}})
}

func (io *IO) enqueue(cmd event.Command) error {
	for {
		err := io.s.Enqueue(cmd)
		if !errors.Is(err, session.ErrQueueFull) {
			return err
		}
		select {
		case <-io.s.Done():
			return session.ErrSessionClosed
		case <-time.After(enqueueRetryDelay):
		}
	}
}

// FieldOption customises a single input field.
type FieldOption func(*event.FieldSpec)

// Required marks the field mandatory.
func Required() FieldOption {
	return func(f *event.FieldSpec) { f.Required = true }
}

// Placeholder sets the hint text shown in an empty field.
func Placeholder(s string) FieldOption {
	return func(f *event.FieldSpec) { f.Placeholder = s }
}

// Pattern sets a regular expression the submitted value must match.
func Pattern(re string) FieldOption {
	return func(f *event.FieldSpec) { f.Pattern = re }
}

// Type overrides the field type (text, number, password, select).
func Type(t string) FieldOption {
	return func(f *event.FieldSpec) { f.Type = t }
}

// Options sets the choices for a select field.
func Options(opts ...string) FieldOption {
	return func(f *event.FieldSpec) { f.Options = opts }
}

// MinLength sets the minimum accepted value length.
func MinLength(n int) FieldOption {
	return func(f *event.FieldSpec) { f.MinLength = n }
}

// MaxLength sets the maximum accepted value length.
func MaxLength(n int) FieldOption {
	return func(f *event.FieldSpec) { f.MaxLength = n }
}
