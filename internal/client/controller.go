package client

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gowebio/webio/internal/event"
)

// State is the controller's position in its machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingInput
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

var (
	ErrNoPendingForm = errors.New("no form awaiting input")
	ErrTerminated    = errors.New("session terminated")
)

// ValidationError maps field ids to human-readable problems. It never
// leaves the client; invalid submissions re-render feedback locally.
type ValidationError map[string]string

func (v ValidationError) Error() string {
	fields := make([]string, 0, len(v))
	for id := range v {
		fields = append(fields, id)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, id := range fields {
		parts = append(parts, id+": "+v[id])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Renderer is the opaque rendering surface the controller drives.
// Implementations decide what "the document" is: a DOM, a terminal, a
// test recorder.
type Renderer interface {
	RenderMarkdown(md string)
	ShowForm(spec event.FormSpec)
	HideForm()
	RenderButtons(buttons []event.ButtonSpec)
	ClearRegion(region string)
	RenderError(msg string)
	Terminal(reason string)
}

// Controller consumes the output-frame stream, applies renders, and
// turns user actions back into input events. At most one form is
// interactive at a time, mirroring the session's single pending input
// request.
type Controller struct {
	transport Transport
	renderer  Renderer

	mu      sync.Mutex
	state   State
	pending *event.FormSpec
}

// NewController wires the controller as the transport's output
// handler. Call before Transport.StartSession.
func NewController(t Transport, r Renderer) *Controller {
	c := &Controller{transport: t, renderer: r}
	t.OnOutput(c.handleFrame)
	return c
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) handleFrame(f event.Frame) {
	cmd, err := event.DecodeCommand(f)
	if err != nil {
		log.Printf("[controller] drop frame seq=%d: %v", f.Seq, err)
		return
	}

	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}

	switch v := cmd.(type) {
	case event.Markdown:
		c.mu.Unlock()
		c.renderer.RenderMarkdown(v.Content)
	case event.Clear:
		c.mu.Unlock()
		c.renderer.ClearRegion(v.Region)
	case event.Buttons:
		c.mu.Unlock()
		c.renderer.RenderButtons(v.Buttons)
	case event.ScriptError:
		c.mu.Unlock()
		c.renderer.RenderError(v.Message)
	case event.InputRequest:
		if c.state == StateAwaitingInput {
			// One outstanding input request per session; a second one
			// is a protocol violation, not a merge.
			c.mu.Unlock()
			log.Printf("[controller] reject input request seq=%d: form already pending", f.Seq)
			return
		}
		spec := v.Spec
		c.pending = &spec
		c.state = StateAwaitingInput
		c.mu.Unlock()
		c.renderer.ShowForm(spec)
	case event.CloseSession:
		c.state = StateTerminated
		c.pending = nil
		c.mu.Unlock()
		c.transport.Close()
		c.renderer.Terminal(v.Reason)
	default:
		c.mu.Unlock()
		log.Printf("[controller] unhandled command %T", cmd)
	}
}

// Submit validates values against the pending form spec and, when they
// pass, packages them into one input event and clears the widget.
// Validation failures re-render feedback without contacting the
// server and leave the controller awaiting input.
func (c *Controller) Submit(values map[string]string) error {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return ErrTerminated
	}
	if c.state != StateAwaitingInput || c.pending == nil {
		c.mu.Unlock()
		return ErrNoPendingForm
	}
	spec := *c.pending
	c.mu.Unlock()

	if verr := validate(spec, values); verr != nil {
		c.renderer.RenderError(verr.Error())
		return verr
	}

	if err := c.transport.SendInput(event.Submit{Values: values}); err != nil {
		return err
	}

	c.mu.Lock()
	c.pending = nil
	c.state = StateIdle
	c.mu.Unlock()
	c.renderer.HideForm()
	return nil
}

// Cancel dismisses the pending form with a control signal. The form
// stays live if the send fails, since the server is still waiting.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.state != StateAwaitingInput {
		c.mu.Unlock()
		return ErrNoPendingForm
	}
	c.mu.Unlock()

	if err := c.transport.SendInput(event.Cancel{}); err != nil {
		return err
	}

	c.mu.Lock()
	c.pending = nil
	c.state = StateIdle
	c.mu.Unlock()
	c.renderer.HideForm()
	return nil
}

// Click fires a server-side callback bound to a rendered button.
func (c *Controller) Click(callbackID string) error {
	if c.State() == StateTerminated {
		return ErrTerminated
	}
	return c.transport.SendInput(event.Callback{CallbackID: callbackID})
}

// validate applies the rules declared in the form spec.
func validate(spec event.FormSpec, values map[string]string) ValidationError {
	verr := make(ValidationError)
	for _, field := range spec.Fields {
		value, present := values[field.ID]
		if field.Required && (!present || value == "") {
			verr[field.ID] = "value is required"
			continue
		}
		if !present || value == "" {
			continue
		}
		if field.MinLength > 0 && len(value) < field.MinLength {
			verr[field.ID] = fmt.Sprintf("must be at least %d characters", field.MinLength)
			continue
		}
		if field.MaxLength > 0 && len(value) > field.MaxLength {
			verr[field.ID] = fmt.Sprintf("must be at most %d characters", field.MaxLength)
			continue
		}
		if field.Pattern != "" {
			re, err := regexp.Compile(field.Pattern)
			if err != nil {
				log.Printf("[controller] bad pattern for field %s: %v", field.ID, err)
			} else if !re.MatchString(value) {
				verr[field.ID] = "does not match expected format"
				continue
			}
		}
		if len(field.Options) > 0 {
			valid := false
			for _, opt := range field.Options {
				if value == opt {
					valid = true
					break
				}
			}
			if !valid {
				verr[field.ID] = "not one of the allowed options"
			}
		}
	}
	if len(verr) == 0 {
		return nil
	}
	return verr
}
