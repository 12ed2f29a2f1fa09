package main

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/gowebio/webio/internal/event"
)

// termRenderer renders the output stream to the terminal: markdown
// through glamour, forms and terminal states as channel signals the
// REPL consumes.
type termRenderer struct {
	mu       sync.Mutex
	markdown *glamour.TermRenderer
	buttons  []event.ButtonSpec

	forms      chan event.FormSpec
	terminated chan string
}

func newTermRenderer() *termRenderer {
	r := &termRenderer{
		forms:      make(chan event.FormSpec, 1),
		terminated: make(chan string, 1),
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err == nil {
		r.markdown = md
	}
	return r
}

func (r *termRenderer) RenderMarkdown(md string) {
	r.mu.Lock()
	renderer := r.markdown
	r.mu.Unlock()
	if renderer != nil {
		if out, err := renderer.Render(md); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Println(md)
}

func (r *termRenderer) ShowForm(spec event.FormSpec) {
	if spec.Label != "" {
		fmt.Printf("\n%s\n", spec.Label)
	}
	select {
	case r.forms <- spec:
	default:
		// A form is already queued; the controller never lets this
		// happen, but dropping beats blocking the dispatch path.
	}
}

func (r *termRenderer) HideForm() {}

func (r *termRenderer) RenderButtons(buttons []event.ButtonSpec) {
	r.mu.Lock()
	r.buttons = append(r.buttons, buttons...)
	r.mu.Unlock()
	for _, b := range buttons {
		fmt.Printf("[button] %s  (type !%s at any prompt)\n", b.Label, b.Label)
	}
}

func (r *termRenderer) ClearRegion(region string) {
	if region == "" {
		fmt.Print("\033[2J\033[H")
	}
}

func (r *termRenderer) RenderError(msg string) {
	fmt.Printf("error: %s\n", msg)
}

func (r *termRenderer) Terminal(reason string) {
	select {
	case r.terminated <- reason:
	default:
	}
}

func (r *termRenderer) buttonByLabel(label string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.buttons {
		if b.Label == label {
			return b.CallbackID, true
		}
	}
	return "", false
}
