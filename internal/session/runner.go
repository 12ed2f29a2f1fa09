package session

import (
	"errors"
	"fmt"
	"log"

	"github.com/gowebio/webio/internal/event"
)

// Task is one script execution bound to a session. The task blocks
// inside RequestInput until the remote client answers; which goroutine
// or scheduler runs it is the caller's concern.
type Task func(*Session)

// Run creates a session and executes task on its own goroutine. A
// panic inside the task becomes a script_error command and errors the
// session; a normal return closes it after a close_session command.
func Run(r *Registry, task Task, debug bool) *Session {
	s := r.Create(debug)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				msg := fmt.Sprintf("%v", rec)
				log.Printf("[session] task panic in session %s: %s", s.ID(), msg)
				if err := s.Enqueue(event.ScriptError{Message: msg}); err != nil {
					log.Printf("[session] drop script error for %s: %v", s.ID(), err)
				}
				s.Fail("task panic")
				return
			}
			if err := s.Enqueue(event.CloseSession{Reason: "task finished"}); err != nil &&
				!errors.Is(err, ErrSessionClosed) {
				log.Printf("[session] drop close command for %s: %v", s.ID(), err)
			}
			s.Close("task finished")
		}()
		task(s)
	}()
	return s
}
