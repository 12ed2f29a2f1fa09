package client

import (
	"log"
	"sync"

	"github.com/gowebio/webio/internal/event"
)

// maxReorderBuffer bounds how many ahead-of-sequence frames the inbox
// will hold before dropping newcomers.
const maxReorderBuffer = 256

// inbox enforces the per-session ordering invariant for both
// transports: frames reach the handler in exactly last+1 order.
// Duplicates and stale frames are dropped, ahead-of-sequence frames
// are buffered until the gap fills. Control frames without a sequence
// number (Seq 0) bypass the guard.
type inbox struct {
	mu       sync.Mutex
	handler  func(event.Frame)
	lastSeen uint64
	pending  map[uint64]event.Frame
}

func newInbox() *inbox {
	return &inbox{pending: make(map[uint64]event.Frame)}
}

func (in *inbox) setHandler(fn func(event.Frame)) {
	in.mu.Lock()
	in.handler = fn
	in.mu.Unlock()
}

// since returns the highest sequence number dispatched so far.
func (in *inbox) since() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastSeen
}

// accept feeds a batch of frames through the sequence guard. The
// handler runs on the caller's goroutine while the lock is held, which
// serializes dispatch even if two delivery paths race.
func (in *inbox) accept(frames ...event.Frame) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, f := range frames {
		switch {
		case f.Seq == 0:
			in.dispatch(f)
		case f.Seq <= in.lastSeen:
			log.Printf("[client] drop duplicate frame seq=%d (last=%d)", f.Seq, in.lastSeen)
		case f.Seq == in.lastSeen+1:
			in.lastSeen = f.Seq
			in.dispatch(f)
			in.drainPending()
		default:
			if len(in.pending) >= maxReorderBuffer {
				log.Printf("[client] reorder buffer full, drop frame seq=%d", f.Seq)
				continue
			}
			log.Printf("[client] buffering out-of-order frame seq=%d (last=%d)", f.Seq, in.lastSeen)
			in.pending[f.Seq] = f
		}
	}
}

func (in *inbox) drainPending() {
	for {
		f, ok := in.pending[in.lastSeen+1]
		if !ok {
			return
		}
		delete(in.pending, f.Seq)
		in.lastSeen = f.Seq
		in.dispatch(f)
	}
}

func (in *inbox) dispatch(f event.Frame) {
	if in.handler != nil {
		in.handler(f)
	}
}
