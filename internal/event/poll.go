package event

// PushRequest is the body of a polling-transport POST: zero or one
// pending input event plus the client's last-seen sequence marker.
type PushRequest struct {
	Event *Frame `json:"event,omitempty"`
	Since uint64 `json:"since"`
}

// PollResponse is the body of every polling-transport response: the
// output frames still buffered past the client's marker and the
// server's authoritative next-sequence marker.
type PollResponse struct {
	Events []Frame `json:"events"`
	Next   uint64  `json:"next"`
}
