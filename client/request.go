package client

import "github.com/rs/xid"

// requestState is a request's position in the send pipeline.
type requestState int

const (
	// NotSerialized requests are queued locally and have not yet been
	// handed to the MTP session for msg_id assignment.
	NotSerialized requestState = iota
	// Serialized requests have a msg_id (mtproto.Session.Push succeeded)
	// but have not yet gone out on the wire.
	Serialized
	// Sent requests have been flushed in a Finalize'd wire message and
	// are waiting on an rpc_result.
	Sent
)

func (s requestState) String() string {
	switch s {
	case NotSerialized:
		return "not_serialized"
	case Serialized:
		return "serialized"
	case Sent:
		return "sent"
	default:
		return "unknown"
	}
}

// request is one in-flight RPC: its raw body, lifecycle state, assigned
// msg_id once serialized, and the channel its result (or error) is
// delivered on. id is an opaque log-correlation handle, not part of the
// wire protocol — msg_id alone is awkward to grep for across a busy log.
type request struct {
	id    xid.ID
	body  []byte
	state requestState
	msgID int64

	resultCh chan requestResult
}

// newRequest wraps body in a request with a fresh correlation id.
func newRequest(body []byte) *request {
	return &request{id: xid.New(), body: body, resultCh: make(chan requestResult, 1)}
}

// requestResult is what Invoke receives once a request resolves.
type requestResult struct {
	body []byte
	err  error
}
