// Package session defines the persisted-session contract (outbound
// collaborator: Storage) and a handful of Storage implementations: an
// in-memory one for tests, an encrypted single-file one adapted from the
// teacher's statefile writer, and a bbolt-backed one for callers that want
// transactional updates instead of whole-file rewrites.
package session

import "github.com/telemtx/mtproto/updates"

// DataCenter is one entry of the session's known-datacenter set: the
// bootstrap address plus, once a handshake has completed against it, the
// authorization key to reuse on reconnect.
type DataCenter struct {
	ID      int32
	Addr    string
	AuthKey []byte // nil until the first successful handshake against ID
}

// User identifies the logged-in account, once authenticated.
type User struct {
	ID  int64
	DC  int32
	Bot bool
}

// Session is the whole of what Storage persists between runs: the
// datacenter set (with auth keys), the logged-in user if any, and the
// update sequencer's pts/qts/date/seq snapshot.
type Session struct {
	DCs   []DataCenter
	User  *User
	State *updates.SessionState
}

// Storage is the persistence contract a caller supplies; the core never
// assumes a particular backend.
type Storage interface {
	// Load returns the last-saved session, or a zero Session and a nil
	// error if none has ever been saved.
	Load() (*Session, error)
	Save(*Session) error
	Delete() error
}
