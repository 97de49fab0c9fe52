// Package peerhash maintains the access-hash cache the update sequencer
// and RPC layer both need before a peer can be referenced in a request:
// Telegram requires the caller to echo back a previously-seen access hash
// for users and channels (never for basic groups), and a "min" object
// must not be allowed to overwrite a hash already on file.
package peerhash

import "sync"

// Kind distinguishes the two entity kinds that carry an access hash.
type Kind int

const (
	KindUser Kind = iota
	KindChannel
)

// Entry is one cached (kind, access_hash) pair for an integer identifier.
type Entry struct {
	Kind       Kind
	AccessHash int64
	Authorized bool // false for a "min" entry: access_hash is not usable on its own
}

// Peer references a user or channel by kind and numeric identifier,
// independent of any particular TL schema version.
type Peer struct {
	Kind Kind
	ID   int64
}

// Cache is populated by scanning every updates envelope and API response
// that carries users/chats, and consulted by anything that needs to embed
// an access hash in an outgoing request (InputUser, InputChannel, ...).
// It is mutated only by the single task that owns the update sequencer,
// following the spec's single-threaded cooperative ownership rule, but
// exports a single entry point guarded by a mutex so a caller can extend
// it from an RPC response on a different code path without coordination.
type Cache struct {
	mu      sync.Mutex
	entries map[Peer]Entry

	selfID    int64
	selfIsBot bool
}

// New creates an empty cache. selfID and selfIsBot identify the logged-in
// user, used to reconstruct UpdateShortMessage's implied peer and to pick
// the bot/user channel-difference limit.
func New(selfID int64, selfIsBot bool) *Cache {
	return &Cache{entries: make(map[Peer]Entry), selfID: selfID, selfIsBot: selfIsBot}
}

func (c *Cache) SelfID() int64   { return c.selfID }
func (c *Cache) SelfIsBot() bool { return c.selfIsBot }

// Extend records a (kind, id, access_hash) triple seen in a users/chats
// list. A "min" entry (authorized=false) never overwrites a hash already
// known, matching the server's "min" flag semantics.
func (c *Cache) Extend(peer Peer, accessHash int64, authorized bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extendLocked(peer, accessHash, authorized)
}

func (c *Cache) extendLocked(peer Peer, accessHash int64, authorized bool) {
	existing, ok := c.entries[peer]
	if ok && existing.Authorized && !authorized {
		return
	}
	c.entries[peer] = Entry{Kind: peer.Kind, AccessHash: accessHash, Authorized: authorized}
}

// Get returns the cached entry for peer, if any is known.
func (c *Cache) Get(peer Peer) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[peer]
	return e, ok
}

// Resolvable reports whether peer has a usable (authorized) access hash
// on file. Channels and users require one; the caller should treat a
// false return as cause to raise a gap and resync.
func (c *Cache) Resolvable(peer Peer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[peer]
	return ok && e.Authorized
}

// Forget drops a cached entry, e.g. once a channel entry is removed from
// the update sequencer's state map after an unresolvable difference.
func (c *Cache) Forget(peer Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, peer)
}
