// Package updates implements the update sequencer (C6): it keeps the
// per-entry pts/qts/seq state that lets a client detect a gap in the
// server's update stream, buffer updates that arrived out of order, and
// drive a getDifference/getChannelDifference recovery when a gap either
// resolves itself or times out.
package updates

import (
	"time"

	"github.com/telemtx/mtproto/mtperrors"
)

// Entry names one of the three kinds of state the sequencer tracks: the
// account-wide pts, the secret-chat qts, or a channel's own pts, each
// keyed by a distinct Entry value so they share one map.
type Entry int64

// EntryAccount and EntrySecret are reserved sentinels picked well outside
// the range of any real Telegram channel id (channels are keyed by their
// own positive int64 id, used directly as an Entry).
const (
	EntryAccount Entry = -1
	EntrySecret  Entry = -2
)

const (
	NoDate int32 = 0
	NoSeq  int32 = 0
	NoPts  int32 = 0

	// BotChannelDiffLimit and UserChannelDiffLimit bound how many updates
	// a single getChannelDifference call may return, depending on whether
	// the logged-in account is a bot.
	BotChannelDiffLimit  = 100000
	UserChannelDiffLimit = 100

	// PossibleGapTimeout is how long a buffered out-of-order update is
	// held before its entry is escalated to a difference fetch.
	PossibleGapTimeout = 500 * time.Millisecond

	// NoUpdatesTimeout is the per-entry freshness horizon: if nothing
	// advances an entry's pts within this window, a difference fetch is
	// triggered even without a detected gap.
	NoUpdatesTimeout = 15 * time.Minute
)

// Gap is returned by ProcessUpdates and EnsureKnownPeerHashes whenever a
// discontinuity (or a missing peer hash) forces a difference fetch. It
// is the shared mtperrors.ErrGap sentinel itself, so errors.Is matches
// either name.
var Gap = mtperrors.ErrGap

// PtsInfo is the (entry, pts, pts_count) triple extracted from an update
// that participates in ordering. Updates without one are order-free and
// may be emitted as soon as they are seen.
type PtsInfo struct {
	Entry    Entry
	Pts      int32
	PtsCount int32
}

// State is the sequencer's per-entry bookkeeping: the last applied pts
// and the deadline by which the next update for this entry is expected.
type State struct {
	Pts      int32
	Deadline time.Time
}

// PossibleGap buffers updates that arrived ahead of the locally known
// pts for their entry, in the hope that the missing update arrives
// before Deadline.
type PossibleGap struct {
	Deadline time.Time
	Updates  []Update
}

// PrematureEndReason explains why a channel difference fetch ended
// before reaching final=true.
type PrematureEndReason int

const (
	TemporaryServerIssues PrematureEndReason = iota
	Banned
)

// StateBlock mirrors the updates.state constructor: the four counters a
// difference response (or an explicit setState call) commits at once.
type StateBlock struct {
	Pts, Qts, Date, Seq int32
}

// ChannelState is one channel's pts, as returned by SessionState for
// persistence.
type ChannelState struct {
	ID  int64
	Pts int32
}

// SessionState is the serializable snapshot handed to session storage.
type SessionState struct {
	Pts, Qts, Date, Seq int32
	Channels            []ChannelState
}
