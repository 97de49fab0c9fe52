package updates

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/telemtx/mtproto/peerhash"
)

// MessageBox is the per-session update sequencer (C6). A single task
// owns it — the same single-threaded cooperative ownership rule the
// sender's Conn.eventLoop follows for its own state.
type MessageBox struct {
	log *log.Logger

	// Now stands in for the monotonic clock driving every deadline; a
	// fixed function makes the gap/freshness timers deterministic in
	// tests without a live server.
	Now func() time.Time

	state          map[Entry]*State
	date           time.Time
	seq            int32
	possibleGaps   map[Entry]*PossibleGap
	gettingDiffFor map[Entry]bool
	nextDeadline   Entry
	haveNext       bool
}

// New creates an empty MessageBox. now defaults to time.Now when nil.
func New(now func() time.Time) *MessageBox {
	if now == nil {
		now = time.Now
	}
	mb := &MessageBox{
		log:            log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "updates"}),
		Now:            now,
		state:          make(map[Entry]*State),
		date:           epoch(),
		seq:            NoSeq,
		possibleGaps:   make(map[Entry]*PossibleGap),
		gettingDiffFor: make(map[Entry]bool),
	}
	mb.log.Debug("initialized")
	return mb
}

func epoch() time.Time { return time.Unix(0, 0).UTC() }

func (mb *MessageBox) nextUpdatesDeadline() time.Time {
	return mb.Now().Add(NoUpdatesTimeout)
}

// Load seeds the sequencer from a persisted SessionState, e.g. right
// after a client reconnects with a saved session.
func (mb *MessageBox) Load(s SessionState) {
	deadline := mb.nextUpdatesDeadline()

	mb.state = make(map[Entry]*State)
	if s.Pts != NoSeq {
		mb.state[EntryAccount] = &State{Pts: s.Pts, Deadline: deadline}
	}
	if s.Qts != NoSeq {
		mb.state[EntrySecret] = &State{Pts: s.Qts, Deadline: deadline}
	}
	for _, c := range s.Channels {
		mb.state[Entry(c.ID)] = &State{Pts: c.Pts, Deadline: deadline}
	}

	mb.date = time.Unix(int64(s.Date), 0).UTC()
	mb.seq = s.Seq
	mb.possibleGaps = make(map[Entry]*PossibleGap)
	mb.gettingDiffFor = make(map[Entry]bool)
	mb.nextDeadline = EntryAccount
	mb.haveNext = true
}

// Reset discards all state, as if the sequencer had never seen any
// updates — used when starting a brand new session.
func (mb *MessageBox) Reset() {
	mb.state = make(map[Entry]*State)
	mb.date = epoch()
	mb.seq = NoSeq
	mb.possibleGaps = make(map[Entry]*PossibleGap)
	mb.gettingDiffFor = make(map[Entry]bool)
	mb.haveNext = false
}

// SessionState snapshots the sequencer for persistence.
func (mb *MessageBox) SessionState() SessionState {
	s := SessionState{Date: int32(mb.date.Unix()), Seq: mb.seq}
	if st, ok := mb.state[EntryAccount]; ok {
		s.Pts = st.Pts
	} else {
		s.Pts = NoPts
	}
	if st, ok := mb.state[EntrySecret]; ok {
		s.Qts = st.Pts
	} else {
		s.Qts = NoPts
	}
	for entry, st := range mb.state {
		if entry == EntryAccount || entry == EntrySecret {
			continue
		}
		s.Channels = append(s.Channels, ChannelState{ID: int64(entry), Pts: st.Pts})
	}
	return s
}

// IsEmpty reports whether the sequencer has never observed an account
// pts, meaning a fresh getDifference (not process_updates) must seed it.
func (mb *MessageBox) IsEmpty() bool {
	st, ok := mb.state[EntryAccount]
	return !ok || st.Pts == NoPts
}

// CheckDeadlines returns the earliest upcoming deadline across every
// possible_gaps entry and every per-entry freshness timer, moving any
// entry whose deadline has already passed into getting_diff_for.
func (mb *MessageBox) CheckDeadlines() time.Time {
	now := mb.Now()

	if len(mb.gettingDiffFor) > 0 {
		return now
	}

	deadline := mb.nextUpdatesDeadline()
	switch {
	case len(mb.possibleGaps) > 0:
		for _, gap := range mb.possibleGaps {
			if gap.Deadline.Before(deadline) {
				deadline = gap.Deadline
			}
		}
	case mb.haveNext:
		if st, ok := mb.state[mb.nextDeadline]; ok && st.Deadline.Before(deadline) {
			deadline = st.Deadline
		}
	}

	if !now.Before(deadline) {
		for entry, gap := range mb.possibleGaps {
			if !now.Before(gap.Deadline) {
				mb.gettingDiffFor[entry] = true
			}
		}
		for entry, st := range mb.state {
			if !now.Before(st.Deadline) {
				mb.gettingDiffFor[entry] = true
			}
		}
		mb.log.Debugf("deadlines met, now getting diff for: %v", mb.gettingDiffFor)
		for entry := range mb.gettingDiffFor {
			delete(mb.possibleGaps, entry)
		}
	}

	return deadline
}

func (mb *MessageBox) resetDeadlines(entries map[Entry]bool, deadline time.Time) {
	if len(entries) == 0 {
		return
	}

	var last Entry
	for entry := range entries {
		st, ok := mb.state[entry]
		if !ok {
			panic("updates: reset_deadline on an entry without state")
		}
		st.Deadline = deadline
		last = entry
	}

	if mb.haveNext && entries[mb.nextDeadline] {
		mb.nextDeadline = mb.earliestDeadlineEntry()
		mb.haveNext = true
	} else if mb.haveNext {
		if st, ok := mb.state[mb.nextDeadline]; ok && deadline.Before(st.Deadline) {
			mb.nextDeadline = last
		}
	}
}

func (mb *MessageBox) earliestDeadlineEntry() Entry {
	var best Entry
	var bestDeadline time.Time
	first := true
	for entry, st := range mb.state {
		if first || st.Deadline.Before(bestDeadline) {
			best, bestDeadline, first = entry, st.Deadline, false
		}
	}
	return best
}

// ResetChannelDeadline re-arms a single channel's freshness timer, e.g.
// after a channelDifferenceTooLong response supplied its own timeout.
func (mb *MessageBox) ResetChannelDeadline(channelID int64, timeoutSeconds *int32) {
	d := NoUpdatesTimeout
	if timeoutSeconds != nil {
		d = time.Duration(*timeoutSeconds) * time.Second
	}
	mb.resetDeadlines(map[Entry]bool{Entry(channelID): true}, mb.Now().Add(d))
}

// SetState commits an updates.state response directly, e.g. from
// account.updateStatus or the initial updates.getState call.
func (mb *MessageBox) SetState(s StateBlock) {
	deadline := mb.nextUpdatesDeadline()
	mb.state[EntryAccount] = &State{Pts: s.Pts, Deadline: deadline}
	mb.state[EntrySecret] = &State{Pts: s.Qts, Deadline: deadline}
	mb.date = time.Unix(int64(s.Date), 0).UTC()
	mb.seq = s.Seq
}

// TrySetChannelState seeds a channel's pts the first time it is seen,
// without disturbing it if already tracked.
func (mb *MessageBox) TrySetChannelState(id int64, pts int32) {
	entry := Entry(id)
	if _, ok := mb.state[entry]; !ok {
		mb.state[entry] = &State{Pts: pts, Deadline: mb.nextUpdatesDeadline()}
	}
}

func (mb *MessageBox) tryBeginGetDiff(entry Entry, reason string) {
	if _, ok := mb.state[entry]; !ok {
		if _, ok := mb.possibleGaps[entry]; ok {
			panic("updates: possible_gap for an entry not in the state map")
		}
		return
	}
	mb.log.Debugf("marking entry=%v as needing difference because: %s", entry, reason)
	mb.gettingDiffFor[entry] = true
	delete(mb.possibleGaps, entry)
}

func (mb *MessageBox) endGetDiff(entry Entry) {
	if !mb.gettingDiffFor[entry] {
		panic("updates: end_get_diff on an entry that was not getting diff for")
	}
	delete(mb.gettingDiffFor, entry)
	mb.resetDeadlines(map[Entry]bool{entry: true}, mb.nextUpdatesDeadline())
	if _, ok := mb.possibleGaps[entry]; ok {
		panic("updates: gap created while getting difference")
	}
}

// PeerReferencer is implemented by updates that embed a reference to a
// peer whose access hash must already be cached before the update can be
// safely applied (e.g. a message's from_id/peer_id).
type PeerReferencer interface {
	ReferencedPeers() []peerhash.Peer
}

// EnsureKnownPeerHashes extends cache from env's users/chats lists and
// verifies every peer any update in it references is resolvable. If one
// is not, it marks ENTRY_ACCOUNT for difference and returns Gap — unless
// env is a short-form update carrying no ordering information, in which
// case the caller may simply drop the update (there is nothing to gap
// against) and no error is returned.
func (mb *MessageBox) EnsureKnownPeerHashes(env Envelope, cache *peerhash.Cache) (Combined, error) {
	combined, err := env.Adapt()
	if err != nil {
		return combined, err
	}
	for _, u := range combined.Users {
		cache.Extend(u.Peer, u.AccessHash, u.Authorized)
	}
	for _, c := range combined.Chats {
		cache.Extend(c.Peer, c.AccessHash, c.Authorized)
	}

	allResolved := true
	for _, u := range combined.Updates {
		ref, ok := u.(PeerReferencer)
		if !ok {
			continue
		}
		for _, p := range ref.ReferencedPeers() {
			if !cache.Resolvable(p) {
				allResolved = false
			}
		}
	}
	if allResolved {
		return combined, nil
	}

	canRecover := true
	if short, ok := env.(UpdateShort); ok {
		_, hasPts := short.Update.PtsInfo()
		canRecover = hasPts
	}
	if !canRecover {
		return combined, nil
	}
	mb.tryBeginGetDiff(EntryAccount, "missing hash")
	return combined, Gap
}

func updateSortKey(u Update) int32 {
	if pts, ok := u.PtsInfo(); ok {
		return pts.Pts - pts.PtsCount
	}
	return 0
}

// ProcessUpdates runs the processing rule (spec §4.6) over one already-
// adapted envelope: it rejects a stale or gapped batch, applies every
// update whose pts lines up with local state (buffering the rest as
// possible gaps), and attempts to drain any previously buffered gaps
// that this batch may have just resolved.
func (mb *MessageBox) ProcessUpdates(env Envelope, cache *peerhash.Cache) ([]Update, []PeerEntity, []PeerEntity, error) {
	combined, err := env.Adapt()
	if err != nil {
		return nil, nil, nil, err
	}

	var result []Update

	if combined.SeqStart != NoSeq {
		if mb.seq+1 > combined.SeqStart {
			mb.log.Debug("skipping updates as they should have already been handled")
			return result, combined.Users, combined.Chats, nil
		} else if mb.seq+1 < combined.SeqStart {
			mb.tryBeginGetDiff(EntryAccount, "detected gap")
			return nil, nil, nil, Gap
		}
	}

	sorted := make([]Update, len(combined.Updates))
	copy(sorted, combined.Updates)
	sort.SliceStable(sorted, func(i, j int) bool { return updateSortKey(sorted[i]) < updateSortKey(sorted[j]) })

	anyPtsApplied := false
	resetFor := make(map[Entry]bool)
	for _, u := range sorted {
		entry, hasEntry, applied, hasApplied := mb.applyPtsInfo(u)
		if hasEntry {
			resetFor[entry] = true
		}
		if hasApplied {
			result = append(result, applied)
			anyPtsApplied = anyPtsApplied || hasEntry
		}
	}

	mb.resetDeadlines(resetFor, mb.nextUpdatesDeadline())

	if anyPtsApplied {
		mb.log.Debug("updating seq as local pts was updated too")
		if combined.Date != NoDate {
			mb.date = time.Unix(int64(combined.Date), 0).UTC()
		}
		if combined.Seq != NoSeq {
			mb.seq = combined.Seq
		}
	}

	if len(mb.possibleGaps) > 0 {
		mb.log.Debugf("trying to re-apply count=%d possible gaps", len(mb.possibleGaps))
		for _, gap := range mb.possibleGaps {
			sort.SliceStable(gap.Updates, func(i, j int) bool { return updateSortKey(gap.Updates[i]) < updateSortKey(gap.Updates[j]) })
			remaining := gap.Updates[:0]
			for _, u := range gap.Updates {
				_, _, applied, hasApplied := mb.applyPtsInfo(u)
				if hasApplied {
					result = append(result, applied)
				} else {
					remaining = append(remaining, u)
				}
			}
			gap.Updates = remaining
		}
		for entry, gap := range mb.possibleGaps {
			if len(gap.Updates) == 0 {
				delete(mb.possibleGaps, entry)
			}
		}
	}

	return result, combined.Users, combined.Chats, nil
}

// applyPtsInfo is the per-update decision in the processing rule:
// discard (already applied, or its difference is mid-flight), buffer
// (a gap within this entry), or apply (advance state and emit).
func (mb *MessageBox) applyPtsInfo(update Update) (entry Entry, hasEntry bool, applied Update, hasApplied bool) {
	if tl, ok := update.(ChannelTooLong); ok {
		mb.tryBeginGetDiff(Entry(tl.ChannelID), "received updateChannelTooLong")
		return 0, false, nil, false
	}

	pts, ok := update.PtsInfo()
	if !ok {
		return 0, false, update, true
	}

	if mb.gettingDiffFor[pts.Entry] {
		return pts.Entry, true, nil, false
	}

	if st, ok := mb.state[pts.Entry]; ok {
		localPts := st.Pts
		switch {
		case localPts+pts.PtsCount > pts.Pts:
			return pts.Entry, true, nil, false
		case localPts+pts.PtsCount < pts.Pts:
			gap, ok := mb.possibleGaps[pts.Entry]
			if !ok {
				gap = &PossibleGap{Deadline: mb.Now().Add(PossibleGapTimeout)}
				mb.possibleGaps[pts.Entry] = gap
			}
			gap.Updates = append(gap.Updates, update)
			return pts.Entry, true, nil, false
		}
	}

	if _, ok := mb.state[pts.Entry]; !ok {
		mb.state[pts.Entry] = &State{Pts: 0, Deadline: mb.nextUpdatesDeadline()}
	}
	mb.state[pts.Entry].Pts = pts.Pts

	return pts.Entry, true, update, true
}

// GetDifference builds the account/secret catch-up request, or nil if
// neither entry is currently marked as needing one.
func (mb *MessageBox) GetDifference() *GetDifferenceRequest {
	for _, entry := range [...]Entry{EntryAccount, EntrySecret} {
		if mb.gettingDiffFor[entry] {
			accountSt, ok := mb.state[EntryAccount]
			if !ok {
				panic("updates: get_difference for an entry without known state")
			}
			qts := NoSeq
			if st, ok := mb.state[EntrySecret]; ok {
				qts = st.Pts
			}
			req := &GetDifferenceRequest{Pts: accountSt.Pts, Qts: qts, Date: int32(mb.date.Unix())}
			mb.log.Debugf("requesting account difference: %+v", req)
			return req
		}
	}
	return nil
}

// ApplyDifference applies one updates.difference response, running any
// embedded updates through ProcessUpdates and ending the account/secret
// diff fetch once a final (non-slice) response is reached.
func (mb *MessageBox) ApplyDifference(diff DifferenceResult, cache *peerhash.Cache) ([]Update, []PeerEntity, []PeerEntity, error) {
	var (
		finish bool
		result []Update
		users  []PeerEntity
		chats  []PeerEntity
		err    error
	)

	switch d := diff.(type) {
	case DifferenceEmpty:
		finish = true
		mb.date = time.Unix(int64(d.Date), 0).UTC()
		mb.seq = d.Seq
	case Difference:
		finish = true
		for _, u := range d.Users {
			cache.Extend(u.Peer, u.AccessHash, u.Authorized)
		}
		for _, c := range d.Chats {
			cache.Extend(c.Peer, c.AccessHash, c.Authorized)
		}
		result, users, chats, err = mb.applyDifferenceType(d, cache)
	case DifferenceSlice:
		finish = false
		for _, u := range d.Users {
			cache.Extend(u.Peer, u.AccessHash, u.Authorized)
		}
		for _, c := range d.Chats {
			cache.Extend(c.Peer, c.AccessHash, c.Authorized)
		}
		result, users, chats, err = mb.applyDifferenceType(Difference{
			State:        d.IntermediateState,
			NewMessages:  d.NewMessages,
			OtherUpdates: d.OtherUpdates,
			Users:        d.Users,
			Chats:        d.Chats,
		}, cache)
	case DifferenceTooLong:
		finish = true
		if st, ok := mb.state[EntryAccount]; ok {
			st.Pts = d.Pts
		} else {
			mb.state[EntryAccount] = &State{Pts: d.Pts, Deadline: mb.nextUpdatesDeadline()}
		}
	default:
		panic(fmt.Sprintf("updates: unexpected difference type %T", diff))
	}
	if err != nil {
		return nil, nil, nil, err
	}

	if finish {
		account := mb.gettingDiffFor[EntryAccount]
		secret := mb.gettingDiffFor[EntrySecret]
		if !account && !secret {
			panic("updates: applying difference without an active account/secret diff")
		}
		if account {
			mb.endGetDiff(EntryAccount)
		}
		if secret {
			mb.endGetDiff(EntrySecret)
		}
	}

	return result, users, chats, nil
}

func (mb *MessageBox) applyDifferenceType(diff Difference, cache *peerhash.Cache) ([]Update, []PeerEntity, []PeerEntity, error) {
	mb.state[EntryAccount] = &State{Pts: diff.State.Pts, Deadline: mb.nextUpdatesDeadline()}
	mb.state[EntrySecret] = &State{Pts: diff.State.Qts, Deadline: mb.nextUpdatesDeadline()}
	mb.date = time.Unix(int64(diff.State.Date), 0).UTC()
	mb.seq = diff.State.Seq

	result, users, chats, err := mb.ProcessUpdates(Updates{
		List:  diff.OtherUpdates,
		Users: diff.Users,
		Chats: diff.Chats,
		Date:  int32(epoch().Unix()),
		Seq:   NoSeq,
	}, cache)
	if err != nil {
		return nil, nil, nil, err
	}

	result = append(result, diff.NewMessages...)
	return result, users, chats, nil
}

// GetChannelDifference builds the next channel catch-up request among
// those marked as needing one. If the channel's access hash has been
// forgotten, the entry is dropped from state instead (there is nothing
// left to recover it with).
func (mb *MessageBox) GetChannelDifference(cache *peerhash.Cache) *GetChannelDifferenceRequest {
	var entry Entry
	found := false
	for e := range mb.gettingDiffFor {
		if e != EntryAccount && e != EntrySecret {
			entry, found = e, true
			break
		}
	}
	if !found {
		return nil
	}

	peer := peerhash.Peer{Kind: peerhash.KindChannel, ID: int64(entry)}
	ref, ok := cache.Get(peer)
	if !ok {
		mb.endGetDiff(entry)
		delete(mb.state, entry)
		return nil
	}

	st, ok := mb.state[entry]
	if !ok {
		panic("updates: get_channel_difference for an entry without known state")
	}
	limit := int32(UserChannelDiffLimit)
	if cache.SelfIsBot() {
		limit = BotChannelDiffLimit
	}
	req := &GetChannelDifferenceRequest{ChannelID: int64(entry), AccessHash: ref.AccessHash, Pts: st.Pts, Limit: limit}
	mb.log.Debugf("requesting channel difference: %+v", req)
	return req
}

// ApplyChannelDifference applies one updates.channelDifference response.
func (mb *MessageBox) ApplyChannelDifference(channelID int64, diff ChannelDifferenceResult, cache *peerhash.Cache) ([]Update, []PeerEntity, []PeerEntity, error) {
	entry := Entry(channelID)
	delete(mb.possibleGaps, entry)

	switch d := diff.(type) {
	case ChannelDifferenceEmpty:
		if !d.Final {
			panic("updates: channelDifferenceEmpty without final=true")
		}
		mb.endGetDiff(entry)
		mb.state[entry].Pts = d.Pts
		return nil, nil, nil, nil

	case ChannelDifferenceTooLong:
		for _, u := range d.Users {
			cache.Extend(u.Peer, u.AccessHash, u.Authorized)
		}
		for _, c := range d.Chats {
			cache.Extend(c.Peer, c.AccessHash, c.Authorized)
		}
		if !d.Final {
			panic("updates: channelDifferenceTooLong without final=true")
		}
		mb.state[entry].Pts = d.DialogPts
		mb.ResetChannelDeadline(channelID, d.Timeout)
		return nil, nil, nil, nil

	case ChannelDifference:
		for _, u := range d.Users {
			cache.Extend(u.Peer, u.AccessHash, u.Authorized)
		}
		for _, c := range d.Chats {
			cache.Extend(c.Peer, c.AccessHash, c.Authorized)
		}
		if d.Final {
			mb.endGetDiff(entry)
		}
		mb.state[entry].Pts = d.Pts

		result, users, chats, err := mb.ProcessUpdates(Updates{
			List:  d.OtherUpdates,
			Users: d.Users,
			Chats: d.Chats,
			Date:  int32(epoch().Unix()),
			Seq:   NoSeq,
		}, cache)
		if err != nil {
			return nil, nil, nil, err
		}
		result = append(result, d.NewMessages...)
		mb.ResetChannelDeadline(channelID, nil)
		return result, users, chats, nil

	default:
		panic(fmt.Sprintf("updates: unexpected channel difference type %T", diff))
	}
}

// EndChannelDifference stops a channel difference fetch that ended
// abnormally: on Banned the channel's entire entry is forgotten, since
// there is nothing left to catch up, and its cached access hash is
// dropped along with it.
func (mb *MessageBox) EndChannelDifference(channelID int64, reason PrematureEndReason, cache *peerhash.Cache) {
	entry := Entry(channelID)
	switch reason {
	case TemporaryServerIssues:
		delete(mb.possibleGaps, entry)
		mb.endGetDiff(entry)
	case Banned:
		delete(mb.possibleGaps, entry)
		mb.endGetDiff(entry)
		delete(mb.state, entry)
		cache.Forget(peerhash.Peer{Kind: peerhash.KindChannel, ID: channelID})
	default:
		panic("updates: unknown PrematureEndReason")
	}
}
