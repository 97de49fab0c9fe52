package updates

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telemtx/mtproto/peerhash"
)

// testUpdate is a minimal Update used only to drive the sequencer in
// tests; it carries no payload beyond what PtsInfo needs.
type testUpdate struct {
	id        string
	entry     Entry
	pts       int32
	ptsCount  int32
	orderFree bool
}

func (u testUpdate) PtsInfo() (PtsInfo, bool) {
	if u.orderFree {
		return PtsInfo{}, false
	}
	return PtsInfo{Entry: u.entry, Pts: u.pts, PtsCount: u.ptsCount}, true
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestBox(now time.Time) *MessageBox {
	mb := New(fixedClock(now))
	mb.state[EntryAccount] = &State{Pts: 100, Deadline: now.Add(NoUpdatesTimeout)}
	return mb
}

func TestProcessUpdatesAppliesInOrderPts(t *testing.T) {
	now := time.Now()
	mb := newTestBox(now)
	cache := peerhash.New(1, false)

	env := Updates{
		List: []Update{
			testUpdate{id: "a", entry: EntryAccount, pts: 101, ptsCount: 1},
		},
		Seq: NoSeq,
	}

	result, _, _, err := mb.ProcessUpdates(env, cache)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, int32(101), mb.state[EntryAccount].Pts)
}

func TestProcessUpdatesDiscardsAlreadyApplied(t *testing.T) {
	now := time.Now()
	mb := newTestBox(now)
	cache := peerhash.New(1, false)

	env := Updates{List: []Update{testUpdate{entry: EntryAccount, pts: 100, ptsCount: 1}}}
	result, _, _, err := mb.ProcessUpdates(env, cache)
	require.NoError(t, err)
	require.Empty(t, result)
	require.Equal(t, int32(100), mb.state[EntryAccount].Pts)
}

func TestProcessUpdatesBuffersPossibleGapThenResolves(t *testing.T) {
	now := time.Now()
	mb := newTestBox(now)
	cache := peerhash.New(1, false)

	ahead := testUpdate{id: "ahead", entry: EntryAccount, pts: 103, ptsCount: 1}
	result, _, _, err := mb.ProcessUpdates(Updates{List: []Update{ahead}}, cache)
	require.NoError(t, err)
	require.Empty(t, result)
	require.Contains(t, mb.possibleGaps, EntryAccount)
	require.Equal(t, int32(100), mb.state[EntryAccount].Pts)

	missing := testUpdate{id: "missing", entry: EntryAccount, pts: 102, ptsCount: 1}
	bridge := testUpdate{id: "bridge", entry: EntryAccount, pts: 101, ptsCount: 1}
	result, _, _, err = mb.ProcessUpdates(Updates{List: []Update{missing, bridge}}, cache)
	require.NoError(t, err)
	require.Equal(t, int32(103), mb.state[EntryAccount].Pts)
	require.Len(t, result, 3) // bridge, missing, then the just-resolved "ahead"
	require.NotContains(t, mb.possibleGaps, EntryAccount)
}

func TestProcessUpdatesSeqGapRaisesGap(t *testing.T) {
	now := time.Now()
	mb := newTestBox(now)
	mb.seq = 5
	cache := peerhash.New(1, false)

	_, _, _, err := mb.ProcessUpdates(Updates{List: nil, Seq: 10}, cache)
	require.True(t, errors.Is(err, Gap))
	require.True(t, mb.gettingDiffFor[EntryAccount])
}

func TestProcessUpdatesStaleSeqDropsSilently(t *testing.T) {
	now := time.Now()
	mb := newTestBox(now)
	mb.seq = 10
	cache := peerhash.New(1, false)

	result, _, _, err := mb.ProcessUpdates(Updates{List: nil, Seq: 3}, cache)
	require.NoError(t, err)
	require.Empty(t, result)
}

func TestCheckDeadlinesEscalatesExpiredEntry(t *testing.T) {
	now := time.Now()
	mb := New(fixedClock(now))
	mb.state[EntryAccount] = &State{Pts: 1, Deadline: now.Add(-time.Second)}
	mb.nextDeadline = EntryAccount
	mb.haveNext = true

	deadline := mb.CheckDeadlines()
	require.False(t, now.Before(deadline))
	require.True(t, mb.gettingDiffFor[EntryAccount])
}

func TestGetDifferenceBuildsRequestForAccount(t *testing.T) {
	now := time.Now()
	mb := newTestBox(now)
	mb.gettingDiffFor[EntryAccount] = true

	req := mb.GetDifference()
	require.NotNil(t, req)
	require.Equal(t, int32(100), req.Pts)
}

func TestGetDifferenceNilWhenNothingPending(t *testing.T) {
	now := time.Now()
	mb := newTestBox(now)
	require.Nil(t, mb.GetDifference())
}

func TestApplyDifferenceEmptyEndsFetch(t *testing.T) {
	now := time.Now()
	mb := newTestBox(now)
	mb.gettingDiffFor[EntryAccount] = true

	_, _, _, err := mb.ApplyDifference(DifferenceEmpty{Date: 42, Seq: 7}, peerhash.New(1, false))
	require.NoError(t, err)
	require.False(t, mb.gettingDiffFor[EntryAccount])
	require.Equal(t, int32(7), mb.seq)
}

func TestSessionStateRoundTrip(t *testing.T) {
	now := time.Now()
	mb := newTestBox(now)
	mb.state[EntrySecret] = &State{Pts: 5, Deadline: now}
	mb.state[Entry(555)] = &State{Pts: 9, Deadline: now}
	mb.seq = 3

	snap := mb.SessionState()
	require.Equal(t, int32(100), snap.Pts)
	require.Equal(t, int32(5), snap.Qts)
	require.Equal(t, int32(3), snap.Seq)
	require.Len(t, snap.Channels, 1)
	require.Equal(t, int64(555), snap.Channels[0].ID)

	mb2 := New(fixedClock(now))
	mb2.Load(snap)
	require.Equal(t, int32(100), mb2.state[EntryAccount].Pts)
	require.Equal(t, int32(5), mb2.state[EntrySecret].Pts)
	require.Equal(t, int32(9), mb2.state[Entry(555)].Pts)
}

func TestEnsureKnownPeerHashesGapsOnMissingHash(t *testing.T) {
	now := time.Now()
	mb := newTestBox(now)
	cache := peerhash.New(1, false)

	referencing := testUpdate{entry: EntryAccount, pts: 101, ptsCount: 1}
	env := Updates{List: []Update{referencingWrapper{referencing}}}

	_, err := mb.EnsureKnownPeerHashes(env, cache)
	require.True(t, errors.Is(err, Gap))
	require.True(t, mb.gettingDiffFor[EntryAccount])
}

func TestEndChannelDifferenceBannedForgetsEntryAndHash(t *testing.T) {
	now := time.Now()
	mb := New(fixedClock(now))
	mb.state[Entry(777)] = &State{Pts: 1, Deadline: now.Add(NoUpdatesTimeout)}
	mb.gettingDiffFor[Entry(777)] = true
	cache := peerhash.New(1, false)
	cache.Extend(peerhash.Peer{Kind: peerhash.KindChannel, ID: 777}, 42, true)

	mb.EndChannelDifference(777, Banned, cache)

	_, stillTracked := mb.state[Entry(777)]
	require.False(t, stillTracked)
	require.False(t, cache.Resolvable(peerhash.Peer{Kind: peerhash.KindChannel, ID: 777}))
}

type referencingWrapper struct{ testUpdate }

func (r referencingWrapper) ReferencedPeers() []peerhash.Peer {
	return []peerhash.Peer{{Kind: peerhash.KindUser, ID: 999}}
}
