package updates

import "github.com/telemtx/mtproto/peerhash"

// Update is any decoded update payload. Variants that participate in
// pts/qts ordering implement PtsInfo; order-free variants (most message
// edits unrelated to a counter, all short-form reconstructions besides
// the synthetic UpdateNewMessage built for them) return ok=false.
type Update interface {
	PtsInfo() (PtsInfo, bool)
}

// PeerEntity is one user/chat/channel seen in an envelope's users/chats
// list, together with the access hash it carries (if any) and whether
// that hash is the server's authoritative ("min"-free) value.
type PeerEntity struct {
	Peer       peerhash.Peer
	AccessHash int64
	Authorized bool
}

// Combined is the canonical shape every incoming envelope is adapted
// into before the sequencer processes it: updates.updatesCombined in the
// wire schema, generalized just enough to also represent updateShort's
// single-update form (SeqStart = NoSeq) and a plain updates.updates batch
// (SeqStart = Seq).
type Combined struct {
	Updates  []Update
	Users    []PeerEntity
	Chats    []PeerEntity
	Date     int32
	SeqStart int32
	Seq      int32
}

// Envelope is any of the seven updates.Updates wire variants. Adapt
// reduces it to the canonical Combined form, or returns Gap for
// updatesTooLong (there is nothing to adapt; the whole batch must be
// recovered via getDifference).
type Envelope interface {
	Adapt() (Combined, error)
}

// Updates is the plain updates.updates constructor: a batch with a
// matching seq_start == seq.
type Updates struct {
	List  []Update
	Users []PeerEntity
	Chats []PeerEntity
	Date  int32
	Seq   int32
}

func (u Updates) Adapt() (Combined, error) {
	return Combined{Updates: u.List, Users: u.Users, Chats: u.Chats, Date: u.Date, SeqStart: u.Seq, Seq: u.Seq}, nil
}

// UpdatesCombinedEnvelope is updates.updatesCombined: already in
// canonical shape, just passed through.
type UpdatesCombinedEnvelope Combined

func (u UpdatesCombinedEnvelope) Adapt() (Combined, error) { return Combined(u), nil }

// UpdatesTooLong signals the server dropped too much to enumerate; the
// only correct response is an immediate full difference fetch.
type UpdatesTooLong struct{}

func (UpdatesTooLong) Adapt() (Combined, error) { return Combined{}, Gap }

// UpdateShort wraps one already-decoded, already order-relevant Update
// (or an order-free one) with no seq information at all.
type UpdateShort struct {
	Update Update
	Date   int32
}

func (u UpdateShort) Adapt() (Combined, error) {
	return Combined{Updates: []Update{u.Update}, Date: u.Date, SeqStart: NoSeq, Seq: NoSeq}, nil
}

// UpdateShortMessage, UpdateShortChatMessage and UpdateShortSentMessage
// are compact single-message notifications the server sends instead of
// a full updateNewMessage. The caller is expected to have already
// reconstructed the synthetic Update (typically an order-preserving
// UpdateNewMessage-equivalent carrying pts/pts_count) before handing it
// to the sequencer — the TL-specific field shuffling the original
// message_box/adaptor.py performs lives in the caller's decode layer,
// not here, since this package does not depend on a concrete TL schema.
type UpdateShortMessage struct {
	Reconstructed Update
	Date          int32
}

func (u UpdateShortMessage) Adapt() (Combined, error) {
	return UpdateShort{Update: u.Reconstructed, Date: u.Date}.Adapt()
}

type UpdateShortChatMessage struct {
	Reconstructed Update
	Date          int32
}

func (u UpdateShortChatMessage) Adapt() (Combined, error) {
	return UpdateShort{Update: u.Reconstructed, Date: u.Date}.Adapt()
}

type UpdateShortSentMessage struct {
	Reconstructed Update
	Date          int32
}

func (u UpdateShortSentMessage) Adapt() (Combined, error) {
	return UpdateShort{Update: u.Reconstructed, Date: u.Date}.Adapt()
}

// ChannelTooLong is updateChannelTooLong: it never carries a PtsInfo of
// its own (apply_pts_info special-cases it before the generic PtsInfo
// extraction), it only ever marks a channel as needing a difference.
type ChannelTooLong struct {
	ChannelID int64
	Pts       int32
	HasPts    bool
}

func (ChannelTooLong) PtsInfo() (PtsInfo, bool) { return PtsInfo{}, false }
