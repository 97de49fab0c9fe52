// Package mtproto implements the per-connection MTP layer: it turns a
// stream of application request bodies into the encrypted wire messages a
// datacenter expects, and turns decrypted wire messages back into RPC
// results and raw update bytes. It owns no socket; the client package
// drives it against a transport.
package mtproto

import (
	"bytes"
	"compress/gzip"
	"io"
	"time"

	"github.com/telemtx/mtproto/tl"
	wcrypto "github.com/telemtx/mtproto/wire/crypto"
)

const (
	// maxContainerBytes is the container limit after subtracting the
	// constructor and vector headers msg_container itself needs.
	maxContainerBytes = 1044448
	maxContainerMsgs  = 100

	ctorMsgContainer        uint32 = 0x73f1f8dc
	ctorRPCResult           uint32 = 0xf35c6d01
	ctorMsgsAck             uint32 = 0x62d6b459
	ctorBadMsgNotification  uint32 = 0xa7eff811
	ctorBadServerSalt       uint32 = 0xedab447b
	ctorNewSessionCreated   uint32 = 0x9ec20908
	ctorFutureSalts         uint32 = 0xae500895
	ctorFutureSalt          uint32 = 0x0949d9dc
	ctorGzipPacked          uint32 = 0x3072cfa1
	ctorPong                uint32 = 0x347773c5
	ctorPingDelayDisconnect uint32 = 0xf3427b8c
	ctorPing                uint32 = 0x7abe77ec
	ctorGetFutureSalts      uint32 = 0xb921bd04
	ctorVector              uint32 = 0x1cb5c415
)

// saltEntry is one entry of the future_salts list: a server salt valid
// from a given time.
type saltEntry struct {
	validSince int32
	validUntil int32
	salt       int64
}

// pendingState tracks an outgoing content-related message this session
// has not yet seen an rpc_result or ack for.
type pendingState struct {
	body           []byte
	contentRelated bool
}

// Session is per-connection MTP state: one per TCP connection to a
// datacenter, rebuilt (not reused) across a migration.
type Session struct {
	AuthKey   *wcrypto.AuthKey
	SessionID int64

	salts []saltEntry

	timeOffset int64
	lastMsgID  int64
	seqCounter int32

	pending map[int64]*pendingState

	pendingIncomingAcks []int64

	buf         []byte
	bufMsgs     int
	msgIDsInBuf []int64

	awaitingFutureSalts bool

	Now  func() time.Time
	Rand io.Reader
}

// NewSession creates per-connection MTP state seeded from a completed
// authorization-key handshake (see the authkey package) or from a
// persisted session (see the session package).
func NewSession(authKey *wcrypto.AuthKey, sessionID int64, timeOffset int64, firstSalt int64, now func() time.Time, rnd io.Reader) *Session {
	return &Session{
		AuthKey:    authKey,
		SessionID:  sessionID,
		timeOffset: timeOffset,
		salts:      []saltEntry{{salt: firstSalt}},
		pending:    make(map[int64]*pendingState),
		Now:        now,
		Rand:       rnd,
	}
}

// ResetSequence regenerates the session_id and zeroes seq_no/msg_id state
// after a bad_msg_notification code 32/33 (bad sequence), matching what a
// brand new connection starts from. The caller is responsible for
// resending anything this session had in flight under the old id.
func (s *Session) ResetSequence() error {
	var idBytes [8]byte
	if _, err := io.ReadFull(s.Rand, idBytes[:]); err != nil {
		return err
	}
	s.SessionID = int64(leUint64(idBytes[:]))
	s.seqCounter = 0
	s.lastMsgID = 0
	return nil
}

func (s *Session) currentSalt() int64 {
	if len(s.salts) == 0 {
		return 0
	}
	// salts is sorted by validSince, oldest first. A newer salt is only
	// used once 60 seconds have passed since its validSince (server time).
	const saltUseDelay = 60
	now := s.Now().Unix() + s.timeOffset
	for i := len(s.salts) - 1; i > 0; i-- {
		if int64(s.salts[i].validSince)+saltUseDelay <= now {
			return s.salts[i].salt
		}
	}
	return s.salts[0].salt
}

// newMsgID mints a message id per MTProto's clock-driven scheme: strictly
// increasing, divisible by 4, tracking the server clock offset.
func (s *Session) newMsgID() int64 {
	nowMillis := s.Now().Add(time.Duration(s.timeOffset) * time.Second).UnixNano()
	candidate := (nowMillis / 1_000_000_000) << 32
	// sub-second fraction folded into the low bits, matching
	// floor((now+offset) * 2^32).
	fraction := nowMillis % 1_000_000_000
	candidate += (fraction << 32) / 1_000_000_000
	candidate &^= 3 // divisible by 4

	if candidate <= s.lastMsgID {
		candidate = s.lastMsgID + 4
	}
	s.lastMsgID = candidate
	return candidate
}

// newSeqNo returns the seq_no for a message and advances the internal
// counter when the message is content-related, per MTProto's odd/even
// ack-required convention.
func (s *Session) newSeqNo(contentRelated bool) int32 {
	n := s.seqCounter * 2
	if contentRelated {
		n++
		s.seqCounter++
	}
	return n
}

// Push enqueues a content-related request body into the pending
// container. It returns the minted msg_id, or ok=false if the container
// is full or a future_salts request is currently outstanding (so this
// request cannot be swept up into a container that might itself trigger
// bad_msg_notification before the salt refresh completes).
func (s *Session) Push(body []byte) (msgID int64, ok bool) {
	if s.awaitingFutureSalts {
		return 0, false
	}
	body = maybeCompress(body)

	if s.bufMsgs >= maxContainerMsgs {
		return 0, false
	}

	const perMsgOverhead = 8 + 4 + 4 // msg_id + seq_no + length prefix
	projected := len(s.buf) + perMsgOverhead + len(body)
	if projected > maxContainerBytes {
		return 0, false
	}

	id := s.newMsgID()
	seqNo := s.newSeqNo(true)

	var hdr [16]byte
	putInt64(hdr[0:8], id)
	putInt32(hdr[8:12], seqNo)
	putInt32(hdr[12:16], int32(len(body)))
	s.buf = append(s.buf, hdr[:]...)
	s.buf = append(s.buf, body...)

	s.bufMsgs++
	s.msgIDsInBuf = append(s.msgIDsInBuf, id)
	s.pending[id] = &pendingState{body: body, contentRelated: true}

	if len(s.salts) <= 1 && !s.awaitingFutureSalts {
		s.enqueueFutureSaltsLocked()
	}

	return id, true
}

// enqueueFutureSaltsLocked pushes a get_future_salts(num=64) request
// directly, bypassing the awaitingFutureSalts gate (which exists to block
// *other* callers, not this one).
func (s *Session) enqueueFutureSaltsLocked() {
	w := tl.NewWriter(8)
	w.UInt(ctorGetFutureSalts)
	w.Int(64)

	id := s.newMsgID()
	seqNo := s.newSeqNo(true)

	var hdr [16]byte
	putInt64(hdr[0:8], id)
	putInt32(hdr[8:12], seqNo)
	putInt32(hdr[12:16], int32(w.Len()))
	s.buf = append(s.buf, hdr[:]...)
	s.buf = append(s.buf, w.Bytes()...)
	s.bufMsgs++
	s.msgIDsInBuf = append(s.msgIDsInBuf, id)
	s.pending[id] = &pendingState{contentRelated: true}

	s.awaitingFutureSalts = true
}

// Finalize drains pending incoming acks and the outgoing buffer into one
// encrypted wire message, ready for the transport to frame. It returns
// nil if there is nothing to send.
func (s *Session) Finalize() ([]byte, error) {
	if len(s.pendingIncomingAcks) > 0 {
		s.appendAcksLocked()
	}

	if s.bufMsgs == 0 {
		return nil, nil
	}

	var plaintext []byte
	if s.bufMsgs == 1 {
		// Drop the container wrapper: the lone message's own
		// [msg_id][seq_no][len][body] already is the body.
		plaintext = s.buf
	} else {
		containerID := s.newMsgID()
		containerSeq := s.newSeqNo(false)

		inner := tl.NewWriter(len(s.buf) + 24)
		inner.UInt(ctorMsgContainer)
		inner.Int(int32(s.bufMsgs))
		inner.Raw(s.buf)

		var hdr [16]byte
		putInt64(hdr[0:8], containerID)
		putInt32(hdr[8:12], containerSeq)
		putInt32(hdr[12:16], int32(inner.Len()))
		plaintext = append(hdr[:], inner.Bytes()...)
	}

	envelope := make([]byte, 0, 16+len(plaintext))
	var saltBuf, sessBuf [8]byte
	putUint64(saltBuf[:], uint64(s.currentSalt()))
	putUint64(sessBuf[:], uint64(s.SessionID))
	envelope = append(envelope, saltBuf[:]...)
	envelope = append(envelope, sessBuf[:]...)
	envelope = append(envelope, plaintext...)

	s.buf = nil
	s.bufMsgs = 0
	s.msgIDsInBuf = nil

	return s.AuthKey.EncryptDataV2(envelope, s.Rand)
}

func (s *Session) appendAcksLocked() {
	w := tl.NewWriter(8 + 8*len(s.pendingIncomingAcks))
	w.UInt(ctorMsgsAck)
	w.Vector(len(s.pendingIncomingAcks), func(i int) {
		w.Long(s.pendingIncomingAcks[i])
	})

	id := s.newMsgID()
	seqNo := s.newSeqNo(false)

	var hdr [16]byte
	putInt64(hdr[0:8], id)
	putInt32(hdr[8:12], seqNo)
	putInt32(hdr[12:16], int32(w.Len()))
	s.buf = append(s.buf, hdr[:]...)
	s.buf = append(s.buf, w.Bytes()...)
	s.bufMsgs++
	s.msgIDsInBuf = append(s.msgIDsInBuf, id)

	s.pendingIncomingAcks = nil
}

// maybeCompress substitutes a gzip_packed wrapper when doing so strictly
// shrinks a request body of at least 512 bytes.
func maybeCompress(body []byte) []byte {
	if len(body) < 512 {
		return body
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return body
	}
	if err := zw.Close(); err != nil {
		return body
	}

	w := tl.NewWriter(buf.Len() + 8)
	w.UInt(ctorGzipPacked)
	w.StringBytes(buf.Bytes())
	if w.Len() >= len(body) {
		return body
	}
	return w.Bytes()
}

func putInt64(b []byte, v int64)  { putUint64(b, uint64(v)) }
func putInt32(b []byte, v int32)  { putUint32(b, uint32(v)) }
func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
