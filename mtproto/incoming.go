package mtproto

import (
	"bytes"
	"compress/gzip"
	"io"
	"sort"

	"github.com/telemtx/mtproto/mtperrors"
	"github.com/telemtx/mtproto/tl"
)

// NewSessionCreated carries the fields of a new_session_created
// notification: the server tells the client its previous session (if any)
// is gone and hands over a fresh salt.
type NewSessionCreated struct {
	FirstMsgID int64
	UniqueID   int64
	ServerSalt int64
}

// Deserialized is everything Deserialize extracted from one decrypted wire
// message, which may itself have been a msg_container bundling many.
type Deserialized struct {
	RPCResults     map[int64][]byte // req_msg_id -> result body (still possibly gzip-wrapped content, already unwrapped here)
	Acks           []int64          // msg_ids the peer says it has processed
	BadMessages    []*mtperrors.BadMessageError
	NewSession     *NewSessionCreated
	Pongs          []int64  // ping_ids
	UpdatePayloads [][]byte // raw ctor+body for anything not handled above (forwarded to the updates package)
}

// Deserialize decrypts one transport-delivered frame and dispatches every
// message it contains (recursing through msg_container and gzip_packed),
// updating session bookkeeping (salts, acks, time offset) as a side
// effect.
func (s *Session) Deserialize(ciphertext []byte) (*Deserialized, error) {
	plaintext, err := s.AuthKey.DecryptDataV2(ciphertext)
	if err != nil {
		return nil, err
	}
	if len(plaintext) < 32 {
		return nil, mtperrors.NewTransportError("mtproto: decrypted message too short")
	}

	// plaintext: salt(8) session_id(8) msg_id(8) seq_no(4) length(4) body(length)
	sessionID := int64(leUint64(plaintext[8:16]))
	if sessionID != s.SessionID {
		return nil, mtperrors.NewTransportError("mtproto: session id mismatch")
	}
	msgID := int64(leUint64(plaintext[16:24]))
	seqNo := int32(leUint32(plaintext[24:28]))
	length := int32(leUint32(plaintext[28:32]))
	if int(32+length) > len(plaintext) {
		return nil, mtperrors.NewTransportError("mtproto: truncated message body")
	}
	body := plaintext[32 : 32+length]

	out := &Deserialized{RPCResults: make(map[int64][]byte)}
	if err := s.dispatch(msgID, seqNo, body, out); err != nil {
		return out, err
	}
	return out, nil
}

// dispatch handles one [msg_id, seq_no, body] tuple, recursing for
// msg_container and gzip_packed. It appends to out and queues an ack for
// every content-related message it sees (odd seq_no), per MTProto's
// ack-required convention.
func (s *Session) dispatch(msgID int64, seqNo int32, body []byte, out *Deserialized) error {
	if len(body) < 4 {
		return mtperrors.NewTransportError("mtproto: message body too short")
	}
	r := tl.NewReader(body)
	ctor, err := r.UInt()
	if err != nil {
		return err
	}

	contentRelated := seqNo&1 == 1

	switch ctor {
	case ctorMsgContainer:
		count, err := r.Int()
		if err != nil {
			return err
		}
		for i := int32(0); i < count; i++ {
			innerID, err := r.Long()
			if err != nil {
				return err
			}
			innerSeq, err := r.Int()
			if err != nil {
				return err
			}
			innerLen, err := r.Int()
			if err != nil {
				return err
			}
			innerBody, err := r.Raw(int(innerLen))
			if err != nil {
				return err
			}
			if err := s.dispatch(innerID, innerSeq, innerBody, out); err != nil {
				return err
			}
		}
		return nil

	case ctorGzipPacked:
		packed, err := r.StringBytes()
		if err != nil {
			return err
		}
		unpacked, err := gunzip(packed)
		if err != nil {
			return err
		}
		return s.dispatch(msgID, seqNo, unpacked, out)

	case ctorRPCResult:
		reqMsgID, err := r.Long()
		if err != nil {
			return err
		}
		rest, err := unwrapGzip(body[12:])
		if err != nil {
			return err
		}
		out.RPCResults[reqMsgID] = rest
		delete(s.pending, reqMsgID)

	case ctorMsgsAck:
		ids, err := readLongVector(r)
		if err != nil {
			return err
		}
		out.Acks = append(out.Acks, ids...)
		for _, id := range ids {
			delete(s.pending, id)
		}

	case ctorBadMsgNotification:
		badMsgID, err := r.Long()
		if err != nil {
			return err
		}
		if _, err := r.Int(); err != nil { // bad_msg_seqno, unused beyond diagnostics
			return err
		}
		errCode, err := r.Int()
		if err != nil {
			return err
		}
		bad := &mtperrors.BadMessageError{Code: errCode, BadMsgID: badMsgID}
		out.BadMessages = append(out.BadMessages, bad)
		delete(s.pending, badMsgID) // superseded by whatever the caller resends it as
		if bad.IsTimeSync() {
			s.correctTimeOffsetFrom(badMsgID)
		}

	case ctorBadServerSalt:
		badMsgID, err := r.Long()
		if err != nil {
			return err
		}
		if _, err := r.Int(); err != nil {
			return err
		}
		errCode, err := r.Int()
		if err != nil {
			return err
		}
		newSalt, err := r.Long()
		if err != nil {
			return err
		}
		out.BadMessages = append(out.BadMessages, &mtperrors.BadMessageError{Code: errCode, BadMsgID: badMsgID})
		s.salts = []saltEntry{{salt: newSalt}}

	case ctorNewSessionCreated:
		firstMsgID, err := r.Long()
		if err != nil {
			return err
		}
		uniqueID, err := r.Long()
		if err != nil {
			return err
		}
		serverSalt, err := r.Long()
		if err != nil {
			return err
		}
		out.NewSession = &NewSessionCreated{FirstMsgID: firstMsgID, UniqueID: uniqueID, ServerSalt: serverSalt}
		s.salts = []saltEntry{{salt: serverSalt}}

	case ctorFutureSalts:
		if _, err := r.Long(); err != nil { // req_msg_id
			return err
		}
		if _, err := r.Int(); err != nil { // now
			return err
		}
		count, err := r.Int()
		if err != nil {
			return err
		}
		salts := make([]saltEntry, 0, count)
		for i := int32(0); i < count; i++ {
			ctor2, err := r.UInt()
			if err != nil {
				return err
			}
			if ctor2 != ctorFutureSalt {
				return mtperrors.NewTransportError("mtproto: unexpected future_salt constructor %#x", ctor2)
			}
			since, err := r.Int()
			if err != nil {
				return err
			}
			until, err := r.Int()
			if err != nil {
				return err
			}
			salt, err := r.Long()
			if err != nil {
				return err
			}
			salts = append(salts, saltEntry{validSince: since, validUntil: until, salt: salt})
		}
		sort.Slice(salts, func(i, j int) bool { return salts[i].validSince < salts[j].validSince })
		s.salts = salts
		s.awaitingFutureSalts = false

	case ctorPong:
		if _, err := r.Long(); err != nil { // msg_id being ponged
			return err
		}
		pingID, err := r.Long()
		if err != nil {
			return err
		}
		out.Pongs = append(out.Pongs, pingID)

	default:
		// Everything else (updates*, and any future rpc-adjacent
		// constructor this layer does not need to understand) is handed
		// up whole: the updates sequencer owns parsing update envelopes.
		out.UpdatePayloads = append(out.UpdatePayloads, body)
	}

	if contentRelated {
		s.pendingIncomingAcks = append(s.pendingIncomingAcks, msgID)
	}
	return nil
}

// correctTimeOffsetFrom derives a corrected time offset from a server
// message id carrying the authoritative clock, per bad_msg_notification
// codes 16/17's self-healing rule.
func (s *Session) correctTimeOffsetFrom(serverMsgID int64) {
	serverSeconds := serverMsgID >> 32
	nowSeconds := s.Now().Unix()
	s.timeOffset = serverSeconds - nowSeconds
	s.lastMsgID = 0
}

func unwrapGzip(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return body, nil
	}
	if leUint32(body[:4]) != ctorGzipPacked {
		return body, nil
	}
	r := tl.NewReader(body[4:])
	packed, err := r.StringBytes()
	if err != nil {
		return nil, err
	}
	return gunzip(packed)
}

func gunzip(packed []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// readLongVector reads a bare vector of int64, as used by msgs_ack.
func readLongVector(r *tl.Reader) ([]int64, error) {
	ctor, err := r.UInt()
	if err != nil {
		return nil, err
	}
	if ctor != ctorVector {
		return nil, mtperrors.NewTransportError("mtproto: expected vector constructor, got %#x", ctor)
	}
	count, err := r.Int()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, count)
	for i := int32(0); i < count; i++ {
		v, err := r.Long()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
