// Package transport implements the MTProto transport framing layer (C1):
// a pure discipline for delimiting byte-stream frames, independent of
// encryption or message semantics. The incremental Unpack contract mirrors
// the katzenpost wire layer's handling of partial reads off a net.Conn in
// client2/connection.go, generalized to three Telegram framing variants.
package transport

import "github.com/telemtx/mtproto/mtperrors"

// Transport packs payloads into self-delimited frames and parses them back
// out of a byte stream that may arrive in arbitrary read-sized chunks.
type Transport interface {
	// Pack appends a framed copy of payload to dst and returns the result.
	Pack(dst []byte, payload []byte) []byte

	// Unpack examines the prefix of buf. On success it returns the number
	// of bytes consumed and the deframed payload. If buf does not yet
	// contain a complete frame, it returns a *mtperrors.MissingBytesError
	// indicating how many more bytes are required. If the server sent a
	// transport-level status code in place of a frame, it returns a
	// *mtperrors.BadStatusError.
	Unpack(buf []byte) (consumed int, payload []byte, err error)
}

// errMissing is a small helper so callers can type-assert without
// depending on the exact mtperrors constructor signature.
func errMissing(n int) error { return &mtperrors.MissingBytesError{N: n} }

func errBadStatus(code int32) error { return &mtperrors.BadStatusError{Code: code} }
