package client

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/telemtx/mtproto/mtperrors"
	"github.com/telemtx/mtproto/wire/transport"
)

// wrapPlain builds the unencrypted envelope MTProto uses only for the
// authorization-key handshake: auth_key_id=0, an 8-byte message id, a
// 4-byte length, then the message itself. Every other message on the
// wire goes through mtproto.Session's encrypted envelope instead.
func wrapPlain(msgID int64, body []byte) []byte {
	out := make([]byte, 0, 20+len(body))
	out = append(out, make([]byte, 8)...) // auth_key_id = 0
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], uint64(msgID))
	out = append(out, idBuf[:]...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out
}

// unwrapPlain strips the plaintext envelope and returns the message body.
func unwrapPlain(data []byte) ([]byte, error) {
	if len(data) < 20 {
		return nil, mtperrors.NewTransportError("mtproto: plaintext envelope too short")
	}
	length := binary.LittleEndian.Uint32(data[16:20])
	if int(20+length) > len(data) {
		return nil, mtperrors.NewTransportError("mtproto: truncated plaintext envelope")
	}
	return data[20 : 20+length], nil
}

// plainRoundTripper drives the handshake's request/response exchange over
// a freshly dialed, still-unencrypted connection: one transport-framed
// plaintext message out, one back. The authorization-key handshake is
// the only consumer; everything afterward speaks through a *Conn.
type plainRoundTripper struct {
	nc        net.Conn
	transport transport.Transport
	nextMsgID int64
}

func dialPlain(ctx context.Context, addr string, tr transport.Transport) (*plainRoundTripper, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, mtperrors.NewTransportError("dial %s: %v", addr, err)
	}
	return &plainRoundTripper{nc: nc, transport: tr}, nil
}

func (p *plainRoundTripper) Close() error { return p.nc.Close() }

// RoundTrip sends body wrapped in a plaintext envelope and returns the
// deframed, unwrapped response body.
func (p *plainRoundTripper) RoundTrip(deadline time.Time, body []byte) ([]byte, error) {
	p.nextMsgID += 4
	framed := p.transport.Pack(nil, wrapPlain(p.nextMsgID, body))
	if err := p.nc.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := p.nc.Write(framed); err != nil {
		return nil, mtperrors.NewTransportError("write: %v", err)
	}

	buf := make([]byte, 0, 8192)
	tmp := make([]byte, 8192)
	for {
		consumed, payload, err := p.transport.Unpack(buf)
		if err == nil {
			buf = buf[consumed:]
			return unwrapPlain(payload)
		}
		if _, ok := err.(*mtperrors.MissingBytesError); !ok {
			return nil, err
		}
		n, rerr := p.nc.Read(tmp)
		if rerr != nil {
			return nil, mtperrors.NewTransportError("read: %v", rerr)
		}
		buf = append(buf, tmp[:n]...)
	}
}
