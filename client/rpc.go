package client

import (
	"strconv"
	"strings"

	"github.com/telemtx/mtproto/mtperrors"
	"github.com/telemtx/mtproto/tl"
)

const (
	ctorPing                uint32 = 0x7abe77ec
	ctorPingDelayDisconnect uint32 = 0xf3427b8c
	ctorRPCError            uint32 = 0x2144ca19
)

// encodePing builds a bare ping request. Unlike every other request this
// layer sends, the server answers it with a top-level pong rather than
// an rpc_result-wrapped body, so its reply is routed through
// Conn.pendingPings instead of pendingByMsgID.
func encodePing(pingID int64) []byte {
	w := tl.NewWriter(12)
	w.UInt(ctorPing)
	w.Long(pingID)
	return w.Bytes()
}

// encodePingDelayDisconnect builds a ping_delay_disconnect request, which
// both keeps the socket alive and tells the server how long to wait
// before unilaterally dropping a connection it hasn't heard from.
func encodePingDelayDisconnect(pingID uint64, disconnectDelaySeconds uint32) []byte {
	w := tl.NewWriter(16)
	w.UInt(ctorPingDelayDisconnect)
	w.ULong(pingID)
	w.Int(int32(disconnectDelaySeconds))
	return w.Bytes()
}

// decodeRPCError reports whether body is an rpc_error wrapper and, if so,
// decodes it into a *mtperrors.RPCError.
func decodeRPCError(body []byte) (*mtperrors.RPCError, bool) {
	if len(body) < 4 {
		return nil, false
	}
	r := tl.NewReader(body)
	ctor, err := r.UInt()
	if err != nil || ctor != ctorRPCError {
		return nil, false
	}
	code, err := r.Int()
	if err != nil {
		return nil, false
	}
	name, err := r.String()
	if err != nil {
		return nil, false
	}
	// Telegram embeds a numeric payload (flood-wait seconds, migrate
	// target DC id, ...) as a trailing "_<digits>" suffix on the error
	// name rather than as a separate wire field.
	var value int64
	if idx := strings.LastIndexByte(name, '_'); idx != -1 {
		if n, convErr := strconv.ParseInt(name[idx+1:], 10, 64); convErr == nil {
			value = n
		}
	}
	return &mtperrors.RPCError{Code: code, Name: name, Value: value, CausedBy: 0}, true
}
