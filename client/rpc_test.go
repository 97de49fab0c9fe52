package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telemtx/mtproto/tl"
)

func TestEncodePingRoundTrips(t *testing.T) {
	body := encodePing(-1234567890123456)

	r := tl.NewReader(body)
	ctor, err := r.UInt()
	require.NoError(t, err)
	require.Equal(t, ctorPing, ctor)

	pingID, err := r.Long()
	require.NoError(t, err)
	require.Equal(t, int64(-1234567890123456), pingID)
}

func TestDecodeRPCErrorExtractsTrailingValue(t *testing.T) {
	w := tl.NewWriter(16)
	w.UInt(ctorRPCError)
	w.Int(420)
	w.String("FLOOD_WAIT_17")

	rpcErr, ok := decodeRPCError(w.Bytes())
	require.True(t, ok)
	require.Equal(t, int32(420), rpcErr.Code)
	require.Equal(t, "FLOOD_WAIT_17", rpcErr.Name)
	require.Equal(t, int64(17), rpcErr.Value)
}

func TestDecodeRPCErrorRejectsNonErrorBody(t *testing.T) {
	w := tl.NewWriter(16)
	w.UInt(ctorPingDelayDisconnect)
	w.ULong(1)
	w.Int(75)

	_, ok := decodeRPCError(w.Bytes())
	require.False(t, ok)
}
