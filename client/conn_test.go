package client

import (
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/telemtx/mtproto/mtperrors"
	"github.com/telemtx/mtproto/mtproto"
	wcrypto "github.com/telemtx/mtproto/wire/crypto"
)

// newTestConn builds a *Conn around a real *mtproto.Session but with no
// backing socket, for tests that exercise handleIncoming directly.
func newTestConn(t *testing.T) *Conn {
	t.Helper()
	key := make([]byte, 256)
	_, err := rand.Read(key)
	require.NoError(t, err)

	sess := mtproto.NewSession(wcrypto.NewAuthKey(key), 1, 0, 1, time.Now, rand.Reader)
	return &Conn{
		sess:           sess,
		log:            log.NewWithOptions(io.Discard, log.Options{}),
		pendingByMsgID: make(map[int64]*request),
		pendingPings:   make(map[int64]*pingRequest),
		migrateCh:      make(chan int32, 1),
	}
}

func TestHandleIncomingBadSequenceResetsSessionAndResendsRequest(t *testing.T) {
	c := newTestConn(t)

	body := []byte("some request body")
	oldMsgID, ok := c.sess.Push(body)
	require.True(t, ok)
	req := newRequest(body)
	req.msgID = oldMsgID
	req.state = Sent
	c.pendingByMsgID[oldMsgID] = req
	oldSessionID := c.sess.SessionID

	des := &mtproto.Deserialized{
		RPCResults:  map[int64][]byte{},
		BadMessages: []*mtperrors.BadMessageError{{Code: 32, BadMsgID: oldMsgID}},
	}
	c.handleIncoming(des)

	require.NotEqual(t, oldSessionID, c.sess.SessionID)
	require.NotContains(t, c.pendingByMsgID, oldMsgID)

	require.Equal(t, Serialized, req.state)
	require.NotZero(t, req.msgID)
	require.NotEqual(t, oldMsgID, req.msgID)
	resent, ok := c.pendingByMsgID[req.msgID]
	require.True(t, ok)
	require.Same(t, req, resent)
}

func TestHandleIncomingTimeSyncResendsWithoutSessionReset(t *testing.T) {
	c := newTestConn(t)

	body := []byte("another request body")
	oldMsgID, ok := c.sess.Push(body)
	require.True(t, ok)
	req := newRequest(body)
	req.msgID = oldMsgID
	req.state = Sent
	c.pendingByMsgID[oldMsgID] = req
	oldSessionID := c.sess.SessionID

	des := &mtproto.Deserialized{
		RPCResults:  map[int64][]byte{},
		BadMessages: []*mtperrors.BadMessageError{{Code: 17, BadMsgID: oldMsgID}},
	}
	c.handleIncoming(des)

	require.Equal(t, oldSessionID, c.sess.SessionID)
	require.NotContains(t, c.pendingByMsgID, oldMsgID)

	require.Equal(t, Serialized, req.state)
	require.NotEqual(t, oldMsgID, req.msgID)
	_, ok = c.pendingByMsgID[req.msgID]
	require.True(t, ok)
}
