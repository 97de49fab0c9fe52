package client

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/telemtx/mtproto/dcs"
	"github.com/telemtx/mtproto/mtperrors"
	"github.com/telemtx/mtproto/mtproto"
	"github.com/telemtx/mtproto/session"
	wcrypto "github.com/telemtx/mtproto/wire/crypto"
)

// ConnectWithStorage resumes the authorization key storage has on file
// for dcID, skipping the handshake entirely, and falls back to a fresh
// Connect (saving its result back to storage) when storage has none.
func (c *Client) ConnectWithStorage(ctx context.Context, storage session.Storage, dcID int32, testMode bool) error {
	if dcID == 0 {
		dcID = dcs.Default
	}

	saved, err := storage.Load()
	if err != nil {
		return err
	}
	for _, dc := range saved.DCs {
		if dc.ID == dcID && len(dc.AuthKey) > 0 {
			return c.resume(ctx, dcID, testMode, dc.AuthKey)
		}
	}

	if err := c.bootstrap(ctx, dcID, testMode); err != nil {
		return err
	}
	return c.SaveTo(storage)
}

// resume rebuilds a connection from a previously persisted authorization
// key, bypassing authkey.Step1..CreateKey. A fresh session_id is still
// generated; the server answers with new_session_created the way it
// would for any new connection against an existing key.
func (c *Client) resume(ctx context.Context, dcID int32, testMode bool, rawKey []byte) error {
	dc, ok := dcs.ByID(dcID)
	if !ok {
		return mtperrors.NewPKIError("unknown datacenter %d", dcID)
	}
	addr := dc.Addr(testMode)

	sessID, err := randomSessionID()
	if err != nil {
		return err
	}

	keyCopy := append([]byte(nil), rawKey...)
	authKey := wcrypto.NewAuthKey(keyCopy)
	sess := mtproto.NewSession(authKey, sessID, 0, 0, time.Now, rand.Reader)

	conn, err := DialConn(ctx, addr, c.transport(), sess, c.metrics)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.dcID = dcID
	c.sess = sess
	c.sessID = sessID
	c.conn = conn
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.activeConns.Set(1)
	}
	c.Go(func() { c.watchMigration(conn, testMode) })
	return nil
}

// SaveTo writes the client's current datacenter and authorization key to
// storage, merging with (rather than discarding) whatever else storage
// already holds for other datacenters.
func (c *Client) SaveTo(storage session.Storage) error {
	c.mu.Lock()
	dcID, sess := c.dcID, c.sess
	c.mu.Unlock()
	if sess == nil {
		return mtperrors.ErrNotConnected
	}

	saved, err := storage.Load()
	if err != nil {
		return err
	}

	dc, _ := dcs.ByID(dcID)
	entry := session.DataCenter{ID: dcID, Addr: dc.Addr(false), AuthKey: sess.AuthKey.Export()}

	replaced := false
	for i := range saved.DCs {
		if saved.DCs[i].ID == dcID {
			saved.DCs[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		saved.DCs = append(saved.DCs, entry)
	}
	return storage.Save(saved)
}
