// Package client implements the sender/connection loop (C5): it drives
// the authorization-key handshake to bootstrap a session, owns the
// per-datacenter *Conn, and follows migrate_to RPC errors to a new
// datacenter by rebuilding the connection rather than patching it in
// place — the same "tear down and redial" discipline the teacher's
// client2/connection.go uses for every reconnect.
package client

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/telemtx/mtproto/authkey"
	"github.com/telemtx/mtproto/dcs"
	"github.com/telemtx/mtproto/mtperrors"
	"github.com/telemtx/mtproto/mtproto"
	"github.com/telemtx/mtproto/wire/transport"
)

// Client is a single logical connection to Telegram: it holds the
// current datacenter's *Conn and replaces it wholesale on migration.
type Client struct {
	rsaKeys   dcs.RSAKeys
	transport func() transport.Transport
	metrics   *Metrics
	log       *log.Logger

	mu      sync.Mutex
	dcID    int32
	sess    *mtproto.Session
	conn    *Conn
	sessID  int64
}

// Option configures a Client at construction.
type Option func(*Client)

// WithMetrics registers Prometheus counters/gauges on the client.
func WithMetrics(m *Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithTransport overrides the default intermediate transport (full, with
// a CRC per frame, and abridged, with less overhead, are also available
// in wire/transport).
func WithTransport(newT func() transport.Transport) Option {
	return func(c *Client) { c.transport = newT }
}

// New creates a Client using the given RSA key table (see
// dcs.DefaultRSAKeys) but does not connect; call Connect to bootstrap.
func New(keys dcs.RSAKeys, opts ...Option) *Client {
	c := &Client{
		rsaKeys:   keys,
		transport: func() transport.Transport { return transport.NewIntermediate() },
		log:       log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "client"}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect bootstraps a fresh authorization key against dcID (falling
// back to dcs.Default when dcID is 0) and starts the connection loop.
func (c *Client) Connect(ctx context.Context, dcID int32, testMode bool) error {
	if dcID == 0 {
		dcID = dcs.Default
	}
	return c.bootstrap(ctx, dcID, testMode)
}

func (c *Client) bootstrap(ctx context.Context, dcID int32, testMode bool) error {
	dc, ok := dcs.ByID(dcID)
	if !ok {
		return mtperrors.NewPKIError("unknown datacenter %d", dcID)
	}
	addr := dc.Addr(testMode)
	tr := c.transport()

	plain, err := dialPlain(ctx, addr, tr)
	if err != nil {
		return err
	}
	defer plain.Close()

	deadline := time.Now().Add(30 * time.Second)

	req1, s1, err := authkey.Step1(rand.Reader)
	if err != nil {
		return mtperrors.NewHandshakeError("step1: %v", err)
	}
	resp1, err := plain.RoundTrip(deadline, req1)
	if err != nil {
		return err
	}

	req2, s2, err := authkey.Step2(s1, resp1, rand.Reader, c.rsaKeys)
	if err != nil {
		return mtperrors.NewHandshakeError("step2: %v", err)
	}
	resp2, err := plain.RoundTrip(deadline, req2)
	if err != nil {
		return err
	}

	req3, s3, err := authkey.Step3(s2, resp2, rand.Reader, time.Now())
	if err != nil {
		return mtperrors.NewHandshakeError("step3: %v", err)
	}
	resp3, err := plain.RoundTrip(deadline, req3)
	if err != nil {
		return err
	}

	created, err := authkey.CreateKey(s3, resp3)
	if err != nil {
		return mtperrors.NewHandshakeError("create_key: %v", err)
	}

	sessID, err := randomSessionID()
	if err != nil {
		return err
	}

	sess := mtproto.NewSession(created.AuthKey, sessID, created.TimeOffset, created.FirstSalt, time.Now, rand.Reader)
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

// Go runs fn in a plain goroutine that the Client neither tracks nor
// waits for; migration-watching outlives any single Invoke call so it
// does not fit the request/response halter pattern Conn uses.
func (c *Client) Go(fn func()) {
	go fn()
}

func (c *Client) watchMigration(conn *Conn, testMode bool) {
	select {
	case dcID := <-conn.MigrateCh():
		c.log.Infof("migrating to DC %d", dcID)
		if c.metrics != nil {
			c.metrics.migrations.Inc()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.bootstrap(ctx, dcID, testMode); err != nil {
			c.log.Errorf("migration to DC %d failed: %v", dcID, err)
		}
	case <-conn.HaltCh():
	}
}

// Invoke sends body once on the current connection. It does not retry: a
// migrate_to error is returned to the caller as is, while watchMigration
// reconnects to the target datacenter in the background so that later
// calls use the new connection.
func (c *Client) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, mtperrors.ErrNotConnected
	}
	return conn.Invoke(ctx, body)
}

// Ping sends a bare ping on the current connection and returns the
// measured round-trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, mtperrors.ErrNotConnected
	}
	return conn.Ping(ctx)
}

// Close tears down the current connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	if c.metrics != nil {
		c.metrics.activeConns.Set(0)
	}
	return c.conn.Close()
}

func randomSessionID() (int64, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 63))
	if err != nil {
		return 0, fmt.Errorf("client: generating session id: %w", err)
	}
	return n.Int64(), nil
}
