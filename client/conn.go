package client

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/telemtx/mtproto/mtperrors"
	"github.com/telemtx/mtproto/mtproto"
	"github.com/telemtx/mtproto/wire/transport"
)

const (
	// pingInterval is how often an idle connection pings the server to
	// detect a dead socket before the OS notices.
	pingInterval = 20 * time.Second
	// disconnectDelay is how long the server is told to wait, after a
	// ping, before it may drop the connection on its own.
	disconnectDelay = 75 * time.Second
	// rearmDelay bounds how often a fresh ping_delay_disconnect is sent;
	// re-pinging every flush would be wasteful.
	rearmDelay = 60 * time.Second
	// flushInterval batches back-to-back Invoke calls into one
	// container instead of writing a frame per request.
	flushInterval = 10 * time.Millisecond
)

// Conn owns one MTP session bound to one TCP connection to a single
// datacenter. It is not reused across a migration: Client.watchMigration tears
// one down and builds a fresh one, the way the teacher's connection.go
// rebuilds its wire.Session per dial rather than resetting it in place.
type Conn struct {
	*halter

	addr      string
	transport transport.Transport
	netConn   net.Conn
	sess      *mtproto.Session
	log       *log.Logger
	metrics   *Metrics

	mu             sync.Mutex
	pendingByMsgID map[int64]*request
	pendingPings   map[int64]*pingRequest
	lastPingSent   time.Time

	sendCh    chan *request
	pingCh    chan *pingRequest
	readCh    chan readResult
	migrateCh chan int32
}

// pingRequest is an explicit, caller-initiated ping (as opposed to the
// automatic ping_delay_disconnect keepalive): its reply is a bare pong,
// never an rpc_result, so it is tracked separately from pendingByMsgID.
type pingRequest struct {
	pingID   int64
	sentAt   time.Time
	resultCh chan pingResult
}

type pingResult struct {
	rtt time.Duration
	err error
}

type readResult struct {
	des *mtproto.Deserialized
	err error
}

// DialConn dials addr, wraps the connection in tr's framing, and starts
// the event loop driving sess over it. The caller must already have
// completed (or be about to complete, for the plaintext bootstrap phase)
// the authorization-key handshake that seeded sess.
func DialConn(ctx context.Context, addr string, tr transport.Transport, sess *mtproto.Session, metrics *Metrics) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, mtperrors.NewTransportError("dial %s: %v", addr, err)
	}

	c := &Conn{
		halter:         newHalter(),
		addr:           addr,
		transport:      tr,
		netConn:        nc,
		sess:           sess,
		log:            log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "client/conn"}),
		metrics:        metrics,
		pendingByMsgID: make(map[int64]*request),
		pendingPings:   make(map[int64]*pingRequest),
		sendCh:         make(chan *request),
		pingCh:         make(chan *pingRequest),
		readCh:         make(chan readResult, 8),
		migrateCh:      make(chan int32, 1),
	}
	c.Go(c.readLoop)
	c.Go(c.eventLoop)
	return c, nil
}

// MigrateCh emits a target DC id whenever an RPC result carries a
// migrate_to error, for the owning Client to act on.
func (c *Conn) MigrateCh() <-chan int32 { return c.migrateCh }

// Close halts the event and read loops and closes the socket.
func (c *Conn) Close() error {
	c.Halt()
	err := c.netConn.Close()
	c.Wait()
	return err
}

// Invoke sends body as a new content-related request and blocks for its
// rpc_result (or ctx cancellation).
func (c *Conn) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	req := newRequest(body)
	select {
	case c.sendCh <- req:
	case <-c.HaltCh():
		return nil, mtperrors.ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.resultCh:
		return res.body, res.err
	case <-c.HaltCh():
		return nil, mtperrors.ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping sends a bare ping request and blocks until the matching pong
// arrives, returning the round-trip time.
func (c *Conn) Ping(ctx context.Context) (time.Duration, error) {
	var idBytes [8]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return 0, err
	}
	req := &pingRequest{pingID: leInt64(idBytes[:]), resultCh: make(chan pingResult, 1)}
	select {
	case c.pingCh <- req:
	case <-c.HaltCh():
		return 0, mtperrors.ErrShutdown
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-req.resultCh:
		return res.rtt, res.err
	case <-c.HaltCh():
		return 0, mtperrors.ErrShutdown
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Conn) readLoop() {
	defer close(c.readCh)
	buf := make([]byte, 0, 65536)
	tmp := make([]byte, 32768)
	for {
		n, err := c.netConn.Read(tmp)
		if err != nil {
			select {
			case c.readCh <- readResult{err: mtperrors.NewTransportError("read: %v", err)}:
			case <-c.HaltCh():
			}
			return
		}
		buf = append(buf, tmp[:n]...)

		for {
			consumed, payload, err := c.transport.Unpack(buf)
			if err != nil {
				if _, ok := err.(*mtperrors.MissingBytesError); ok {
					break
				}
				select {
				case c.readCh <- readResult{err: err}:
				case <-c.HaltCh():
				}
				return
			}
			buf = buf[consumed:]

			des, derr := c.sess.Deserialize(payload)
			select {
			case c.readCh <- readResult{des: des, err: derr}:
			case <-c.HaltCh():
				return
			}
		}
	}
}

// eventLoop is the connection's single-threaded owner: every mutation of
// sess and the pending-request tables happens here, so nothing needs
// locking except the handoff channels themselves. Each iteration either
// accepts a new request, ingests a deserialized frame, or services the
// flush/ping/disconnect timers.
func (c *Conn) eventLoop() {
	flushTimer := time.NewTimer(flushInterval)
	defer flushTimer.Stop()
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	pendingFlush := false

	for {
		select {
		case <-c.HaltCh():
			return

		case req := <-c.sendCh:
			msgID, ok := c.sess.Push(req.body)
			if !ok {
				c.log.Warnf("request %s dropped, container full", req.id)
				req.resultCh <- requestResult{err: fmt.Errorf("client: request dropped, container full")}
				continue
			}
			req.state = Serialized
			req.msgID = msgID
			c.pendingByMsgID[msgID] = req
			pendingFlush = true

		case pr := <-c.pingCh:
			if _, ok := c.sess.Push(encodePing(pr.pingID)); !ok {
				pr.resultCh <- pingResult{err: fmt.Errorf("client: ping dropped, container full")}
				continue
			}
			pr.sentAt = time.Now()
			c.pendingPings[pr.pingID] = pr
			pendingFlush = true

		case rr, ok := <-c.readCh:
			if !ok {
				return
			}
			if rr.err != nil {
				c.failAllPending(rr.err)
				return
			}
			if c.metrics != nil {
				c.metrics.framesReceived.Inc()
			}
			c.handleIncoming(rr.des)
			if len(rr.des.Acks) > 0 || rr.des.NewSession != nil || len(rr.des.BadMessages) > 0 {
				pendingFlush = true
			}

		case <-flushTimer.C:
			if pendingFlush {
				c.flush()
				pendingFlush = false
			}
			flushTimer.Reset(flushInterval)
			continue

		case <-pingTicker.C:
			c.sendPingDelayDisconnect()
			pendingFlush = true
		}

		if pendingFlush && !flushTimer.Stop() {
			select {
			case <-flushTimer.C:
			default:
			}
		}
		if pendingFlush {
			flushTimer.Reset(flushInterval)
		}
	}
}

func (c *Conn) flush() {
	wire, err := c.sess.Finalize()
	if err != nil {
		c.failAllPending(err)
		return
	}
	if wire == nil {
		return
	}
	framed := c.transport.Pack(nil, wire)
	if _, err := c.netConn.Write(framed); err != nil {
		c.failAllPending(mtperrors.NewTransportError("write: %v", err))
		return
	}
	if c.metrics != nil {
		c.metrics.framesSent.Inc()
	}
	for _, req := range c.pendingByMsgID {
		if req.state == Serialized {
			req.state = Sent
		}
	}
}

func (c *Conn) sendPingDelayDisconnect() {
	if time.Since(c.lastPingSent) < rearmDelay {
		return
	}
	c.lastPingSent = time.Now()

	var pingID [8]byte
	_, _ = rand.Read(pingID[:])
	body := encodePingDelayDisconnect(leUint64(pingID[:]), uint32(disconnectDelay/time.Second))
	if _, ok := c.sess.Push(body); !ok {
		c.log.Warnf("ping dropped, container full")
	}
}

// handleIncoming reconciles one deserialized frame's contents against the
// pending-request tables: delivering rpc_result bodies (an rpc_error is
// tagged with the request's constructor id), answering explicit pings,
// resending or failing requests named by bad_msg_notification, and
// surfacing migrate_to RPC errors on MigrateCh.
func (c *Conn) handleIncoming(des *mtproto.Deserialized) {
	for reqMsgID, body := range des.RPCResults {
		req, ok := c.pendingByMsgID[reqMsgID]
		if !ok {
			continue
		}
		delete(c.pendingByMsgID, reqMsgID)

		if rpcErr, isErr := decodeRPCError(body); isErr {
			if len(req.body) >= 4 {
				rpcErr.CausedBy = uint32(leUint64(req.body[:4]))
			}
			if dcID, migrate := rpcErr.IsMigrate(); migrate {
				select {
				case c.migrateCh <- dcID:
				default:
				}
			}
			req.resultCh <- requestResult{err: rpcErr}
			continue
		}
		req.resultCh <- requestResult{body: body}
	}

	for _, pingID := range des.Pongs {
		pr, ok := c.pendingPings[pingID]
		if !ok {
			continue // our own ping_delay_disconnect keepalive has no waiter
		}
		delete(c.pendingPings, pingID)
		pr.resultCh <- pingResult{rtt: time.Since(pr.sentAt)}
	}

	// bad_msg_notification: codes 16/17 are self-healing (the time offset
	// correction already happened in Session.Deserialize) but still need
	// their originating request resent under a fresh msg_id; codes 32/33
	// additionally invalidate the whole session's id/sequence state, and
	// bad_server_salt (48) is resent as well. Any other code fails the
	// request with the BadMessageError itself.
	for _, bad := range des.BadMessages {
		req, ok := c.pendingByMsgID[bad.BadMsgID]
		if !ok {
			continue
		}
		delete(c.pendingByMsgID, bad.BadMsgID)
		req.state = NotSerialized
		req.msgID = 0

		if !bad.IsTimeSync() && !bad.IsBadSequence() && bad.Code != 48 {
			c.log.Warnf("request %s: bad_msg_notification code=%d, failing", req.id, bad.Code)
			req.resultCh <- requestResult{err: bad}
			continue
		}

		if bad.IsBadSequence() {
			if err := c.sess.ResetSequence(); err != nil {
				req.resultCh <- requestResult{err: err}
				continue
			}
		}
		c.log.Warnf("request %s: bad_msg_notification code=%d, resending", req.id, bad.Code)

		newID, ok := c.sess.Push(req.body)
		if !ok {
			req.resultCh <- requestResult{err: fmt.Errorf("client: resend dropped, container full")}
			continue
		}
		req.state = Serialized
		req.msgID = newID
		c.pendingByMsgID[newID] = req
	}
}

func (c *Conn) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, req := range c.pendingByMsgID {
		c.log.Warnf("request %s failed: %v", req.id, err)
		req.resultCh <- requestResult{err: err}
		delete(c.pendingByMsgID, id)
	}
	for id, pr := range c.pendingPings {
		pr.resultCh <- pingResult{err: err}
		delete(c.pendingPings, id)
	}
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func leInt64(b []byte) int64 { return int64(leUint64(b)) }
