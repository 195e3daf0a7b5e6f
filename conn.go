package reql

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// connStatus is the Connection lifecycle. Transitions are monotonic in the
// order declared, except Closed, which is terminal and reachable from any
// state.
type connStatus int32

const (
	statusNew connStatus = iota
	statusHandshakeInProgress
	statusOpen
	statusClosing
	statusClosed
)

// waiter is what a pending token resolves to: either a completed response
// or a connection-level failure.
type waiter struct {
	resp chan waiterResult
}

type waiterResult struct {
	response *response
	cursor   *Cursor
	err      error
}

func newWaiter() *waiter {
	return &waiter{resp: make(chan waiterResult, 1)}
}

// Connection is a single authenticated, framed duplex connection to a ReQL
// server. One reader goroutine owns demultiplexing; all other goroutines
// only enqueue writes and wait on their own token's channel.
type Connection struct {
	cfg   Config
	sock  net.Conn
	codec *frameCodec

	writeMu sync.Mutex

	mu      sync.Mutex
	status  connStatus
	pending map[uint64]*waiter
	cursors map[uint64]*Cursor

	nextToken uint64

	metrics connMetrics

	closeOnce sync.Once
	readerDone chan struct{}
}

// Connect dials addr, optionally upgrades to TLS, runs the SCRAM-SHA-256
// handshake, and starts the connection's reader goroutine.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, &DriverError{Message: "dialing " + cfg.Address, Cause: err}
	}

	sock, err := maybeUpgradeTLS(rawConn, cfg.TLSConfig)
	if err != nil {
		rawConn.Close()
		return nil, err
	}

	if cfg.HandshakeTimeout != 0 {
		sock.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}

	hs := newHandshake(sock, cfg.Username, cfg.Password, NewCrypto())
	if err := hs.run(); err != nil {
		sock.Close()
		return nil, err
	}

	if cfg.HandshakeTimeout != 0 {
		sock.SetDeadline(time.Time{})
	}

	c := &Connection{
		cfg:        cfg,
		sock:       sock,
		codec:      newFrameCodec(hs.reader(), sock),
		status:     statusOpen,
		pending:    make(map[uint64]*waiter),
		cursors:    make(map[uint64]*Cursor),
		readerDone: make(chan struct{}),
	}
	if cfg.MaxFrameSize != 0 {
		c.codec.maxFrameLen = cfg.MaxFrameSize
	}

	go c.readLoop()
	return c, nil
}

func (c *Connection) allocToken() uint64 {
	return atomic.AddUint64(&c.nextToken, 1)
}

// registerWaiter installs w under token before any frame referencing it is
// sent, per the token lifecycle rule: a fast server reply must never find
// the token unregistered.
func (c *Connection) registerWaiter(token uint64) *waiter {
	w := newWaiter()
	c.mu.Lock()
	c.pending[token] = w
	c.mu.Unlock()
	return w
}

func (c *Connection) registerCursor(token uint64, cur *Cursor) {
	c.mu.Lock()
	c.cursors[token] = cur
	c.mu.Unlock()
}

func (c *Connection) unregisterCursor(token uint64) {
	c.mu.Lock()
	delete(c.cursors, token)
	c.mu.Unlock()
}

func (c *Connection) writeQuery(token uint64, q query) error {
	payload, err := q.serialize()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.codec.writeFrame(token, payload); err != nil {
		return err
	}
	c.metrics.recordFrameWritten()
	return nil
}

// Run sends term as a START query and either returns a decoded value or a
// *Cursor, per the classification rule: SUCCESS_PARTIAL or a feed-tagged
// response yields a Cursor, anything else yields a decoded value.
func (c *Connection) Run(ctx context.Context, term Term, opts GlobalOpts) (any, error) {
	if c.getStatus() != statusOpen {
		return nil, &ConnectionClosedError{}
	}

	q, err := startQuery(term, opts)
	if err != nil {
		return nil, err
	}

	token := c.allocToken()
	w := c.registerWaiter(token)

	if err := c.writeQuery(token, q); err != nil {
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
		return nil, err
	}

	res, err := c.awaitWaiter(ctx, token, w)
	if err != nil {
		return nil, err
	}
	if res.cursor != nil {
		return res.cursor, nil
	}
	return c.handleRunResponse(token, res.response)
}

func (c *Connection) awaitWaiter(ctx context.Context, token uint64, w *waiter) (waiterResult, error) {
	select {
	case r := <-w.resp:
		if r.err != nil {
			return waiterResult{}, r.err
		}
		return r, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
		c.writeQuery(token, stopQuery()) //nolint:errcheck // best-effort cancellation
		return waiterResult{}, &TimeoutError{}
	}
}

func (c *Connection) handleRunResponse(token uint64, resp *response) (any, error) {
	switch resp.Type {
	case respSuccessAtom:
		var v any
		if len(resp.Result) > 0 {
			if err := c.cfg.codec().Decode(resp.Result[0], &v); err != nil {
				return nil, err
			}
		}
		return v, nil

	case respSuccessSequence:
		if resp.isFeed() {
			return c.newCursorFromResponse(token, resp), nil
		}
		return c.decodeSequence(resp)

	case respWaitComplete:
		return nil, nil

	case respServerInfo:
		var info any
		if len(resp.Result) > 0 {
			info = resp.Result[0]
		}
		return info, nil

	case respClientError, respCompileError, respRuntimeError:
		return nil, resp.asError()

	default:
		return nil, &ProtocolError{Message: "unrecognized response type"}
	}
}

func (c *Connection) decodeSequence(resp *response) (any, error) {
	out := make([]any, len(resp.Result))
	for i, raw := range resp.Result {
		var v any
		if err := c.cfg.codec().Decode(raw, &v); err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *Connection) newCursorFromResponse(token uint64, resp *response) *Cursor {
	cur := newCursor(c, token, resp.isFeed())
	cur.ingest(resp)
	c.registerCursor(token, cur)
	return cur
}

// RunNoReply sends term as a START query with noreply set and does not wait
// for, or register a waiter for, any response.
func (c *Connection) RunNoReply(term Term, opts GlobalOpts) error {
	if c.getStatus() != statusOpen {
		return &ConnectionClosedError{}
	}
	withNoreply := make(GlobalOpts, len(opts)+1)
	for k, v := range opts {
		withNoreply[k] = v
	}
	withNoreply["noreply"] = true

	q, err := startQuery(term, withNoreply)
	if err != nil {
		return err
	}
	token := c.allocToken()
	return c.writeQuery(token, q)
}

// NoreplyWait blocks until every noreply query issued before this call is
// durable.
func (c *Connection) NoreplyWait(ctx context.Context) error {
	if c.getStatus() != statusOpen {
		return &ConnectionClosedError{}
	}
	token := c.allocToken()
	w := c.registerWaiter(token)
	if err := c.writeQuery(token, noreplyWaitQuery()); err != nil {
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
		return err
	}
	_, err := c.awaitWaiter(ctx, token, w)
	return err
}

// Server returns the server's identifying information.
func (c *Connection) Server(ctx context.Context) (any, error) {
	if c.getStatus() != statusOpen {
		return nil, &ConnectionClosedError{}
	}
	token := c.allocToken()
	w := c.registerWaiter(token)
	if err := c.writeQuery(token, serverInfoQuery()); err != nil {
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
		return nil, err
	}
	res, err := c.awaitWaiter(ctx, token, w)
	if err != nil {
		return nil, err
	}
	return c.handleRunResponse(token, res.response)
}

func (c *Connection) getStatus() connStatus {
	return connStatus(atomic.LoadInt32((*int32)(&c.status)))
}

func (c *Connection) setStatus(s connStatus) {
	atomic.StoreInt32((*int32)(&c.status), int32(s))
}

// Close transitions the connection to Closing, sends STOP for every active
// cursor, waits up to the given deadline for graceful drain, then tears
// down the socket and fails every remaining waiter with
// ConnectionClosedError.
func (c *Connection) Close(ctx context.Context) error {
	atomic.CompareAndSwapInt32((*int32)(&c.status), int32(statusOpen), int32(statusClosing))

	c.mu.Lock()
	tokens := make([]uint64, 0, len(c.cursors))
	for t := range c.cursors {
		tokens = append(tokens, t)
	}
	c.mu.Unlock()
	for _, t := range tokens {
		c.writeQuery(t, stopQuery()) //nolint:errcheck // best-effort; socket teardown follows regardless
	}

	drained := make(chan struct{})
	go func() {
		for {
			c.mu.Lock()
			n := len(c.pending) + len(c.cursors)
			c.mu.Unlock()
			if n == 0 {
				close(drained)
				return
			}
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
	}()
	select {
	case <-drained:
	case <-ctx.Done():
	}

	c.closeOnce.Do(func() {
		c.sock.Close()
	})
	<-c.readerDone
	return nil
}

// readLoop is the connection's single reader task: read a frame, look up
// its token, deliver. Unknown tokens are counted in metrics and dropped, to
// tolerate a STOP racing the server's last response for that token.
func (c *Connection) readLoop() {
	defer close(c.readerDone)
	for {
		f, err := c.codec.readFrame()
		if err != nil {
			c.failAll(&ConnectionClosedError{Cause: err})
			return
		}
		c.metrics.recordFrameRead()

		resp, err := parseResponse(f.payload)
		if err != nil {
			c.deliver(f.token, waiterResult{err: err})
			continue
		}
		c.deliver(f.token, waiterResult{response: resp})
	}
}

// deliver routes a frame to whichever of pending/cursors owns its token.
// The first SUCCESS_PARTIAL for a token is the moment a waiter turns into a
// cursor, and that handoff happens here, atomically under c.mu, so a second
// frame for the same token arriving on the very next readLoop iteration
// (before the Run() caller has even been scheduled) always finds the
// cursor already registered instead of a stale one-shot waiter. A terminal
// response or error for a cursor's token removes the cursor from cursors, so
// a later connection failure cannot override an already-exhausted cursor.
func (c *Connection) deliver(token uint64, res waiterResult) {
	c.mu.Lock()
	if cur, ok := c.cursors[token]; ok {
		if res.err != nil || !isPartialResponse(res.response) {
			delete(c.cursors, token)
		}
		c.mu.Unlock()
		cur.deliver(res)
		return
	}

	w, ok := c.pending[token]
	if !ok {
		c.mu.Unlock()
		c.metrics.recordUnknownToken()
		return
	}

	if res.err == nil && isPartialResponse(res.response) {
		cur := newCursor(c, token, res.response.isFeed())
		c.cursors[token] = cur
		delete(c.pending, token)
		c.mu.Unlock()

		cur.ingest(res.response)
		w.resp <- waiterResult{cursor: cur}
		return
	}

	delete(c.pending, token)
	c.mu.Unlock()
	w.resp <- res
}

func isPartialResponse(r *response) bool {
	return r.Type == respSuccessPartial
}

func (c *Connection) failAll(err error) {
	c.setStatus(statusClosed)
	c.mu.Lock()
	pending := c.pending
	cursors := c.cursors
	c.pending = make(map[uint64]*waiter)
	c.cursors = make(map[uint64]*Cursor)
	c.mu.Unlock()

	for _, w := range pending {
		w.resp <- waiterResult{err: err}
	}
	for _, cur := range cursors {
		cur.deliver(waiterResult{err: err})
	}
}
