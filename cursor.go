package reql

import (
	"context"
	"sync"
)

// cursorPhase is the Cursor's own lifecycle, independent of the owning
// Connection's status.
type cursorPhase int

const (
	cursorOpen cursorPhase = iota
	cursorExhausted
	cursorClosed
)

// ErrCursorEnd is returned by Next once the cursor has yielded every row
// and the server will send no more (phase became Exhausted or Closed).
var ErrCursorEnd = &CursorError{Message: "no more rows"}

// Cursor is a lazy, possibly-infinite sequence of rows produced by a
// SUCCESS_PARTIAL or feed-tagged response. It pipelines CONTINUE requests
// against a buffer-low watermark rather than waiting for the buffer to run
// dry, so a steady consumer rarely blocks on the network.
type Cursor struct {
	conn  *Connection
	token uint64
	feed  bool

	mu                  sync.Mutex
	phase               cursorPhase
	buffer              []any
	closeErr            error
	outstandingContinue bool
	lastBatchSize       int
	notify              chan struct{}
}

func newCursor(conn *Connection, token uint64, feed bool) *Cursor {
	return &Cursor{
		conn:   conn,
		token:  token,
		feed:   feed,
		notify: make(chan struct{}, 1),
	}
}

// IsFeed reports whether this cursor was opened against a changefeed and so
// will never see SUCCESS_SEQUENCE under normal operation.
func (c *Cursor) IsFeed() bool {
	return c.feed
}

// ingest applies the response that created this cursor. Call exactly once,
// before the cursor is published to the caller.
func (c *Cursor) ingest(resp *response) {
	c.deliver(waiterResult{response: resp})
}

// deliver applies a response or connection failure arriving for this
// cursor's token. It's invoked from the Connection's reader goroutine, and
// once through ingest when the cursor is created.
func (c *Cursor) deliver(res waiterResult) {
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}()

	if res.err != nil {
		c.phase = cursorClosed
		c.closeErr = res.err
		return
	}

	resp := res.response
	switch resp.Type {
	case respSuccessPartial:
		c.buffer = append(c.buffer, resp.Result...)
		c.lastBatchSize = len(resp.Result)
		c.outstandingContinue = false

	case respSuccessSequence:
		c.buffer = append(c.buffer, resp.Result...)
		c.phase = cursorExhausted

	case respClientError, respCompileError, respRuntimeError:
		c.phase = cursorClosed
		c.closeErr = resp.asError()

	default:
		c.phase = cursorClosed
		c.closeErr = &ProtocolError{Message: "unexpected response type feeding cursor"}
	}
}

// maybeContinue sends CONTINUE when the buffer has drained below the
// low-watermark threshold (half of the last batch, at minimum one) and the
// cursor isn't already waiting on one. Must be called with c.mu held.
func (c *Cursor) maybeContinueLocked() {
	if c.phase != cursorOpen || c.outstandingContinue {
		return
	}
	threshold := (c.lastBatchSize + 1) / 2
	if threshold < 1 {
		threshold = 1
	}
	if len(c.buffer) >= threshold {
		return
	}
	c.outstandingContinue = true
	go func() {
		if err := c.conn.writeQuery(c.token, continueQuery()); err != nil {
			c.mu.Lock()
			c.phase = cursorClosed
			c.closeErr = err
			c.outstandingContinue = false
			c.mu.Unlock()
			select {
			case c.notify <- struct{}{}:
			default:
			}
		}
	}()
}

// Next blocks until a row is available, the cursor is exhausted/closed, or
// ctx is done. An error recorded on the cursor (a server error or a lost
// connection) leaves it Closed. When ctx is done Next returns *TimeoutError
// and the cursor is unchanged, so a later Next resumes. An error resolving
// or decoding a row is returned for that row only: the row is consumed and
// the cursor stays open.
func (c *Cursor) Next(ctx context.Context, target any) error {
	for {
		c.mu.Lock()
		if len(c.buffer) > 0 {
			raw := c.buffer[0]
			c.buffer = c.buffer[1:]
			c.maybeContinueLocked()
			c.mu.Unlock()

			resolved, err := resolvePseudotypes(raw)
			if err != nil {
				return err
			}
			return c.conn.cfg.codec().Decode(resolved, target)
		}
		if c.phase == cursorExhausted {
			c.mu.Unlock()
			return ErrCursorEnd
		}
		if c.phase == cursorClosed {
			err := c.closeErr
			c.mu.Unlock()
			if err == nil {
				return ErrCursorEnd
			}
			return err
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-ctx.Done():
			return &TimeoutError{}
		}
	}
}

// HasNext reports whether a subsequent Next call would return a row without
// blocking forever — it may still block briefly waiting on an in-flight
// CONTINUE.
func (c *Cursor) HasNext(ctx context.Context) (bool, error) {
	c.mu.Lock()
	c.maybeContinueLocked()
	if len(c.buffer) > 0 {
		c.mu.Unlock()
		return true, nil
	}
	phase := c.phase
	err := c.closeErr
	c.mu.Unlock()

	if phase == cursorExhausted {
		return false, nil
	}
	if phase == cursorClosed {
		return false, err
	}

	select {
	case <-c.notify:
		return c.HasNext(ctx)
	case <-ctx.Done():
		return false, &TimeoutError{}
	}
}

// ToList drains the cursor into a slice. Forbidden on feeds: an infinite
// changefeed would never return.
func (c *Cursor) ToList(ctx context.Context) ([]any, error) {
	if c.feed {
		return nil, &CursorError{Message: "cannot convert feed to list"}
	}
	var out []any
	for {
		var v any
		err := c.Next(ctx, &v)
		if err == ErrCursorEnd {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

// Close cancels the cursor: it drops the buffer, sends STOP if the
// connection is still open, and makes every subsequent Next return
// ErrCursorEnd. It's safe to call more than once.
func (c *Cursor) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.phase == cursorClosed || c.phase == cursorExhausted {
		c.phase = cursorClosed
		c.buffer = nil
		c.closeErr = nil
		c.mu.Unlock()
		c.conn.unregisterCursor(c.token)
		return nil
	}
	c.phase = cursorClosed
	c.buffer = nil
	c.mu.Unlock()

	c.conn.unregisterCursor(c.token)
	if c.conn.getStatus() == statusOpen {
		return c.conn.writeQuery(c.token, stopQuery())
	}
	return nil
}
