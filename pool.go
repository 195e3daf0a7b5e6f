package reql

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// poolMember wraps one Connection with the bookkeeping Pool needs to pick
// and reconnect it: an outstanding-token counter for least-busy dispatch,
// and a quarantine flag set when the connection is known dead.
type poolMember struct {
	mu          sync.Mutex
	conn        *Connection
	outstanding int64
	quarantined bool
}

// Pool dispatches queries across N connections to the same endpoint. The
// default policy is least outstanding tokens, ties broken round-robin.
// Quarantined connections are reconnected in the background with a
// full-jitter exponential backoff (base 250ms, cap 30s).
type Pool struct {
	cfg Config

	mu      sync.Mutex
	members []*poolMember

	rrCounter uint64

	closed    chan struct{}
	closeOnce sync.Once
}

// NewPool dials size connections using cfg and returns a Pool that load
// balances across them.
func NewPool(ctx context.Context, cfg Config, size int) (*Pool, error) {
	p := &Pool{cfg: cfg, closed: make(chan struct{})}
	p.members = make([]*poolMember, size)
	for i := 0; i < size; i++ {
		conn, err := Connect(ctx, cfg)
		if err != nil {
			p.Close(ctx)
			return nil, &PoolError{Message: "establishing initial pool connection", Cause: err}
		}
		p.members[i] = &poolMember{conn: conn}
	}
	return p, nil
}

// pick selects the least-busy non-quarantined member, breaking ties
// round-robin.
func (p *Pool) pick() (*poolMember, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.members)
	start := int(atomic.AddUint64(&p.rrCounter, 1)) % n

	var best *poolMember
	var bestLoad int64 = -1
	for i := 0; i < n; i++ {
		m := p.members[(start+i)%n]
		m.mu.Lock()
		quarantined := m.quarantined
		load := m.outstanding
		m.mu.Unlock()
		if quarantined {
			continue
		}
		if best == nil || load < bestLoad {
			best, bestLoad = m, load
		}
	}
	if best == nil {
		return nil, &PoolError{Message: "no connections available, all quarantined"}
	}
	return best, nil
}

// Run dispatches term to the least-busy connection and returns whatever
// Connection.Run returns. A transport failure quarantines the connection
// and schedules a reconnect.
func (p *Pool) Run(ctx context.Context, term Term, opts GlobalOpts) (any, error) {
	m, err := p.pick()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.outstanding++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.outstanding--
		m.mu.Unlock()
	}()

	result, err := m.conn.Run(ctx, term, opts)
	if isConnectionFailure(err) {
		p.quarantine(m)
	}
	return result, err
}

func isConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ConnectionClosedError)
	return ok
}

// quarantine marks m unusable and starts a background reconnect loop with
// full-jitter exponential backoff (base 250ms, cap 30s), matching the
// spec's reconnect policy.
func (p *Pool) quarantine(m *poolMember) {
	m.mu.Lock()
	if m.quarantined {
		m.mu.Unlock()
		return
	}
	m.quarantined = true
	m.mu.Unlock()

	go p.reconnect(m)
}

func (p *Pool) reconnect(m *poolMember) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // retry forever until the pool is closed
	b.RandomizationFactor = 1.0
	b.Reset() // start from InitialInterval rather than the library default

	for {
		select {
		case <-p.closed:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := Connect(ctx, p.cfg)
		cancel()
		if err == nil {
			m.mu.Lock()
			m.conn.Close(context.Background()) //nolint:errcheck // stale socket, best-effort
			m.conn = conn
			m.quarantined = false
			m.outstanding = 0
			m.mu.Unlock()
			return
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop || wait > b.MaxInterval {
			wait = b.MaxInterval
		}
		select {
		case <-time.After(wait):
		case <-p.closed:
			return
		}
	}
}

// Close closes every member connection. It does not wait for in-flight
// reconnect attempts; they observe p.closed and stop on their next tick.
func (p *Pool) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, m := range p.members {
		if m == nil || m.conn == nil {
			continue
		}
		if err := m.conn.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
