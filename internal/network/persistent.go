package network

import (
	"fmt"
	"net"
	"time"

	"lib.kevinlin.info/aperture/lib"

	"pbcollector/internal/data"
	"pbcollector/internal/metrics"
)

// PersistentConnPool is a pool of long-lived connections to one collector endpoint. Connections
// are returned to the pool instead of closed so that consecutive records reuse the same producer
// session.
type PersistentConnPool struct {
	dialer       func() (net.Conn, error)
	cxHook       metrics.ConnectionLifecycleHook
	staleTimeout time.Duration
	conns        *data.MRUQueue
}

// PersistentConnPoolOpts formalizes configuration options for a persistent connection pool.
type PersistentConnPoolOpts struct {
	// Capacity is the maximum number of idle connections held open in the pool. More
	// connections may exist while many records are being written concurrently.
	Capacity int
	// StaleTimeout is the idle duration after which a cached connection is considered stale
	// and is replaced before use. Zero disables staleness checks.
	StaleTimeout time.Duration
	// Prewarm dials Capacity connections in the background when the pool is created.
	Prewarm bool
}

// PersistentConn is a net.Conn that lazily closes connections; it invokes a closer callback
// instead of closing the underlying connection. Destroy forcefully closes it.
type PersistentConn struct {
	closer    func(destroyed bool) error
	destroyed bool

	net.Conn
}

// NewPersistentConnPool creates a connection pool with the specified dialer factory and
// configuration options.
func NewPersistentConnPool(dialer func() (net.Conn, error), cxHook metrics.ConnectionLifecycleHook, opts PersistentConnPoolOpts) *PersistentConnPool {
	p := &PersistentConnPool{
		dialer:       dialer,
		cxHook:       cxHook,
		staleTimeout: opts.StaleTimeout,
		conns:        data.NewMRUQueue(opts.Capacity),
	}

	if opts.Prewarm {
		go func() {
			for i := 0; i < opts.Capacity; i++ {
				conn, err := p.dial()
				if err != nil {
					// The collector may not be up yet; Conn dials on demand.
					return
				}
				p.put(conn)
			}
		}()
	}

	return p
}

// Conn returns a single connection, either a fresh cached one or a newly dialed one.
func (p *PersistentConnPool) Conn() (*PersistentConn, error) {
	for {
		value, stamp, ok := p.conns.Pop()
		if !ok {
			break
		}

		conn := value.(net.Conn)

		if p.staleTimeout <= 0 || time.Since(stamp) < p.staleTimeout {
			return NewPersistentConn(conn, p.closer(conn)), nil
		}

		p.cxHook.EmitConnectionClose(conn.RemoteAddr())
		go conn.Close()
	}

	conn, err := p.dial()
	if err != nil {
		return nil, err
	}

	return NewPersistentConn(conn, p.closer(conn)), nil
}

// Size reports the number of idle connections in the pool.
func (p *PersistentConnPool) Size() int {
	return p.conns.Size()
}

// Close closes every idle connection. Connections currently checked out are closed when they are
// returned.
func (p *PersistentConnPool) Close() {
	for {
		value, _, ok := p.conns.Pop()
		if !ok {
			return
		}

		conn := value.(net.Conn)
		p.cxHook.EmitConnectionClose(conn.RemoteAddr())
		conn.Close()
	}
}

func (p *PersistentConnPool) dial() (net.Conn, error) {
	dialTimer := lib.NewStopwatch()

	conn, err := p.dialer()
	if err != nil {
		p.cxHook.EmitConnectionError()
		return nil, err
	}

	p.cxHook.EmitConnectionOpen(dialTimer.Elapsed(), conn.RemoteAddr())

	return conn, nil
}

// closer builds the callback that either destroys a connection or returns it to the pool.
func (p *PersistentConnPool) closer(conn net.Conn) func(destroyed bool) error {
	return func(destroyed bool) error {
		if destroyed {
			p.cxHook.EmitConnectionClose(conn.RemoteAddr())
			return conn.Close()
		}

		return p.put(conn)
	}
}

// put returns a connection to the pool if there is room for it; otherwise it is closed.
func (p *PersistentConnPool) put(conn net.Conn) error {
	if ok := p.conns.Push(conn); !ok {
		p.cxHook.EmitConnectionClose(conn.RemoteAddr())
		return conn.Close()
	}

	return nil
}

// NewPersistentConn wraps an existing net.Conn with the specified close callback.
func NewPersistentConn(conn net.Conn, closer func(destroyed bool) error) *PersistentConn {
	return &PersistentConn{closer: closer, Conn: conn}
}

// Close invokes the close callback, which returns the connection to its pool unless it has been
// destroyed.
func (c *PersistentConn) Close() error {
	return c.closer(c.destroyed)
}

// Destroy marks the connection as destroyed and invokes the close callback.
func (c *PersistentConn) Destroy() error {
	c.destroyed = true

	return c.Close()
}

// String implements the Stringer interface for human-consumable representation.
func (c *PersistentConn) String() string {
	return fmt.Sprintf("PersistentConn{%s->%s}", c.LocalAddr(), c.RemoteAddr())
}
