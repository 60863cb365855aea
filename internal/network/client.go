package network

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"pbcollector/internal/metrics"
)

// Client defines the interface for a TCP network client.
type Client interface {
	// Conn retrieves a single persistent connection.
	Conn() (*PersistentConn, error)

	// Stats returns historical client stats.
	Stats() Stats

	// Close releases idle connections.
	Close()
}

// Stats formalizes stats tracked per-client.
type Stats struct {
	// SuccessfulConnections is the number of connections that the client has successfully
	// provided.
	SuccessfulConnections int
	// FailedConnections is the number of times that the client has failed to provide a
	// connection.
	FailedConnections int
}

// TCPClient is a client of one collector endpoint that recycles connections in a pool. If a
// server name is configured the connections are TLS-secured.
type TCPClient struct {
	addr       string
	pool       *PersistentConnPool
	stats      Stats
	statsMutex sync.RWMutex
}

// TCPClientOpts formalizes client configuration options.
type TCPClientOpts struct {
	// PoolOpts are connection pool-specific options.
	PoolOpts PersistentConnPoolOpts
	// ServerName enables TLS and is used to verify the endpoint certificate.
	ServerName string
	// ConnectTimeout is the timeout associated with establishing a connection.
	ConnectTimeout time.Duration
	// WriteTimeout is the timeout associated with each write to the connection.
	WriteTimeout time.Duration
}

// NewTCPClient creates a TCPClient connected to the specified remote address. Connections are
// established lazily.
func NewTCPClient(addr string, cxHook metrics.ConnectionLifecycleHook, opts TCPClientOpts) *TCPClient {
	var conf *tls.Config
	if opts.ServerName != "" {
		conf = &tls.Config{
			ServerName:         opts.ServerName,
			ClientSessionCache: tls.NewLRUClientSessionCache(opts.PoolOpts.Capacity),
		}
	}

	dialer := func() (net.Conn, error) {
		conn, err := net.DialTimeout("tcp", addr, opts.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("client: error establishing connection: addr=%s err=%v", addr, err)
		}

		if conf != nil {
			tlsConn := tls.Client(conn, conf)
			if err := tlsConn.Handshake(); err != nil {
				conn.Close()
				return nil, fmt.Errorf("client: TLS handshake failed: addr=%s err=%v", addr, err)
			}
			conn = tlsConn
		}

		return NewTCPConn(conn, 0, opts.WriteTimeout), nil
	}

	return &TCPClient{
		addr: addr,
		pool: NewPersistentConnPool(dialer, cxHook, opts.PoolOpts),
	}
}

// Conn retrieves a single persistent connection from the pool.
func (c *TCPClient) Conn() (*PersistentConn, error) {
	conn, err := c.pool.Conn()

	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	if err != nil {
		c.stats.FailedConnections++
	} else {
		c.stats.SuccessfulConnections++
	}

	return conn, err
}

// Stats returns current client stats.
func (c *TCPClient) Stats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()

	return c.stats
}

// Close closes idle pooled connections.
func (c *TCPClient) Close() {
	c.pool.Close()
}

// String returns a string representation of the client.
func (c *TCPClient) String() string {
	return fmt.Sprintf("TCPClient{addr: %s, connections: %d}", c.addr, c.pool.Size())
}
