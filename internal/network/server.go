package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"pbcollector/internal/metrics"
)

// contextKey is a type alias for context keys passed to server handlers.
type contextKey int

const (
	// EndpointContextKey is the name of the context key holding the name of the endpoint whose
	// listener accepted the connection being handled.
	EndpointContextKey contextKey = iota
)

// acceptBackoff is the pause after a failed accept, so a persistent failure (e.g. file descriptor
// exhaustion) does not spin the accept loop.
const acceptBackoff = 20 * time.Millisecond

// ServerHandler is a common interface that wraps logic for handling incoming connections.
type ServerHandler interface {
	// Handle describes the routine to run for an accepted connection. The server closes the
	// connection once Handle returns.
	Handle(ctx context.Context, conn net.Conn) error

	// ConsumeError is a callback invoked when the server fails to accept a connection, or when
	// the handler returns an error.
	ConsumeError(ctx context.Context, err error)
}

// BindError indicates that a listener could not acquire its address. It is a startup-time
// configuration error, not a runtime condition to recover from.
type BindError struct {
	Endpoint string
	Addr     string
	Err      error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("server: failed to bind TCP listener: endpoint=%s addr=%s err=%v", e.Endpoint, e.Addr, e.Err)
}

// Unwrap returns the underlying socket error.
func (e *BindError) Unwrap() error {
	return e.Err
}

// TCPServer describes a server that listens on a TCP address.
type TCPServer struct {
	name   string
	addr   string
	cxHook metrics.ConnectionLifecycleHook
	opts   TCPServerOpts
	sem    *semaphore.Weighted

	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	mutex  sync.Mutex
	wg     sync.WaitGroup
}

// TCPServerOpts formalizes TCP server configuration options.
type TCPServerOpts struct {
	// ReadTimeout is the maximum amount of time the server will wait for each read from an
	// established connection. Zero disables the timeout; producers may legitimately stay idle
	// for long periods.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum amount of time the server is allowed to take to write to a
	// client.
	WriteTimeout time.Duration
	// MaxConcurrentConnections caps the number of connections handled at once. When the cap is
	// reached the accept loop waits for a handler to finish. Zero means unbounded.
	MaxConcurrentConnections int
}

// NewTCPServer creates a TCP server for the named endpoint, listening on the specified address.
func NewTCPServer(name string, addr string, cxHook metrics.ConnectionLifecycleHook, opts TCPServerOpts) *TCPServer {
	s := &TCPServer{
		name:   name,
		addr:   addr,
		cxHook: cxHook,
		opts:   opts,
		conns:  make(map[net.Conn]struct{}),
	}

	if opts.MaxConcurrentConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentConnections))
	}

	return s
}

// Listen binds the configured address with address reuse enabled. It returns a *BindError if the
// address cannot be acquired.
func (s *TCPServer) Listen() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.ln != nil {
		return nil
	}

	lc := net.ListenConfig{Control: reuseAddrControl}

	ln, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return &BindError{Endpoint: s.name, Addr: s.addr, Err: err}
	}

	s.ln = ln

	return nil
}

// Addr returns the bound address, or nil before Listen succeeds.
func (s *TCPServer) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.ln == nil {
		return nil
	}

	return s.ln.Addr()
}

// Serve accepts connections indefinitely, handing each one to handler on its own goroutine. A
// failed accept is reported to the handler and the loop continues. Serve returns nil once the
// server is closed.
func (s *TCPServer) Serve(handler ServerHandler) error {
	s.mutex.Lock()
	ln := s.ln
	s.mutex.Unlock()

	if ln == nil {
		return fmt.Errorf("server: serve called before listen: endpoint=%s", s.name)
	}

	ctx := context.WithValue(context.Background(), EndpointContextKey, s.name)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			s.cxHook.EmitConnectionError()
			handler.ConsumeError(ctx, fmt.Errorf(
				"server: error accepting connection: endpoint=%s err=%v",
				s.name,
				err,
			))

			time.Sleep(acceptBackoff)
			continue
		}

		if s.sem != nil {
			if err := s.sem.Acquire(context.Background(), 1); err != nil {
				conn.Close()
				continue
			}
		}

		tcpConn := NewTCPConn(conn, s.opts.ReadTimeout, s.opts.WriteTimeout)
		if !s.track(tcpConn) {
			tcpConn.Close()
			s.release()
			return nil
		}

		s.cxHook.EmitConnectionOpen(0, tcpConn.RemoteAddr())

		go func() {
			defer func() {
				s.cxHook.EmitConnectionClose(tcpConn.RemoteAddr())
				tcpConn.Close()
				s.untrack(tcpConn)
				s.release()
			}()

			if err := handler.Handle(ctx, tcpConn); err != nil {
				handler.ConsumeError(ctx, err)
			}
		}()
	}
}

// ListenAndServe binds the configured address and serves connections until the server is
// closed.
func (s *TCPServer) ListenAndServe(handler ServerHandler) error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve(handler)
}

// Close stops accepting, closes every active connection and waits for their handlers to return.
func (s *TCPServer) Close() error {
	s.mutex.Lock()

	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}

	for conn := range s.conns {
		conn.Close()
	}

	s.mutex.Unlock()

	s.wg.Wait()

	return err
}

// String returns a string representation of the server.
func (s *TCPServer) String() string {
	return fmt.Sprintf("TCPServer{endpoint: %s, addr: %v}", s.name, s.Addr())
}

func (s *TCPServer) isClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.closed
}

// track registers an accepted connection. It returns false if the server has been closed in the
// meantime.
func (s *TCPServer) track(conn net.Conn) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return false
	}

	s.conns[conn] = struct{}{}
	s.wg.Add(1)

	return true
}

func (s *TCPServer) untrack(conn net.Conn) {
	s.mutex.Lock()
	delete(s.conns, conn)
	s.mutex.Unlock()

	s.wg.Done()
}

func (s *TCPServer) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}
