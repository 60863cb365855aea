package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pbcollector/internal/metrics"
)

const serveWait = 5 * time.Second

type acceptResult struct {
	conn net.Conn
	err  error
}

// scriptedListener hands out queued accept results and blocks once they run out.
type scriptedListener struct {
	accepts chan acceptResult
	done    chan struct{}
	once    sync.Once
}

func newScriptedListener(results ...acceptResult) *scriptedListener {
	l := &scriptedListener{
		accepts: make(chan acceptResult, len(results)),
		done:    make(chan struct{}),
	}
	for _, r := range results {
		l.accepts <- r
	}
	return l
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	select {
	case r := <-l.accepts:
		return r.conn, r.err
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *scriptedListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *scriptedListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}
}

type testHandler struct {
	handle func(ctx context.Context, conn net.Conn) error

	errs  []error
	mutex sync.Mutex
}

func (h *testHandler) Handle(ctx context.Context, conn net.Conn) error {
	return h.handle(ctx, conn)
}

func (h *testHandler) ConsumeError(ctx context.Context, err error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.errs = append(h.errs, err)
}

func (h *testHandler) consumed() []error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]error(nil), h.errs...)
}

func pipeConn(t *testing.T) net.Conn {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	return server
}

// serveScripted runs a server over ln and returns a channel yielding Serve's result.
func serveScripted(s *TCPServer, ln net.Listener, handler ServerHandler) <-chan error {
	s.ln = ln

	served := make(chan error, 1)
	go func() {
		served <- s.Serve(handler)
	}()

	return served
}

func requireServed(t *testing.T, served <-chan error) {
	t.Helper()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(serveWait):
		t.Fatal("server did not stop serving")
	}
}

func TestServeContinuesAfterAcceptError(t *testing.T) {
	s := NewTCPServer("primary", "", metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{})

	endpoints := make(chan interface{}, 1)
	handler := &testHandler{handle: func(ctx context.Context, conn net.Conn) error {
		endpoints <- ctx.Value(EndpointContextKey)
		return nil
	}}

	ln := newScriptedListener(
		acceptResult{err: errors.New("too many open files")},
		acceptResult{conn: pipeConn(t)},
	)
	served := serveScripted(s, ln, handler)

	select {
	case endpoint := <-endpoints:
		assert.Equal(t, "primary", endpoint)
	case <-time.After(serveWait):
		t.Fatal("connection after a failed accept was not handled")
	}

	errs := handler.consumed()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "error accepting connection")
	assert.Contains(t, errs[0].Error(), "too many open files")

	require.NoError(t, s.Close())
	requireServed(t, served)
}

func TestServeCapsConcurrentConnections(t *testing.T) {
	s := NewTCPServer("primary", "", metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{
		MaxConcurrentConnections: 1,
	})

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var active, peak atomic.Int32

	handler := &testHandler{handle: func(ctx context.Context, conn net.Conn) error {
		n := active.Add(1)
		defer active.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}

		started <- struct{}{}
		<-release
		return nil
	}}

	ln := newScriptedListener(acceptResult{conn: pipeConn(t)}, acceptResult{conn: pipeConn(t)})
	served := serveScripted(s, ln, handler)

	select {
	case <-started:
	case <-time.After(serveWait):
		t.Fatal("first connection was not handled")
	}

	select {
	case <-started:
		t.Fatal("second connection was handled while the first was still active")
	case <-time.After(200 * time.Millisecond):
	}

	close(release)

	select {
	case <-started:
	case <-time.After(serveWait):
		t.Fatal("second connection was not handled after the first finished")
	}

	assert.Equal(t, int32(1), peak.Load())

	require.NoError(t, s.Close())
	requireServed(t, served)
}

func TestCloseWaitsForHandlers(t *testing.T) {
	s := NewTCPServer("primary", "127.0.0.1:0", metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{})
	require.NoError(t, s.Listen())

	started := make(chan struct{})
	var finished atomic.Bool

	handler := &testHandler{handle: func(ctx context.Context, conn net.Conn) error {
		close(started)
		_, _ = io.Copy(io.Discard, conn)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}}

	served := make(chan error, 1)
	go func() {
		served <- s.Serve(handler)
	}()

	client, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-started:
	case <-time.After(serveWait):
		t.Fatal("connection was not handled")
	}

	require.NoError(t, s.Close())
	assert.True(t, finished.Load())
	requireServed(t, served)

	// Closing twice is harmless.
	assert.NoError(t, s.Close())
}

func TestListenReclaimsAddress(t *testing.T) {
	first := NewTCPServer("primary", "127.0.0.1:0", metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{})
	require.NoError(t, first.Listen())
	addr := first.Addr().String()

	// The server closes the connection first, leaving its side of it in TIME_WAIT.
	handler := &testHandler{handle: func(ctx context.Context, conn net.Conn) error {
		return nil
	}}

	served := make(chan error, 1)
	go func() {
		served <- first.Serve(handler)
	}()

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, client)
	require.NoError(t, err)
	client.Close()

	require.NoError(t, first.Close())
	requireServed(t, served)

	second := NewTCPServer("primary", addr, metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{})
	require.NoError(t, second.Listen())
	assert.Equal(t, addr, second.Addr().String())
	require.NoError(t, second.Close())
}

func TestListenBindError(t *testing.T) {
	s := NewTCPServer("primary", "127.0.0.1:70000", metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{})

	err := s.Listen()

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, "primary", bindErr.Endpoint)
	assert.Equal(t, "127.0.0.1:70000", bindErr.Addr)
}

func TestServeBeforeListen(t *testing.T) {
	s := NewTCPServer("primary", "127.0.0.1:0", metrics.NewNoopConnectionLifecycleHook(), TCPServerOpts{})

	assert.Error(t, s.Serve(&testHandler{}))
}
