package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/getsentry/raven-go"
	"lib.kevinlin.info/aperture/lib"

	"pbcollector/internal/data"
	"pbcollector/internal/log"
	"pbcollector/internal/metrics"
	"pbcollector/internal/network"
)

// DefaultPushTimeout bounds how long a connection handler waits for room in a full endpoint queue
// before dropping the frame.
const DefaultPushTimeout = 2 * time.Second

// BackpressureError reports a frame dropped because the endpoint queue stayed full for the whole
// push timeout. The record is lost; producers do not retry.
type BackpressureError struct {
	Endpoint string
	Remote   net.Addr
	Timeout  time.Duration
	Bytes    int
}

// Error implements the error interface.
func (e *BackpressureError) Error() string {
	return fmt.Sprintf(
		"ingest: endpoint queue full; dropped frame: endpoint=%s remote=%v timeout=%v bytes=%d",
		e.Endpoint,
		e.Remote,
		e.Timeout,
		e.Bytes,
	)
}

// Unwrap returns data.ErrQueueFull.
func (e *BackpressureError) Unwrap() error {
	return data.ErrQueueFull
}

// IngestHandler is a server handler that reads frames from one producer connection and pushes
// their payloads onto the owning endpoint's queue.
type IngestHandler struct {
	Endpoint   string
	Queue      *data.FIFOQueue
	IngestHook metrics.IngestHook
	Logger     log.Logger
	Opts       IngestOpts
}

// IngestOpts formalizes configuration options for the ingest handler.
type IngestOpts struct {
	// PushTimeout is the maximum time to wait for room in the queue. Zero selects
	// DefaultPushTimeout.
	PushTimeout time.Duration
}

// ConsumeError logs the connection error and reports it to Sentry. Dropped frames and truncated
// streams are expected under load and when producers restart, so they are logged as warnings.
func (h *IngestHandler) ConsumeError(ctx context.Context, err error) {
	var backpressureErr *BackpressureError
	var framingErr *FramingError

	switch {
	case errors.As(err, &backpressureErr), errors.As(err, &framingErr):
		h.Logger.Warn("%v", err)
	default:
		h.Logger.Error("%v", err)
	}

	endpoint, _ := ctx.Value(network.EndpointContextKey).(string)

	raven.CaptureError(err, map[string]string{
		"endpoint": endpoint,
	})
}

// Handle reads frames until the producer closes the connection. Every payload is pushed to the
// queue with a bounded wait; if the queue stays full the frame is dropped and the handler gives up
// on the connection with a *BackpressureError. A stream that ends mid-frame yields a
// *FramingError. A clean end of stream returns nil.
func (h *IngestHandler) Handle(ctx context.Context, conn net.Conn) error {
	timeout := h.Opts.PushTimeout
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}

	frames := 0

	for {
		payload, err := ReadFrame(conn)
		if err == io.EOF {
			h.Logger.Debug(
				"ingest: producer closed connection: endpoint=%s remote=%v frames=%d",
				h.Endpoint,
				conn.RemoteAddr(),
				frames,
			)
			return nil
		}
		if err != nil {
			h.IngestHook.EmitFramingError(h.Endpoint, conn.RemoteAddr())
			return fmt.Errorf(
				"ingest: closing producer connection: endpoint=%s remote=%v err=%w",
				h.Endpoint,
				conn.RemoteAddr(),
				err,
			)
		}

		frames++
		h.IngestHook.EmitFrame(h.Endpoint, len(payload), conn.RemoteAddr())

		pushTimer := lib.NewStopwatch()

		if err := h.Queue.Push(payload, timeout); err != nil {
			h.IngestHook.EmitBackpressureDrop(h.Endpoint, conn.RemoteAddr())
			return &BackpressureError{
				Endpoint: h.Endpoint,
				Remote:   conn.RemoteAddr(),
				Timeout:  timeout,
				Bytes:    len(payload),
			}
		}

		h.IngestHook.EmitEnqueue(h.Endpoint, pushTimer.Elapsed(), h.Queue.Len())

		h.Logger.Debug(
			"ingest: queued frame: endpoint=%s remote=%v bytes=%d",
			h.Endpoint,
			conn.RemoteAddr(),
			len(payload),
		)
	}
}
