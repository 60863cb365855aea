package dnstap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	framestream "github.com/farsightsec/golang-framestream"
	"github.com/getsentry/raven-go"
	"lib.kevinlin.info/aperture/lib"

	"pbcollector/internal/data"
	"pbcollector/internal/log"
	"pbcollector/internal/metrics"
	"pbcollector/internal/network"
	"pbcollector/internal/protocol"
	"pbcollector/internal/telemetry"
)

// Handler is a server handler that reads a Frame Streams session of dnstap messages and queues
// each one as a serialized telemetry record.
type Handler struct {
	Endpoint   string
	Queue      *data.FIFOQueue
	IngestHook metrics.IngestHook
	Logger     log.Logger
	Opts       HandlerOpts
}

// HandlerOpts formalizes configuration options for the dnstap handler.
type HandlerOpts struct {
	// PushTimeout is the maximum time to wait for room in the queue. Zero selects
	// protocol.DefaultPushTimeout.
	PushTimeout time.Duration
	// Bidirectional enables the Frame Streams handshake used by senders such as dnsdist.
	Bidirectional bool
}

// ConsumeError logs the error and reports it to Sentry.
func (h *Handler) ConsumeError(ctx context.Context, err error) {
	h.Logger.Error("%v", err)

	endpoint, _ := ctx.Value(network.EndpointContextKey).(string)

	raven.CaptureError(err, map[string]string{
		"endpoint": endpoint,
		"format":   "dnstap",
	})
}

// Handle decodes frames until the sender closes the session. Messages that cannot be converted
// are logged and skipped; a full queue drops the message and ends the session, as for native
// producers.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) error {
	timeout := h.Opts.PushTimeout
	if timeout <= 0 {
		timeout = protocol.DefaultPushTimeout
	}

	decoder, err := framestream.NewDecoder(conn, &framestream.DecoderOptions{
		ContentType:   ContentType,
		Bidirectional: h.Opts.Bidirectional,
	})
	if err != nil {
		h.IngestHook.EmitFramingError(h.Endpoint, conn.RemoteAddr())
		return fmt.Errorf("dnstap: frame streams handshake failed: endpoint=%s remote=%v err=%w", h.Endpoint, conn.RemoteAddr(), err)
	}

	for {
		frame, err := decoder.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			h.IngestHook.EmitFramingError(h.Endpoint, conn.RemoteAddr())
			return fmt.Errorf("dnstap: closing connection: endpoint=%s remote=%v err=%w", h.Endpoint, conn.RemoteAddr(), err)
		}

		h.IngestHook.EmitFrame(h.Endpoint, len(frame), conn.RemoteAddr())

		rec, err := Decode(frame)
		if err != nil {
			h.Logger.Debug("dnstap: skipping message: endpoint=%s err=%v", h.Endpoint, err)
			continue
		}

		payload, err := telemetry.Marshal(rec)
		if err != nil {
			h.Logger.Warn("dnstap: failed to encode converted record: endpoint=%s err=%v", h.Endpoint, err)
			continue
		}

		pushTimer := lib.NewStopwatch()

		if err := h.Queue.Push(payload, timeout); err != nil {
			h.IngestHook.EmitBackpressureDrop(h.Endpoint, conn.RemoteAddr())
			return &protocol.BackpressureError{
				Endpoint: h.Endpoint,
				Remote:   conn.RemoteAddr(),
				Timeout:  timeout,
				Bytes:    len(payload),
			}
		}

		h.IngestHook.EmitEnqueue(h.Endpoint, pushTimer.Elapsed(), h.Queue.Len())
	}
}
