package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"pbcollector/internal/data"
	"pbcollector/internal/dnstap"
	"pbcollector/internal/log"
	"pbcollector/internal/metrics"
	"pbcollector/internal/network"
	"pbcollector/internal/protocol"
	"pbcollector/internal/telemetry"
)

// ErrNoRecord is returned when no record arrived at an endpoint before the deadline. It is
// distinct from a *telemetry.SchemaError, which means a record arrived but was malformed.
var ErrNoRecord = errors.New("collector: no record arrived before deadline")

// EndpointOpts configures one collector endpoint.
type EndpointOpts struct {
	Name string
	Addr string
	// QueueCapacity bounds the number of received records awaiting consumption.
	QueueCapacity int
	// PushTimeout bounds how long a producer connection waits for room in a full queue.
	PushTimeout time.Duration
	// ReadTimeout is the idle timeout of producer connections. Zero disables it.
	ReadTimeout time.Duration
	// MaxConcurrentConnections caps concurrently handled producer connections. Zero means
	// unbounded.
	MaxConcurrentConnections int
	// Dnstap makes the endpoint accept dnstap over Frame Streams instead of native record
	// frames. Dnstap endpoints are not cross-checked for consistency.
	Dnstap bool
	// Bidirectional enables the Frame Streams handshake on a dnstap endpoint.
	Bidirectional bool
}

// Endpoint is one listening address and the queue its producer connections feed.
type Endpoint struct {
	name           string
	queue          *data.FIFOQueue
	server         *network.TCPServer
	handler        network.ServerHandler
	dnstap         bool
	validationHook metrics.ValidationHook
	logger         log.Logger
}

func newEndpoint(opts EndpointOpts, hooks Hooks, logger log.Logger) *Endpoint {
	queue := data.NewFIFOQueue(opts.QueueCapacity)

	var handler network.ServerHandler = &protocol.IngestHandler{
		Endpoint:   opts.Name,
		Queue:      queue,
		IngestHook: hooks.Ingest,
		Logger:     logger,
		Opts:       protocol.IngestOpts{PushTimeout: opts.PushTimeout},
	}
	if opts.Dnstap {
		handler = &dnstap.Handler{
			Endpoint:   opts.Name,
			Queue:      queue,
			IngestHook: hooks.Ingest,
			Logger:     logger,
			Opts: dnstap.HandlerOpts{
				PushTimeout:   opts.PushTimeout,
				Bidirectional: opts.Bidirectional,
			},
		}
	}

	return &Endpoint{
		name:  opts.Name,
		queue: queue,
		server: network.NewTCPServer(opts.Name, opts.Addr, hooks.Connection, network.TCPServerOpts{
			ReadTimeout:              opts.ReadTimeout,
			MaxConcurrentConnections: opts.MaxConcurrentConnections,
		}),
		handler:        handler,
		dnstap:         opts.Dnstap,
		validationHook: hooks.Validation,
		logger:         logger,
	}
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// Addr returns the bound address, or nil before the collector listens.
func (e *Endpoint) Addr() net.Addr {
	return e.server.Addr()
}

// Queued reports the number of received records awaiting consumption.
func (e *Endpoint) Queued() int {
	return e.queue.Len()
}

// Next waits for the next record to arrive and decodes it. It returns ErrNoRecord if ctx expires
// first, and a *telemetry.SchemaError if the record is malformed; the malformed record is
// consumed either way.
func (e *Endpoint) Next(ctx context.Context) (*telemetry.Record, error) {
	payload, err := e.queue.Pop(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint=%s", ErrNoRecord, e.name)
	}

	rec, err := telemetry.Unmarshal(payload)
	if err != nil {
		e.validationHook.EmitSchemaError(e.name)
		return nil, fmt.Errorf("collector: discarding malformed record: endpoint=%s bytes=%d err=%w", e.name, len(payload), err)
	}

	e.validationHook.EmitRecord(e.name, rec.Kind.String())

	return rec, nil
}

// Reset discards every record received so far and returns how many were discarded.
func (e *Endpoint) Reset() int {
	n := e.queue.Drain()
	if n > 0 {
		e.logger.Debug("collector: discarded stale records: endpoint=%s count=%d", e.name, n)
	}
	return n
}

// String returns a string representation of the endpoint.
func (e *Endpoint) String() string {
	return fmt.Sprintf("Endpoint{name: %s, addr: %v, queued: %d}", e.name, e.Addr(), e.Queued())
}
