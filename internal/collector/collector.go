// Package collector assembles the ingestion pipeline: one listener and one record queue per
// endpoint, owned by an explicit Collector object.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"pbcollector/internal/log"
	"pbcollector/internal/metrics"
	"pbcollector/internal/telemetry"
	"pbcollector/internal/validate"
)

// Hooks groups the metrics hooks of the pipeline.
type Hooks struct {
	Connection metrics.ConnectionLifecycleHook
	Ingest     metrics.IngestHook
	Validation metrics.ValidationHook
}

// NoopHooks returns hooks that emit nothing.
func NoopHooks() Hooks {
	return Hooks{
		Connection: metrics.NewNoopConnectionLifecycleHook(),
		Ingest:     metrics.NewNoopIngestHook(),
		Validation: metrics.NewNoopValidationHook(),
	}
}

// Opts configures a collector.
type Opts struct {
	Endpoints []EndpointOpts
}

// UnexpectedRecordError is returned by ExpectNone when a record arrived during the observation
// window.
type UnexpectedRecordError struct {
	Endpoint string
	Record   *telemetry.Record
	// Err is set instead of Record if the record was malformed.
	Err error
}

// Error implements the error interface.
func (e *UnexpectedRecordError) Error() string {
	if e.Record == nil {
		return fmt.Sprintf("collector: unexpected record: endpoint=%s err=%v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("collector: unexpected record: endpoint=%s %s", e.Endpoint, e.Record.Summary())
}

// Collector owns a set of endpoints. Records sent to different native endpoints by the same
// exporter are cross-checked for consistency.
type Collector struct {
	endpoints   []*Endpoint
	native      []*Endpoint
	byName      map[string]*Endpoint
	consistency *validate.Consistency
	logger      log.Logger
	mutex       sync.Mutex
}

// New creates a collector. Endpoint names must be unique and non-empty.
func New(opts Opts, hooks Hooks, logger log.Logger) (*Collector, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("collector: no endpoints configured")
	}

	c := &Collector{
		byName: make(map[string]*Endpoint, len(opts.Endpoints)),
		logger: logger,
	}

	for _, epOpts := range opts.Endpoints {
		if epOpts.Name == "" {
			return nil, fmt.Errorf("collector: endpoint has no name: addr=%s", epOpts.Addr)
		}
		if _, ok := c.byName[epOpts.Name]; ok {
			return nil, fmt.Errorf("collector: duplicate endpoint: name=%s", epOpts.Name)
		}

		ep := newEndpoint(epOpts, hooks, logger)
		c.endpoints = append(c.endpoints, ep)
		c.byName[ep.name] = ep

		if !ep.dnstap {
			c.native = append(c.native, ep)
		}
	}

	c.consistency = validate.NewConsistency(validate.DefaultConsistencyCapacity, c.names()...)

	return c, nil
}

// Listen binds every endpoint. If any bind fails, the endpoints bound so far are closed and the
// *network.BindError is returned.
func (c *Collector) Listen() error {
	for i, ep := range c.endpoints {
		if err := ep.server.Listen(); err != nil {
			for _, bound := range c.endpoints[:i] {
				bound.server.Close()
			}
			return err
		}

		c.logger.Info("collector: listening: endpoint=%s addr=%v", ep.name, ep.Addr())
	}

	return nil
}

// Serve accepts producer connections on every endpoint until the collector is closed.
func (c *Collector) Serve() error {
	var g errgroup.Group

	for _, ep := range c.endpoints {
		ep := ep
		g.Go(func() error {
			return ep.server.Serve(ep.handler)
		})
	}

	return g.Wait()
}

// Close stops every listener and closes all producer connections.
func (c *Collector) Close() error {
	var errs []error
	for _, ep := range c.endpoints {
		if err := ep.server.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Endpoints returns the endpoints in configuration order.
func (c *Collector) Endpoints() []*Endpoint {
	return append([]*Endpoint(nil), c.endpoints...)
}

// Endpoint looks up an endpoint by name.
func (c *Collector) Endpoint(name string) (*Endpoint, bool) {
	ep, ok := c.byName[name]
	return ep, ok
}

// Addrs returns the bound address of every endpoint, in configuration order.
func (c *Collector) Addrs() []string {
	addrs := make([]string, len(c.endpoints))
	for i, ep := range c.endpoints {
		if addr := ep.Addr(); addr != nil {
			addrs[i] = addr.String()
		}
	}
	return addrs
}

// Consistency returns the cross-endpoint consistency checker.
func (c *Collector) Consistency() *validate.Consistency {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.consistency
}

// Reset discards every queued record and restarts consistency checking.
func (c *Collector) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, ep := range c.endpoints {
		ep.Reset()
	}
	c.consistency = validate.NewConsistency(validate.DefaultConsistencyCapacity, c.names()...)
}

// NextFromAll takes the next record from every native endpoint, compares them, and returns the
// first endpoint's record along with any mismatches. If some endpoint has no record before ctx
// expires, or delivers a malformed one, that error is returned.
func (c *Collector) NextFromAll(ctx context.Context) (*telemetry.Record, []validate.Mismatch, error) {
	consistency := c.Consistency()

	var mismatches []validate.Mismatch

	if len(c.native) == 0 {
		return nil, nil, errors.New("collector: no native endpoints configured")
	}

	// Take every record before observing any, so a failing endpoint leaves the checker untouched
	records := make([]*telemetry.Record, len(c.native))
	for i, ep := range c.native {
		rec, err := ep.Next(ctx)
		if err != nil {
			return nil, nil, err
		}
		records[i] = rec
	}

	for i, ep := range c.native {
		found, _, err := consistency.Observe(ep.name, records[i])
		if err != nil {
			return nil, nil, err
		}
		mismatches = append(mismatches, found...)
	}

	return records[0], mismatches, nil
}

// ExpectNone verifies that no endpoint receives a record before ctx expires.
func (c *Collector) ExpectNone(ctx context.Context) error {
	for _, ep := range c.endpoints {
		rec, err := ep.Next(ctx)
		switch {
		case errors.Is(err, ErrNoRecord):
			continue
		case err != nil:
			return &UnexpectedRecordError{Endpoint: ep.name, Err: err}
		default:
			return &UnexpectedRecordError{Endpoint: ep.name, Record: rec}
		}
	}

	return nil
}

// names lists the native endpoints, which take part in consistency checking.
func (c *Collector) names() []string {
	names := make([]string, len(c.native))
	for i, ep := range c.native {
		names[i] = ep.name
	}
	return names
}
