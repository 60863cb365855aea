package collector

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"pbcollector/internal/log"
	"pbcollector/internal/metrics"
	"pbcollector/internal/telemetry"
	"pbcollector/internal/validate"
)

// ConsumerOpts configures a consumer.
type ConsumerOpts struct {
	// Profile is the set of checks run on every record.
	Profile validate.Profile
	// Consistency enables cross-endpoint comparison of records.
	Consistency bool
	// PairerCapacity bounds the number of unanswered queries remembered per endpoint.
	PairerCapacity int
}

// ConsumerStats counts what a consumer has seen.
type ConsumerStats struct {
	Records               uint64
	SchemaErrors          uint64
	CheckFailures         uint64
	ConsistencyMismatches uint64
	ConsistencyMissing    uint64
}

// Consumer drains every endpoint of a collector in arrival order, decodes and validates each
// record, and reports failures through the logger and metrics.
type Consumer struct {
	collector *Collector
	opts      ConsumerOpts
	hook      metrics.ValidationHook
	logger    log.Logger

	records       atomic.Uint64
	schemaErrors  atomic.Uint64
	checkFailures atomic.Uint64
	mismatches    atomic.Uint64
	missing       atomic.Uint64
}

// NewConsumer creates a consumer of every endpoint of c.
func NewConsumer(c *Collector, opts ConsumerOpts, hook metrics.ValidationHook, logger log.Logger) *Consumer {
	return &Consumer{
		collector: c,
		opts:      opts,
		hook:      hook,
		logger:    logger,
	}
}

// Run consumes records until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, ep := range c.collector.Endpoints() {
		ep := ep
		g.Go(func() error {
			return c.consume(ctx, ep)
		})
	}

	return g.Wait()
}

// Stats returns a snapshot of the consumer's counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Records:               c.records.Load(),
		SchemaErrors:          c.schemaErrors.Load(),
		CheckFailures:         c.checkFailures.Load(),
		ConsistencyMismatches: c.mismatches.Load(),
		ConsistencyMissing:    c.missing.Load(),
	}
}

func (c *Consumer) consume(ctx context.Context, ep *Endpoint) error {
	pairer := validate.NewPairer(c.opts.PairerCapacity)

	for {
		rec, err := ep.Next(ctx)
		if errors.Is(err, ErrNoRecord) {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		var schemaErr *telemetry.SchemaError
		if errors.As(err, &schemaErr) {
			c.schemaErrors.Add(1)
			c.logger.Warn("%v", err)
			continue
		}
		if err != nil {
			return err
		}

		c.records.Add(1)
		c.logger.Debug("collector: received record: endpoint=%s %s", ep.name, rec.Summary())

		report := c.opts.Profile.Run(rec)
		if res, ok := pairer.Observe(rec); ok {
			report.Add(res)
		}

		for _, failure := range report.Failures() {
			c.checkFailures.Add(1)
			c.hook.EmitCheckFailure(ep.name, failure.Check)
			c.logger.Warn(
				"collector: check failed: endpoint=%s check=%s record={%s} diagnosis=%s",
				ep.name,
				failure.Check,
				report.Subject,
				failure.Diagnosis,
			)
		}

		if !c.opts.Consistency || ep.dnstap {
			continue
		}

		mismatches, missing, err := c.collector.Consistency().Observe(ep.name, rec)
		if err != nil {
			return err
		}

		for _, mismatch := range mismatches {
			c.mismatches.Add(1)
			c.hook.EmitConsistencyMismatch()
			c.logger.Error("collector: %v", mismatch)
		}

		for _, lost := range missing {
			c.missing.Add(1)
			c.hook.EmitConsistencyMissing(lost.Endpoint)
			c.logger.Warn("collector: %v", lost)
		}
	}
}
