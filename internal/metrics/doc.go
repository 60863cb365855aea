// Package metrics contains abstractions for emission of metrics generated throughout the lifetime
// of the collector. Currently, the only supported metrics output engine is statsd.
//
// Metrics are generated at several points of a record's life: when a producer connects, when a
// frame is read and queued (or dropped), when the record is decoded, and when it is validated.
// The emissions are therefore structured around hooks: a hook interface defines methods that the
// ingestion and validation paths invoke at those points, and implementations of the interfaces
// ship the metrics to a backend. The noop implementations are used when no backend is configured
// and in tests.
package metrics
