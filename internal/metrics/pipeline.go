package metrics

import (
	"net"
	"time"
)

// IngestHook is a metrics hook interface for reporting the frames a collector endpoint reads from
// producer connections.
type IngestHook interface {
	// EmitFrame reports a frame read off a producer connection.
	EmitFrame(endpoint string, bytes int, addr net.Addr)

	// EmitEnqueue reports a frame handed to the endpoint queue, with the time the push waited
	// and the queue depth after the push.
	EmitEnqueue(endpoint string, latency time.Duration, depth int)

	// EmitBackpressureDrop reports a frame dropped because the endpoint queue stayed full.
	EmitBackpressureDrop(endpoint string, addr net.Addr)

	// EmitFramingError reports a connection that ended in the middle of a frame.
	EmitFramingError(endpoint string, addr net.Addr)
}

// ValidationHook is a metrics hook interface for reporting the outcome of decoding and validating
// records.
type ValidationHook interface {
	// EmitRecord reports a successfully decoded record of the given kind.
	EmitRecord(endpoint string, kind string)

	// EmitSchemaError reports a payload that did not decode into a valid record.
	EmitSchemaError(endpoint string)

	// EmitCheckFailure reports a failed semantic check.
	EmitCheckFailure(endpoint string, check string)

	// EmitConsistencyMismatch reports two endpoints disagreeing on the same event.
	EmitConsistencyMismatch()

	// EmitConsistencyMissing reports an event that an endpoint never received.
	EmitConsistencyMissing(endpoint string)
}

// ExportHook is a metrics hook interface for the reference exporter.
type ExportHook interface {
	// EmitExport reports a record written to a collector endpoint.
	EmitExport(endpoint string, bytes int, latency time.Duration)

	// EmitExportDrop reports a record the exporter could not deliver.
	EmitExportDrop(endpoint string)
}

// AsyncStatsdIngestHook outputs IngestHook metrics asynchronously to statsd.
type AsyncStatsdIngestHook struct {
	client *StatsdClient
}

// AsyncStatsdValidationHook outputs ValidationHook metrics asynchronously to statsd.
type AsyncStatsdValidationHook struct {
	client *StatsdClient
}

// AsyncStatsdExportHook outputs ExportHook metrics asynchronously to statsd.
type AsyncStatsdExportHook struct {
	client *StatsdClient
}

// NoopIngestHook implements IngestHook but noops on all emissions.
type NoopIngestHook struct{}

// NoopValidationHook implements ValidationHook but noops on all emissions.
type NoopValidationHook struct{}

// NoopExportHook implements ExportHook but noops on all emissions.
type NoopExportHook struct{}

// NewAsyncStatsdIngestHook creates a statsd IngestHook.
func NewAsyncStatsdIngestHook(addr string, sampleRate float32, version string) (IngestHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdIngestHook{client}, nil
}

// EmitFrame statsd implementation
func (h *AsyncStatsdIngestHook) EmitFrame(endpoint string, bytes int, addr net.Addr) {
	go h.client.Size("size.ingest.frame", int64(bytes), map[string]string{
		"endpoint": endpoint,
		"addr":     ipFromAddr(addr),
	})
}

// EmitEnqueue statsd implementation
func (h *AsyncStatsdIngestHook) EmitEnqueue(endpoint string, latency time.Duration, depth int) {
	go func() {
		tags := map[string]string{"endpoint": endpoint}

		h.client.Timing("latency.ingest.enqueue", latency, tags)
		h.client.Gauge("gauge.ingest.queue_depth", int64(depth), tags)
	}()
}

// EmitBackpressureDrop statsd implementation
func (h *AsyncStatsdIngestHook) EmitBackpressureDrop(endpoint string, addr net.Addr) {
	go h.client.Count("event.ingest.backpressure_drop", 1, map[string]string{
		"endpoint": endpoint,
		"addr":     ipFromAddr(addr),
	})
}

// EmitFramingError statsd implementation
func (h *AsyncStatsdIngestHook) EmitFramingError(endpoint string, addr net.Addr) {
	go h.client.Count("event.ingest.framing_error", 1, map[string]string{
		"endpoint": endpoint,
		"addr":     ipFromAddr(addr),
	})
}

// NewNoopIngestHook creates a noop implementation of IngestHook.
func NewNoopIngestHook() IngestHook {
	return &NoopIngestHook{}
}

// EmitFrame noops.
func (h *NoopIngestHook) EmitFrame(endpoint string, bytes int, addr net.Addr) {}

// EmitEnqueue noops.
func (h *NoopIngestHook) EmitEnqueue(endpoint string, latency time.Duration, depth int) {}

// EmitBackpressureDrop noops.
func (h *NoopIngestHook) EmitBackpressureDrop(endpoint string, addr net.Addr) {}

// EmitFramingError noops.
func (h *NoopIngestHook) EmitFramingError(endpoint string, addr net.Addr) {}

// NewAsyncStatsdValidationHook creates a statsd ValidationHook.
func NewAsyncStatsdValidationHook(addr string, sampleRate float32, version string) (ValidationHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdValidationHook{client}, nil
}

// EmitRecord statsd implementation
func (h *AsyncStatsdValidationHook) EmitRecord(endpoint string, kind string) {
	go h.client.Count("event.validation.record", 1, map[string]string{
		"endpoint": endpoint,
		"kind":     kind,
	})
}

// EmitSchemaError statsd implementation
func (h *AsyncStatsdValidationHook) EmitSchemaError(endpoint string) {
	go h.client.Count("event.validation.schema_error", 1, map[string]string{
		"endpoint": endpoint,
	})
}

// EmitCheckFailure statsd implementation
func (h *AsyncStatsdValidationHook) EmitCheckFailure(endpoint string, check string) {
	go h.client.Count("event.validation.check_failure", 1, map[string]string{
		"endpoint": endpoint,
		"check":    check,
	})
}

// EmitConsistencyMismatch statsd implementation
func (h *AsyncStatsdValidationHook) EmitConsistencyMismatch() {
	go h.client.Count("event.validation.consistency_mismatch", 1, nil)
}

// EmitConsistencyMissing statsd implementation
func (h *AsyncStatsdValidationHook) EmitConsistencyMissing(endpoint string) {
	go h.client.Count("event.validation.consistency_missing", 1, map[string]string{
		"endpoint": endpoint,
	})
}

// NewNoopValidationHook creates a noop implementation of ValidationHook.
func NewNoopValidationHook() ValidationHook {
	return &NoopValidationHook{}
}

// EmitRecord noops.
func (h *NoopValidationHook) EmitRecord(endpoint string, kind string) {}

// EmitSchemaError noops.
func (h *NoopValidationHook) EmitSchemaError(endpoint string) {}

// EmitCheckFailure noops.
func (h *NoopValidationHook) EmitCheckFailure(endpoint string, check string) {}

// EmitConsistencyMismatch noops.
func (h *NoopValidationHook) EmitConsistencyMismatch() {}

// EmitConsistencyMissing noops.
func (h *NoopValidationHook) EmitConsistencyMissing(endpoint string) {}

// NewAsyncStatsdExportHook creates a statsd ExportHook.
func NewAsyncStatsdExportHook(addr string, sampleRate float32, version string) (ExportHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdExportHook{client}, nil
}

// EmitExport statsd implementation
func (h *AsyncStatsdExportHook) EmitExport(endpoint string, bytes int, latency time.Duration) {
	go func() {
		tags := map[string]string{"endpoint": endpoint}

		h.client.Size("size.export.record", int64(bytes), tags)
		h.client.Timing("latency.export.write", latency, tags)
	}()
}

// EmitExportDrop statsd implementation
func (h *AsyncStatsdExportHook) EmitExportDrop(endpoint string) {
	go h.client.Count("event.export.drop", 1, map[string]string{"endpoint": endpoint})
}

// NewNoopExportHook creates a noop implementation of ExportHook.
func NewNoopExportHook() ExportHook {
	return &NoopExportHook{}
}

// EmitExport noops.
func (h *NoopExportHook) EmitExport(endpoint string, bytes int, latency time.Duration) {}

// EmitExportDrop noops.
func (h *NoopExportHook) EmitExportDrop(endpoint string) {}
