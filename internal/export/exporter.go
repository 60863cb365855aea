package export

import (
	"errors"

	"github.com/miekg/dns"

	"pbcollector/internal/telemetry"
)

// Sink receives exported records.
type Sink interface {
	Send(rec *telemetry.Record) error
}

// Fanout sends every record to each of its sinks.
type Fanout []Sink

// Send delivers rec to every sink, even if some fail, and joins their errors.
func (f Fanout) Send(rec *telemetry.Record) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Send(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Exporter applies the export filters to DNS exchanges and sends the resulting records to a sink.
// Every method returns the record it sent, or nil if the exchange was filtered out.
type Exporter struct {
	builder *RecordBuilder
	opts    ExportOptions
	sink    Sink
}

// NewExporter creates an exporter.
func NewExporter(opts ExportOptions, sink Sink) *Exporter {
	return &Exporter{
		builder: NewRecordBuilder(opts),
		opts:    opts,
		sink:    sink,
	}
}

// Builder returns the record builder the exporter uses.
func (e *Exporter) Builder() *RecordBuilder {
	return e.builder
}

// ExportQuery exports a client query.
func (e *Exporter) ExportQuery(msg *dns.Msg, info ExchangeInfo) (*telemetry.Record, error) {
	if !e.opts.LogQueries || !info.Decision.LogQuery || !e.tagged(info) {
		return nil, nil
	}

	rec, err := e.builder.Query(msg, info)
	if err != nil {
		return nil, err
	}

	return rec, e.sink.Send(rec)
}

// ExportResponse exports a response sent to a client.
func (e *Exporter) ExportResponse(msg *dns.Msg, info ExchangeInfo) (*telemetry.Record, error) {
	if !e.opts.LogResponses || !info.Decision.LogResponse || !e.tagged(info) {
		return nil, nil
	}

	rec, err := e.builder.Response(msg, info)
	if err != nil {
		return nil, err
	}

	return rec, e.sink.Send(rec)
}

// ExportOutgoing exports the query a resolver sends upstream while answering the client query
// identified by clientID, and the response it got back. A nil response is exported as a network
// error. The outgoing exchange gets a fresh random transaction id that never equals clientID, and
// its own message id linked to info.MessageID.
func (e *Exporter) ExportOutgoing(query *dns.Msg, response *dns.Msg, clientID uint16, info ExchangeInfo) ([]*telemetry.Record, error) {
	id := OutgoingID(clientID)

	out := query.Copy()
	out.Id = id

	outInfo := info
	outInfo.InitialRequestID = info.MessageID
	outInfo.MessageID = NewMessageID()

	queryRec, err := e.builder.OutgoingQuery(out, outInfo)
	if err != nil {
		return nil, err
	}

	var respRec *telemetry.Record
	if response == nil {
		respRec, err = e.builder.NetworkError(out, outInfo)
	} else {
		in := response.Copy()
		in.Id = id
		respRec, err = e.builder.IncomingResponse(in, outInfo)
	}
	if err != nil {
		return nil, err
	}

	records := []*telemetry.Record{queryRec, respRec}
	for _, rec := range records {
		if err := e.sink.Send(rec); err != nil {
			return records, err
		}
	}

	return records, nil
}

// OutgoingID returns a random transaction id different from clientID.
func OutgoingID(clientID uint16) uint16 {
	for {
		if id := dns.Id(); id != clientID {
			return id
		}
	}
}

func (e *Exporter) tagged(info ExchangeInfo) bool {
	return !e.opts.TaggedOnly || len(e.builder.Tags(info)) > 0
}
