package export

import (
	"errors"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pbcollector/internal/telemetry"
	"pbcollector/internal/validate"
)

type memorySink struct {
	records []*telemetry.Record
	err     error
}

func (s *memorySink) Send(rec *telemetry.Record) error {
	s.records = append(s.records, rec)
	return s.err
}

func TestExporterFilters(t *testing.T) {
	query := newQuery(t)
	answer := newAnswer(t, query, "a.example. 15 IN A 192.0.2.42")

	sink := &memorySink{}
	opts := DefaultExportOptions()
	opts.LogResponses = false

	e := NewExporter(opts, sink)

	rec, err := e.ExportQuery(query, clientInfo())
	require.NoError(t, err)
	require.NotNil(t, rec)

	rec, err = e.ExportResponse(answer, clientInfo())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Len(t, sink.records, 1)

	opts = DefaultExportOptions()
	opts.TaggedOnly = true
	e = NewExporter(opts, sink)

	rec, err = e.ExportQuery(query, clientInfo())
	require.NoError(t, err)
	assert.Nil(t, rec)

	info := clientInfo()
	info.Decision.Tags = []string{"tagged"}
	rec, err = e.ExportQuery(query, info)
	require.NoError(t, err)
	assert.NotNil(t, rec)

	info.Decision.LogQuery = false
	rec, err = e.ExportQuery(query, info)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestExportOutgoingUsesFreshID(t *testing.T) {
	query := newQuery(t)
	query.Id = 4242
	upstream := newAnswer(t, query, "a.example. 3600 IN A 192.0.2.42")

	sink := &memorySink{}
	e := NewExporter(DefaultExportOptions(), sink)
	info := clientInfo()

	records, err := e.ExportOutgoing(query, upstream, query.Id, info)
	require.NoError(t, err)
	require.Len(t, records, 2)

	out, in := records[0], records[1]
	assert.Equal(t, telemetry.KindOutgoingQuery, out.Kind)
	assert.Equal(t, telemetry.KindIncomingResponse, in.Kind)
	assert.Equal(t, info.MessageID, out.InitialRequestID)
	assert.Equal(t, out.MessageID, in.MessageID)
	assert.NotEqual(t, info.MessageID, out.MessageID)
	assert.Equal(t, uint32(3600), *in.Response.RRs[0].TTL)

	res := validate.CheckPairing(out, in, validate.PairingOpts{ClientID: telemetry.Uint32(4242)})
	assert.True(t, res.Passed, res.Diagnosis)
	assert.Equal(t, uint16(4242), query.Id, "the client query must not be modified")
}

func TestExportOutgoingNetworkError(t *testing.T) {
	sink := &memorySink{}
	e := NewExporter(DefaultExportOptions(), sink)

	records, err := e.ExportOutgoing(newQuery(t), nil, 1, clientInfo())
	require.NoError(t, err)
	require.Len(t, records, 2)

	res := validate.CheckNetworkError(records[1])
	assert.True(t, res.Passed, res.Diagnosis)

	payload, err := telemetry.Marshal(records[1])
	require.NoError(t, err)
	decoded, err := telemetry.Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(telemetry.NetworkErrorRcode), *decoded.Response.Rcode)
}

func TestOutgoingIDNeverEqualsClientID(t *testing.T) {
	for i := 0; i < 1000; i++ {
		assert.NotEqual(t, uint16(7), OutgoingID(7))
	}
}

func TestFanoutSendsToEverySink(t *testing.T) {
	failing := &memorySink{err: errors.New("down")}
	ok := &memorySink{}

	rec, err := NewRecordBuilder(DefaultExportOptions()).Query(newQuery(t), clientInfo())
	require.NoError(t, err)

	err = Fanout{failing, ok}.Send(rec)
	assert.Error(t, err)
	assert.Len(t, failing.records, 1)
	assert.Len(t, ok.records, 1)
}

func TestBuilderRejectsMessageWithoutQuestion(t *testing.T) {
	_, err := NewRecordBuilder(DefaultExportOptions()).Query(new(dns.Msg), clientInfo())
	assert.ErrorIs(t, err, ErrNoQuestion)
}
