package telemetry

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleQuery() *Record {
	return &Record{
		Kind:           KindQuery,
		MessageID:      []byte("0123456789abcdef"),
		ServerIdentity: []byte("resolver-1"),
		SocketFamily:   Family(INET),
		SocketProtocol: Protocol(UDP),
		From:           []byte{127, 0, 0, 1},
		To:             []byte{127, 0, 0, 1},
		SizeBytes:      Uint64(39),
		TimeSec:        Uint32(1700000000),
		TimeUsec:       Uint32(42),
		ID:             Uint32(4242),
		Question: &Question{
			Name:  String("a.example."),
			Type:  Uint32(1),
			Class: Uint32(1),
		},
	}
}

func sampleResponse() *Record {
	r := sampleQuery()
	r.Kind = KindResponse
	r.To = nil
	r.SizeBytes = Uint64(55)
	r.Response = &Response{
		Rcode: Uint32(0),
		RRs: []RR{{
			Name:  String("a.example."),
			Type:  Uint32(1),
			Class: Uint32(1),
			TTL:   Uint32(15),
			Rdata: []byte{192, 0, 2, 42},
		}},
		Tags:                 []string{"tag1", "tag2"},
		QueryTimeSec:         Uint32(1700000000),
		QueryTimeUsec:        Uint32(7),
		AppliedPolicy:        String("zone.rpz."),
		AppliedPolicyType:    Policy(PolicyTypeQName),
		AppliedPolicyTrigger: String("*.test.example."),
		AppliedPolicyHit:     String("sub.test.example"),
		AppliedPolicyKind:    Action(PolicyKindNoAction),
		ValidationState:      VState(Indeterminate),
	}
	r.OriginalRequestorSubnet = []byte{127, 0, 0, 0}
	r.RequestorID = String("S-000001727")
	r.DeviceID = []byte("d1:0a:91:dc:cc:82")
	r.DeviceName = String("Joe")
	return r
}

func TestRoundTripPreservesFieldsAndPresence(t *testing.T) {
	for name, record := range map[string]*Record{
		"query":    sampleQuery(),
		"response": sampleResponse(),
	} {
		t.Run(name, func(t *testing.T) {
			payload, err := Marshal(record)
			require.NoError(t, err)

			decoded, err := Unmarshal(payload)
			require.NoError(t, err)

			if diff := cmp.Diff(record, decoded); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEmptyValuesArePresentNotAbsent(t *testing.T) {
	record := sampleQuery()
	record.RequestorID = String("")
	record.DeviceID = []byte{}

	payload, err := Marshal(record)
	require.NoError(t, err)

	decoded, err := Unmarshal(payload)
	require.NoError(t, err)

	require.NotNil(t, decoded.RequestorID)
	assert.Equal(t, "", *decoded.RequestorID)
	assert.NotNil(t, decoded.DeviceID)
	assert.Empty(t, decoded.DeviceID)
	assert.Nil(t, decoded.DeviceName)
	assert.Nil(t, decoded.OriginalRequestorSubnet)
}

func TestDecodeIsIdempotent(t *testing.T) {
	payload, err := Marshal(sampleResponse())
	require.NoError(t, err)

	first, err := Unmarshal(payload)
	require.NoError(t, err)
	second, err := Unmarshal(payload)
	require.NoError(t, err)

	assert.True(t, cmp.Equal(first, second))

	// Decoded records must not alias the frame buffer.
	for i := range payload {
		payload[i] = 0
	}
	assert.Equal(t, []byte{127, 0, 0, 1}, first.From)
}

func TestUnknownFieldsAreIgnored(t *testing.T) {
	payload, err := Marshal(sampleQuery())
	require.NoError(t, err)

	payload = protowire.AppendTag(payload, 99, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 12345)
	payload = protowire.AppendTag(payload, 100, protowire.BytesType)
	payload = protowire.AppendString(payload, "future")

	decoded, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.True(t, cmp.Equal(sampleQuery(), decoded))
}

func TestMissingRequiredFields(t *testing.T) {
	cases := map[string]func(r *Record){
		"timeSec":        func(r *Record) { r.TimeSec = nil },
		"socketFamily":   func(r *Record) { r.SocketFamily = nil },
		"id":             func(r *Record) { r.ID = nil },
		"messageId":      func(r *Record) { r.MessageID = nil },
		"serverIdentity": func(r *Record) { r.ServerIdentity = nil },
		"inBytes":        func(r *Record) { r.SizeBytes = nil },
	}

	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			record := sampleQuery()
			mutate(record)

			payload, err := Marshal(record)
			require.NoError(t, err)

			_, err = Unmarshal(payload)
			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr), "expected schema error, got %v", err)
			assert.Equal(t, field, schemaErr.Field)
		})
	}
}

func TestMissingKind(t *testing.T) {
	payload, err := Marshal(sampleQuery())
	require.NoError(t, err)

	// Strip the leading type field (tag + one varint byte).
	_, err = Unmarshal(payload[2:])
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "type", schemaErr.Field)
}

func TestKindUnionMismatch(t *testing.T) {
	query := sampleQuery()
	query.Question = nil
	payload, err := Marshal(query)
	require.NoError(t, err)

	_, err = Unmarshal(payload)
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "question", schemaErr.Field)

	response := sampleResponse()
	response.Response = nil
	payload, err = Marshal(response)
	require.NoError(t, err)

	_, err = Unmarshal(payload)
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "response", schemaErr.Field)

	query = sampleQuery()
	query.Response = &Response{Rcode: Uint32(0)}
	payload, err = Marshal(query)
	require.NoError(t, err)

	_, err = Unmarshal(payload)
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "response", schemaErr.Field)
}

func TestQueryMayCarryTags(t *testing.T) {
	query := sampleQuery()
	query.Response = &Response{Tags: []string{"tag-from-gettag"}}

	payload, err := Marshal(query)
	require.NoError(t, err)

	decoded, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"tag-from-gettag"}, decoded.Tags())
}

func TestMalformedPayloads(t *testing.T) {
	payload, err := Marshal(sampleResponse())
	require.NoError(t, err)

	_, err = Unmarshal(payload[:len(payload)-3])
	var schemaErr *SchemaError
	assert.True(t, errors.As(err, &schemaErr))

	wrongType := protowire.AppendTag(nil, 1, protowire.BytesType)
	wrongType = protowire.AppendString(wrongType, "query")
	_, err = Unmarshal(wrongType)
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "type", schemaErr.Field)

	badKind := protowire.AppendTag(nil, 1, protowire.VarintType)
	badKind = protowire.AppendVarint(badKind, 9)
	_, err = Unmarshal(badKind)
	require.True(t, errors.As(err, &schemaErr))
	assert.Contains(t, schemaErr.Reason, "unknown kind")
}

func TestOutOfRangeIntegersAreRejected(t *testing.T) {
	for _, tc := range []struct {
		field string
		num   protowire.Number
		value uint64
	}{
		{"id", fieldID, 70000},
		{"fromPort", fieldFromPort, 1 << 16},
		{"timeSec", fieldTimeSec, 1<<32 + 1},
	} {
		t.Run(tc.field, func(t *testing.T) {
			payload, err := Marshal(sampleQuery())
			require.NoError(t, err)

			payload = protowire.AppendTag(payload, tc.num, protowire.VarintType)
			payload = protowire.AppendVarint(payload, tc.value)

			_, err = Unmarshal(payload)
			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr))
			assert.Equal(t, tc.field, schemaErr.Field)
			assert.Contains(t, schemaErr.Reason, "out of range")
		})
	}

	// The largest 16-bit id still decodes.
	record := sampleQuery()
	record.ID = Uint32(65535)
	payload, err := Marshal(record)
	require.NoError(t, err)

	decoded, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(65535), decoded.GetID())
}

func TestMarshalRejectsInvalidKind(t *testing.T) {
	_, err := Marshal(&Record{})
	assert.Error(t, err)

	_, err = Marshal(nil)
	assert.Error(t, err)
}

func TestNetworkErrorRcodeSurvives(t *testing.T) {
	record := sampleResponse()
	record.Kind = KindIncomingResponse
	record.SizeBytes = Uint64(0)
	record.Response = &Response{Rcode: Uint32(NetworkErrorRcode), QueryTimeSec: Uint32(1)}

	payload, err := Marshal(record)
	require.NoError(t, err)

	decoded, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(NetworkErrorRcode), *decoded.Response.Rcode)
	assert.Equal(t, uint64(0), decoded.GetSizeBytes())
}

func TestSummary(t *testing.T) {
	summary := sampleResponse().Summary()
	assert.Contains(t, summary, "kind=KindResponse")
	assert.Contains(t, summary, "id=4242")
	assert.Contains(t, summary, "qname=a.example.")
	assert.Contains(t, summary, "tags=tag1,tag2")
	assert.Contains(t, summary, "from=127.0.0.1")
}
