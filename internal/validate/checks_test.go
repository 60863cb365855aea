package validate

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pbcollector/internal/hooks"
	"pbcollector/internal/telemetry"
)

func query(id uint32) *telemetry.Record {
	return &telemetry.Record{
		Kind:           telemetry.KindQuery,
		MessageID:      []byte("msg-1"),
		ServerIdentity: []byte("resolver-1"),
		SocketFamily:   telemetry.Family(telemetry.INET),
		SocketProtocol: telemetry.Protocol(telemetry.UDP),
		From:           []byte{127, 0, 0, 1},
		To:             []byte{127, 0, 0, 1},
		SizeBytes:      telemetry.Uint64(39),
		TimeSec:        telemetry.Uint32(1700000000),
		TimeUsec:       telemetry.Uint32(1),
		ID:             telemetry.Uint32(id),
		Question: &telemetry.Question{
			Name:  telemetry.String("a.example."),
			Type:  telemetry.Uint32(1),
			Class: telemetry.Uint32(1),
		},
	}
}

func response(id uint32) *telemetry.Record {
	r := query(id)
	r.Kind = telemetry.KindResponse
	r.To = nil
	r.SizeBytes = telemetry.Uint64(55)
	r.Response = &telemetry.Response{
		Rcode: telemetry.Uint32(0),
		RRs: []telemetry.RR{{
			Name:  telemetry.String("a.example."),
			Type:  telemetry.Uint32(1),
			Class: telemetry.Uint32(1),
			TTL:   telemetry.Uint32(15),
			Rdata: []byte{192, 0, 2, 42},
		}},
		QueryTimeSec:    telemetry.Uint32(1700000000),
		ValidationState: telemetry.VState(telemetry.Indeterminate),
	}
	return r
}

func TestCheckPairingInbound(t *testing.T) {
	res := CheckPairing(query(4242), response(4242), PairingOpts{QuerySize: 39, ResponseSize: 55})
	assert.True(t, res.Passed, res.Diagnosis)

	res = CheckPairing(query(4242), response(4243), PairingOpts{})
	require.False(t, res.Passed)

	var pairingErr *PairingMismatch
	require.True(t, errors.As(res.Err, &pairingErr))
	assert.Equal(t, "id", pairingErr.Field)
}

func TestCheckPairingReceivedSizeOverride(t *testing.T) {
	res := CheckPairing(query(1), response(1), PairingOpts{ResponseSize: 60})
	assert.False(t, res.Passed)

	res = CheckPairing(query(1), response(1), PairingOpts{ResponseSize: 60, ReceivedSize: 55})
	assert.True(t, res.Passed, res.Diagnosis)
}

func TestCheckPairingOutbound(t *testing.T) {
	out := query(777)
	out.Kind = telemetry.KindOutgoingQuery
	in := response(777)
	in.Kind = telemetry.KindIncomingResponse

	res := CheckPairing(out, in, PairingOpts{ClientID: telemetry.Uint32(4242)})
	assert.True(t, res.Passed, res.Diagnosis)

	res = CheckPairing(out, in, PairingOpts{ClientID: telemetry.Uint32(777)})
	require.False(t, res.Passed)

	var pairingErr *PairingMismatch
	require.True(t, errors.As(res.Err, &pairingErr))
	assert.True(t, pairingErr.Inequal)
}

func TestCheckPairingKinds(t *testing.T) {
	out := query(1)
	out.Kind = telemetry.KindOutgoingQuery

	res := CheckPairing(out, response(1), PairingOpts{})
	assert.False(t, res.Passed)

	resp := response(1)
	resp.Response = nil
	res = CheckPairing(query(1), resp, PairingOpts{})
	assert.False(t, res.Passed)
}

func TestCheckTTLCap(t *testing.T) {
	rec := response(1)
	assert.True(t, CheckTTLCap(rec, 15).Passed)

	rec.Response.RRs[0].TTL = telemetry.Uint32(3600)
	res := CheckTTLCap(rec, 15)
	require.False(t, res.Passed)

	var ttlErr *TTLMismatch
	require.True(t, errors.As(res.Err, &ttlErr))
	assert.Equal(t, uint32(3600), ttlErr.TTL)
	assert.Equal(t, "a.example.", ttlErr.Name)
}

func withPolicy(rec *telemetry.Record) *telemetry.Record {
	rec.Response.AppliedPolicy = telemetry.String("zone.rpz.")
	rec.Response.AppliedPolicyType = telemetry.Policy(telemetry.PolicyTypeQName)
	rec.Response.AppliedPolicyTrigger = telemetry.String("*.test.example.")
	rec.Response.AppliedPolicyHit = telemetry.String("sub.test.example")
	rec.Response.AppliedPolicyKind = telemetry.Action(telemetry.PolicyKindNoAction)
	return rec
}

func TestCheckPolicy(t *testing.T) {
	expected := &ExpectedPolicy{
		Type:    telemetry.PolicyTypeQName,
		Name:    "zone.rpz.",
		Trigger: "*.test.example.",
		Hit:     "sub.test.example",
		Kind:    telemetry.PolicyKindNoAction,
	}

	assert.True(t, CheckPolicy(withPolicy(response(1)), expected).Passed)
	assert.True(t, CheckPolicy(response(1), nil).Passed)
	assert.False(t, CheckPolicy(response(1), expected).Passed)
	assert.False(t, CheckPolicy(withPolicy(response(1)), nil).Passed)

	partial := withPolicy(response(1))
	partial.Response.AppliedPolicyHit = nil
	assert.False(t, CheckPolicy(partial, expected).Passed)
	assert.False(t, CheckPolicyConsistency(partial).Passed)

	wrongKind := withPolicy(response(1))
	wrongKind.Response.AppliedPolicyKind = telemetry.Action(telemetry.PolicyKindDrop)
	res := CheckPolicy(wrongKind, expected)
	require.False(t, res.Passed)

	var policyErr *PolicyMismatch
	require.True(t, errors.As(res.Err, &policyErr))
	assert.Equal(t, "appliedPolicyKind", policyErr.Field)
}

func TestCheckTagsComparesSets(t *testing.T) {
	rec := response(1)
	rec.Response.Tags = []string{"pdns-rpz", "gettag", "rpz-tag", "gettag"}

	sources := TagSources{
		Hook:   []string{"gettag"},
		Policy: []string{"pdns-rpz"},
		Zone:   []string{"rpz-tag", "pdns-rpz"},
	}
	assert.True(t, CheckTags(rec, sources).Passed)

	rec.Response.Tags = []string{"gettag", "other"}
	res := CheckTags(rec, sources)
	require.False(t, res.Passed)

	var tagErr *TagMismatch
	require.True(t, errors.As(res.Err, &tagErr))
	assert.Equal(t, []string{"pdns-rpz", "rpz-tag"}, tagErr.Missing)
	assert.Equal(t, []string{"other"}, tagErr.Unexpected)
}

func TestCheckIdentity(t *testing.T) {
	rec := response(1)
	rec.RequestorID = telemetry.String("S-000001727")
	rec.DeviceID = []byte("d1:0a:91:dc:cc:82")
	rec.DeviceName = telemetry.String("Joe")

	decision := hooks.Decision{RequestorID: "S-000001727", DeviceID: "d1:0a:91:dc:cc:82", DeviceName: "Joe"}
	assert.True(t, CheckIdentity(rec, decision).Passed)

	// An empty hook value must decode as absent, not as an empty present field.
	empty := response(1)
	empty.RequestorID = telemetry.String("")
	res := CheckIdentity(empty, hooks.Decision{})
	require.False(t, res.Passed)

	var identityErr *IdentityMismatch
	require.True(t, errors.As(res.Err, &identityErr))
	assert.Equal(t, "requestorId", identityErr.Field)

	assert.True(t, CheckIdentity(response(1), hooks.Decision{}).Passed)
	assert.False(t, CheckIdentity(response(1), decision).Passed)
}

func TestCheckMasking(t *testing.T) {
	rec := query(1)
	rec.From = []byte{112, 0, 0, 0}
	assert.True(t, CheckMasking(rec, 4, 128).Passed)

	rec.From = []byte{127, 0, 0, 1}
	res := CheckMasking(rec, 4, 128)
	require.False(t, res.Passed)

	var maskErr *MaskingMismatch
	require.True(t, errors.As(res.Err, &maskErr))
	assert.Equal(t, netip.MustParseAddr("112.0.0.0"), maskErr.Want)

	assert.True(t, CheckMasking(rec, 32, 128).Passed)

	v6 := query(1)
	v6.From = netip.MustParseAddr("2001:db8::1").AsSlice()
	v6.OriginalRequestorSubnet = netip.MustParseAddr("2001:db8::").AsSlice()
	assert.False(t, CheckMasking(v6, 32, 56).Passed)

	v6.From = netip.MustParseAddr("2001:db8::").AsSlice()
	assert.True(t, CheckMasking(v6, 32, 56).Passed)
}

func TestCheckBase(t *testing.T) {
	rec := query(4242)
	exp := BaseExpect{
		Family:    telemetry.INET,
		Protocol:  telemetry.UDP,
		Initiator: netip.MustParseAddr("127.0.0.1"),
		ID:        telemetry.Uint32(4242),
		Size:      39,
	}
	assert.True(t, CheckBase(rec, exp).Passed)

	exp.Protocol = telemetry.TCP
	exp.ECS = netip.MustParseAddr("127.0.0.0")
	res := CheckBase(rec, exp)
	require.False(t, res.Passed)
	assert.Contains(t, res.Diagnosis, "socketProtocol")
	assert.Contains(t, res.Diagnosis, "originalRequestorSubnet")
}

func TestCheckQuestionResponseAndRecord(t *testing.T) {
	rec := response(1)

	assert.True(t, CheckQuestion(rec, "a.example.", 1, 1).Passed)
	assert.False(t, CheckQuestion(rec, "b.example.", 1, 1).Passed)

	assert.True(t, CheckResponse(rec, ResponseExpect{
		Rcode:           telemetry.Uint32(0),
		ValidationState: telemetry.VState(telemetry.Indeterminate),
	}).Passed)
	assert.False(t, CheckResponse(rec, ResponseExpect{ValidationState: telemetry.VState(telemetry.Secure)}).Passed)
	assert.False(t, CheckResponse(query(1), ResponseExpect{}).Passed)

	exp := ExpectedRecord{Name: "a.example.", Type: 1, Class: 1, TTL: 15, Rdata: []byte{192, 0, 2, 42}}
	assert.True(t, CheckRecord(rec, 0, exp).Passed)
	assert.False(t, CheckRecord(rec, 1, exp).Passed)

	exp.TTL = 3600
	assert.False(t, CheckRecord(rec, 0, exp).Passed)
}

func TestCheckNetworkError(t *testing.T) {
	rec := response(9)
	rec.Kind = telemetry.KindIncomingResponse
	rec.SizeBytes = telemetry.Uint64(0)
	rec.Response = &telemetry.Response{Rcode: telemetry.Uint32(telemetry.NetworkErrorRcode)}

	assert.True(t, CheckNetworkError(rec).Passed)
	assert.False(t, CheckNetworkError(response(9)).Passed)
}

func TestReportCollectsAllFailures(t *testing.T) {
	rec := response(1)
	rec.Response.RRs[0].TTL = telemetry.Uint32(3600)
	rec.From = []byte{127, 0, 0, 1}

	report := NewReport(rec.Summary()).Add(
		CheckTTLCap(rec, 15),
		CheckMasking(rec, 4, 128),
		CheckPolicy(rec, nil),
	)

	assert.False(t, report.Passed())
	require.Len(t, report.Failures(), 2)
	assert.Equal(t, NameTTLCap, report.Failures()[0].Check)
	assert.Equal(t, NameMasking, report.Failures()[1].Check)

	var ttlErr *TTLMismatch
	assert.True(t, errors.As(report.Err(), &ttlErr))
	var maskErr *MaskingMismatch
	assert.True(t, errors.As(report.Err(), &maskErr))
	assert.Contains(t, report.String(), "PASS policy")
}
