package export

import (
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pbcollector/internal/hooks"
	"pbcollector/internal/telemetry"
	"pbcollector/internal/validate"
)

func newQuery(t *testing.T) *dns.Msg {
	t.Helper()

	msg := new(dns.Msg)
	msg.SetQuestion("a.example.", dns.TypeA)
	msg.CheckingDisabled = true

	return msg
}

func newAnswer(t *testing.T, query *dns.Msg, records ...string) *dns.Msg {
	t.Helper()

	msg := new(dns.Msg)
	msg.SetReply(query)
	for _, s := range records {
		rr, err := dns.NewRR(s)
		require.NoError(t, err)
		msg.Answer = append(msg.Answer, rr)
	}

	return msg
}

func clientInfo() ExchangeInfo {
	return ExchangeInfo{
		MessageID: NewMessageID(),
		Client:    netip.MustParseAddrPort("127.0.0.1:53000"),
		Server:    netip.MustParseAddrPort("127.0.0.1:53"),
		Decision:  hooks.Default(),
	}
}

func TestQueryRecord(t *testing.T) {
	opts := DefaultExportOptions()
	opts.ServerIdentity = "resolver-1"
	query := newQuery(t)

	rec, err := NewRecordBuilder(opts).Query(query, clientInfo())
	require.NoError(t, err)

	wire, err := query.Pack()
	require.NoError(t, err)

	assert.Equal(t, telemetry.KindQuery, rec.Kind)
	assert.Equal(t, []byte("resolver-1"), rec.ServerIdentity)
	assert.Equal(t, []byte{127, 0, 0, 1}, rec.To)
	assert.Nil(t, rec.Response)
	assert.Nil(t, rec.OriginalRequestorSubnet)
	assert.Nil(t, rec.RequestorID)

	report := validate.NewReport("query").Add(
		validate.CheckBase(rec, validate.BaseExpect{
			Family:    telemetry.INET,
			Protocol:  telemetry.UDP,
			Initiator: netip.MustParseAddr("127.0.0.1"),
			ID:        telemetry.Uint32(uint32(query.Id)),
			Size:      len(wire),
		}),
		validate.CheckQuestion(rec, "a.example.", dns.TypeA, dns.ClassINET),
	)
	assert.True(t, report.Passed(), report.String())

	// The record must survive the wire.
	payload, err := telemetry.Marshal(rec)
	require.NoError(t, err)
	_, err = telemetry.Unmarshal(payload)
	require.NoError(t, err)
}

func TestResponseRecordCapsTTLAndFiltersTypes(t *testing.T) {
	opts := DefaultExportOptions()
	opts.MaxCacheTTL = 15
	query := newQuery(t)
	answer := newAnswer(t, query,
		"a.example. 3600 IN A 192.0.2.42",
		"a.example. 3600 IN MX 10 mail.example.",
	)

	rec, err := NewRecordBuilder(opts).Response(answer, clientInfo())
	require.NoError(t, err)

	assert.Nil(t, rec.To)
	require.Len(t, rec.Response.RRs, 1)

	report := validate.NewReport("response").Add(
		validate.CheckTTLCap(rec, 15),
		validate.CheckRecord(rec, 0, validate.ExpectedRecord{
			Name:  "a.example.",
			Type:  dns.TypeA,
			Class: dns.ClassINET,
			TTL:   15,
			Rdata: []byte{192, 0, 2, 42},
		}),
		validate.CheckResponse(rec, validate.ResponseExpect{
			Rcode:           telemetry.Uint32(dns.RcodeSuccess),
			ValidationState: telemetry.VState(telemetry.Indeterminate),
		}),
		validate.CheckPolicy(rec, nil),
	)
	assert.True(t, report.Passed(), report.String())
}

func TestRdataExportForms(t *testing.T) {
	for _, tt := range []struct {
		rr   string
		want []byte
	}{
		{"a.example. 60 IN AAAA 2001:db8::1", net.ParseIP("2001:db8::1").To16()},
		{"a.example. 60 IN CNAME b.example.", []byte("b.example.")},
		{"a.example. 60 IN MX 10 mail.example.", []byte("mail.example.")},
		{"_x._tcp.example. 60 IN SRV 0 0 53 srv.example.", []byte("srv.example.")},
		{`a.example. 60 IN TXT "hello" "world"`, []byte(`"hello" "world"`)},
		{`a.example. 60 IN SPF "v=spf1 -all"`, []byte(`"v=spf1 -all"`)},
		{"a.example. 60 IN NS ns1.example.", []byte("ns1.example.")},
	} {
		t.Run(tt.rr, func(t *testing.T) {
			rr, err := dns.NewRR(tt.rr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Rdata(rr))
		})
	}
}

func TestMaskingAndECS(t *testing.T) {
	opts := DefaultExportOptions()
	opts.MaskV4 = 4

	info := clientInfo()
	info.ECS = netip.MustParsePrefix("127.0.0.1/32")

	rec, err := NewRecordBuilder(opts).Query(newQuery(t), info)
	require.NoError(t, err)

	assert.Equal(t, []byte{112, 0, 0, 0}, rec.From)
	assert.Equal(t, []byte{112, 0, 0, 0}, rec.OriginalRequestorSubnet)
	assert.True(t, validate.CheckMasking(rec, 4, 128).Passed)

	opts = DefaultExportOptions()
	opts.MaskV6 = 48
	info.Client = netip.MustParseAddrPort("[2001:db8:1:2::1]:53000")
	info.ECS = netip.Prefix{}

	rec, err = NewRecordBuilder(opts).Query(newQuery(t), info)
	require.NoError(t, err)

	assert.Equal(t, telemetry.INET6, *rec.SocketFamily)
	assert.Equal(t, netip.MustParseAddr("2001:db8:1::").AsSlice(), rec.From)
}

func TestIdentityAndTags(t *testing.T) {
	opts := DefaultExportOptions()
	opts.Tags = []string{"static"}

	info := clientInfo()
	info.Decision.Tags = []string{"gettag", "shared"}
	info.Decision.RequestorID = "S-000001727"
	info.Decision.DeviceName = "Joe"
	info.Policy = &AppliedPolicy{
		Type:     telemetry.PolicyTypeQName,
		Name:     "zone.rpz.",
		Trigger:  "*.test.example.",
		Hit:      "sub.test.example",
		Kind:     telemetry.PolicyKindNoAction,
		Tags:     []string{"policy", "shared"},
		ZoneTags: []string{"rpz"},
	}

	query := newQuery(t)
	builder := NewRecordBuilder(opts)

	rec, err := builder.Response(newAnswer(t, query, "a.example. 15 IN A 192.0.2.42"), info)
	require.NoError(t, err)

	report := validate.NewReport("response").Add(
		validate.CheckIdentity(rec, info.Decision),
		validate.CheckTags(rec, validate.TagSources{
			Hook:   info.Decision.Tags,
			Policy: info.Policy.Tags,
			Zone:   info.Policy.ZoneTags,
			Static: opts.Tags,
		}),
		validate.CheckPolicy(rec, &validate.ExpectedPolicy{
			Type:    telemetry.PolicyTypeQName,
			Name:    "zone.rpz.",
			Trigger: "*.test.example.",
			Hit:     "sub.test.example",
			Kind:    telemetry.PolicyKindNoAction,
		}),
	)
	assert.True(t, report.Passed(), report.String())
	assert.Nil(t, rec.DeviceID)

	queryRec, err := builder.Query(query, info)
	require.NoError(t, err)
	require.NotNil(t, queryRec.Response)
	assert.Equal(t, []string{"gettag", "shared", "policy", "rpz", "static"}, queryRec.Response.Tags)
	assert.Nil(t, queryRec.Response.Rcode)
}

func TestUpstreamRecordsPassLiveProfile(t *testing.T) {
	opts := DefaultExportOptions()
	opts.MaxCacheTTL = 15
	opts.MaskV4 = 24

	info := clientInfo()
	info.Server = netip.MustParseAddrPort("10.0.0.53:53")
	info.Upstream = netip.MustParseAddrPort("192.0.2.1:53")

	query := newQuery(t)
	answer := newAnswer(t, query, "a.example. 3600 IN A 192.0.2.42")
	builder := NewRecordBuilder(opts)
	profile := validate.Profile{MaxCacheTTL: 15, MaskV4: 24, MaskV6: 128}

	outgoing, err := builder.OutgoingQuery(query, info)
	require.NoError(t, err)
	incoming, err := builder.IncomingResponse(answer, info)
	require.NoError(t, err)
	response, err := builder.Response(answer, info)
	require.NoError(t, err)

	// Upstream records keep the received TTL and the resolver's own address.
	assert.Equal(t, uint32(3600), *incoming.Response.RRs[0].TTL)
	assert.Equal(t, []byte{10, 0, 0, 53}, outgoing.From)

	for _, rec := range []*telemetry.Record{outgoing, incoming, response} {
		report := profile.Run(rec)
		assert.True(t, report.Passed(), report.String())
	}
}
