package export

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"pbcollector/internal/hooks"
	"pbcollector/internal/telemetry"
)

// ErrNoQuestion is returned when a message without a question section is exported.
var ErrNoQuestion = errors.New("export: message has no question")

// AppliedPolicy is the response policy zone rule that matched an exchange, with the tags the
// policy engine and the zone attached.
type AppliedPolicy struct {
	Type    telemetry.PolicyType
	Name    string
	Trigger string
	Hit     string
	Kind    telemetry.PolicyKind
	// Tags are added by the policy hook; ZoneTags come from the policy zone's metadata.
	Tags     []string
	ZoneTags []string
}

// ExchangeInfo is the context of a DNS exchange the message alone does not carry.
type ExchangeInfo struct {
	// MessageID correlates the records of one exchange. A random id is generated if empty.
	MessageID []byte
	// InitialRequestID is the message id of the client query that caused an outgoing exchange.
	InitialRequestID []byte
	// Client is the client's address and Server the resolver's address the client talked to.
	Client netip.AddrPort
	Server netip.AddrPort
	// Upstream is the authoritative server of an outgoing exchange.
	Upstream netip.AddrPort
	TCP      bool
	// ECS is the client subnet option received with the query, if any.
	ECS             netip.Prefix
	Decision        hooks.Decision
	Policy          *AppliedPolicy
	ValidationState telemetry.ValidationState
	// Time is when the record was emitted and QueryTime when the query was received. Zero
	// values mean now.
	Time      time.Time
	QueryTime time.Time
}

// NewMessageID returns a random exchange correlation id.
func NewMessageID() []byte {
	id := uuid.New()
	return id[:]
}

// RecordBuilder turns DNS messages into telemetry records.
type RecordBuilder struct {
	opts ExportOptions
}

// NewRecordBuilder creates a builder with the given export options.
func NewRecordBuilder(opts ExportOptions) *RecordBuilder {
	return &RecordBuilder{opts: opts}
}

// Tags returns the set of tags an exchange carries: hook tags, policy tags, policy zone tags and
// the static export tags, deduplicated in that order.
func (b *RecordBuilder) Tags(info ExchangeInfo) []string {
	sources := [][]string{info.Decision.Tags}
	if info.Policy != nil {
		sources = append(sources, info.Policy.Tags, info.Policy.ZoneTags)
	}
	sources = append(sources, b.opts.Tags)

	var tags []string
	seen := make(map[string]struct{})
	for _, src := range sources {
		for _, tag := range src {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}

	return tags
}

// Query builds the record of a client query.
func (b *RecordBuilder) Query(msg *dns.Msg, info ExchangeInfo) (*telemetry.Record, error) {
	rec, err := b.base(telemetry.KindQuery, msg, info)
	if err != nil {
		return nil, err
	}

	b.client(rec, info)
	rec.To = addrBytes(info.Server.Addr())
	rec.ToPort = port(info.Server)

	if tags := b.Tags(info); len(tags) > 0 {
		rec.Response = &telemetry.Response{Tags: tags}
	}

	return rec, nil
}

// Response builds the record of a response sent to a client. Exported TTLs are capped at the
// configured maximum cache TTL.
func (b *RecordBuilder) Response(msg *dns.Msg, info ExchangeInfo) (*telemetry.Record, error) {
	rec, err := b.base(telemetry.KindResponse, msg, info)
	if err != nil {
		return nil, err
	}

	b.client(rec, info)
	rec.Response = b.response(msg, info, true)
	rec.Response.Tags = b.Tags(info)

	if p := info.Policy; p != nil {
		rec.Response.AppliedPolicy = telemetry.String(p.Name)
		rec.Response.AppliedPolicyType = telemetry.Policy(p.Type)
		rec.Response.AppliedPolicyTrigger = telemetry.String(p.Trigger)
		rec.Response.AppliedPolicyHit = telemetry.String(p.Hit)
		rec.Response.AppliedPolicyKind = telemetry.Action(p.Kind)
	}

	return rec, nil
}

// OutgoingQuery builds the record of a query sent to an authoritative server.
func (b *RecordBuilder) OutgoingQuery(msg *dns.Msg, info ExchangeInfo) (*telemetry.Record, error) {
	rec, err := b.base(telemetry.KindOutgoingQuery, msg, info)
	if err != nil {
		return nil, err
	}

	b.upstream(rec, info)

	return rec, nil
}

// IncomingResponse builds the record of a response received from an authoritative server. TTLs
// are exported as received.
func (b *RecordBuilder) IncomingResponse(msg *dns.Msg, info ExchangeInfo) (*telemetry.Record, error) {
	rec, err := b.base(telemetry.KindIncomingResponse, msg, info)
	if err != nil {
		return nil, err
	}

	b.upstream(rec, info)
	rec.Response = b.response(msg, info, false)

	return rec, nil
}

// NetworkError builds the IncomingResponse record of an outgoing query that got no response at
// all: zero bytes received and the out-of-band network error rcode.
func (b *RecordBuilder) NetworkError(query *dns.Msg, info ExchangeInfo) (*telemetry.Record, error) {
	rec, err := b.base(telemetry.KindIncomingResponse, query, info)
	if err != nil {
		return nil, err
	}

	b.upstream(rec, info)
	rec.SizeBytes = telemetry.Uint64(0)
	rec.Response = &telemetry.Response{
		Rcode:           telemetry.Uint32(telemetry.NetworkErrorRcode),
		QueryTimeSec:    telemetry.Uint32(uint32(queryTime(info).Unix())),
		QueryTimeUsec:   telemetry.Uint32(uint32(queryTime(info).Nanosecond() / 1000)),
		ValidationState: telemetry.VState(validationState(info)),
	}

	return rec, nil
}

// base fills the envelope shared by every kind.
func (b *RecordBuilder) base(kind telemetry.Kind, msg *dns.Msg, info ExchangeInfo) (*telemetry.Record, error) {
	if len(msg.Question) == 0 {
		return nil, ErrNoQuestion
	}

	wire, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("export: failed to pack message: id=%d err=%w", msg.Id, err)
	}

	messageID := info.MessageID
	if len(messageID) == 0 {
		messageID = NewMessageID()
	}

	now := info.Time
	if now.IsZero() {
		now = time.Now()
	}

	protocol := telemetry.UDP
	if info.TCP {
		protocol = telemetry.TCP
	}

	q := msg.Question[0]

	return &telemetry.Record{
		Kind:           kind,
		MessageID:      append([]byte{}, messageID...),
		ServerIdentity: []byte(b.opts.ServerIdentity),
		SocketProtocol: telemetry.Protocol(protocol),
		SizeBytes:      telemetry.Uint64(uint64(len(wire))),
		TimeSec:        telemetry.Uint32(uint32(now.Unix())),
		TimeUsec:       telemetry.Uint32(uint32(now.Nanosecond() / 1000)),
		ID:             telemetry.Uint32(uint32(msg.Id)),
		Question: &telemetry.Question{
			Name:  telemetry.String(q.Name),
			Type:  telemetry.Uint32(uint32(q.Qtype)),
			Class: telemetry.Uint32(uint32(q.Qclass)),
		},
	}, nil
}

// client fills the client-facing address and identity fields, masking client addresses.
func (b *RecordBuilder) client(rec *telemetry.Record, info ExchangeInfo) {
	rec.SocketFamily = telemetry.Family(family(info.Client.Addr()))
	rec.From = addrBytes(b.mask(info.Client.Addr()))
	rec.FromPort = port(info.Client)

	if info.ECS.IsValid() {
		rec.OriginalRequestorSubnet = addrBytes(b.mask(info.ECS.Masked().Addr()))
	}

	if d := info.Decision; d.RequestorID != "" {
		rec.RequestorID = telemetry.String(d.RequestorID)
	}
	if d := info.Decision; d.DeviceID != "" {
		rec.DeviceID = []byte(d.DeviceID)
	}
	if d := info.Decision; d.DeviceName != "" {
		rec.DeviceName = telemetry.String(d.DeviceName)
	}
}

// upstream fills the addresses of an exchange between the resolver and an authoritative server.
func (b *RecordBuilder) upstream(rec *telemetry.Record, info ExchangeInfo) {
	rec.SocketFamily = telemetry.Family(family(info.Upstream.Addr()))
	rec.From = addrBytes(info.Server.Addr())
	rec.FromPort = port(info.Server)
	rec.To = addrBytes(info.Upstream.Addr())
	rec.ToPort = port(info.Upstream)

	if len(info.InitialRequestID) > 0 {
		rec.InitialRequestID = append([]byte{}, info.InitialRequestID...)
	}
}

func (b *RecordBuilder) response(msg *dns.Msg, info ExchangeInfo, capTTL bool) *telemetry.Response {
	qt := queryTime(info)

	resp := &telemetry.Response{
		Rcode:           telemetry.Uint32(uint32(msg.Rcode)),
		QueryTimeSec:    telemetry.Uint32(uint32(qt.Unix())),
		QueryTimeUsec:   telemetry.Uint32(uint32(qt.Nanosecond() / 1000)),
		ValidationState: telemetry.VState(validationState(info)),
	}

	for _, rr := range msg.Answer {
		hdr := rr.Header()
		if !b.opts.exportsType(hdr.Rrtype) {
			continue
		}

		ttl := hdr.Ttl
		if capTTL && ttl > b.opts.MaxCacheTTL {
			ttl = b.opts.MaxCacheTTL
		}

		resp.RRs = append(resp.RRs, telemetry.RR{
			Name:  telemetry.String(hdr.Name),
			Type:  telemetry.Uint32(uint32(hdr.Rrtype)),
			Class: telemetry.Uint32(uint32(hdr.Class)),
			TTL:   telemetry.Uint32(ttl),
			Rdata: Rdata(rr),
		})
	}

	return resp
}

// mask clears the address bits beyond the configured prefix length.
func (b *RecordBuilder) mask(addr netip.Addr) netip.Addr {
	if !addr.IsValid() {
		return addr
	}

	addr = addr.Unmap()

	bits := b.opts.MaskV4
	if addr.Is6() {
		bits = b.opts.MaskV6
	}

	prefix, err := addr.Prefix(bits)
	if err != nil {
		return addr
	}

	return prefix.Addr()
}

func family(addr netip.Addr) telemetry.SocketFamily {
	if addr.Unmap().Is4() {
		return telemetry.INET
	}
	return telemetry.INET6
}

func addrBytes(addr netip.Addr) []byte {
	if !addr.IsValid() {
		return nil
	}
	return addr.Unmap().AsSlice()
}

func port(ap netip.AddrPort) *uint32 {
	if !ap.IsValid() {
		return nil
	}
	return telemetry.Uint32(uint32(ap.Port()))
}

func queryTime(info ExchangeInfo) time.Time {
	if info.QueryTime.IsZero() {
		return time.Now()
	}
	return info.QueryTime
}

func validationState(info ExchangeInfo) telemetry.ValidationState {
	if info.ValidationState == 0 {
		return telemetry.Indeterminate
	}
	return info.ValidationState
}
