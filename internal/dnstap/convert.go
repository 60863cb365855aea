// Package dnstap ingests dnstap messages carried over Frame Streams, for resolvers that export
// dnstap instead of the native record stream. Each message is converted into a telemetry record
// and queued like a natively received one.
package dnstap

import (
	"errors"
	"fmt"

	tap "github.com/dnstap/golang-dnstap"
	"github.com/google/uuid"
	"github.com/miekg/dns"
	"google.golang.org/protobuf/proto"

	"pbcollector/internal/export"
	"pbcollector/internal/telemetry"
)

// ContentType is the Frame Streams content type of dnstap payloads.
var ContentType = []byte("protobuf:dnstap.Dnstap")

// ErrUnsupported is returned for dnstap messages with no telemetry record equivalent.
var ErrUnsupported = errors.New("dnstap: unsupported message type")

var kinds = map[tap.Message_Type]telemetry.Kind{
	tap.Message_CLIENT_QUERY:      telemetry.KindQuery,
	tap.Message_CLIENT_RESPONSE:   telemetry.KindResponse,
	tap.Message_RESOLVER_QUERY:    telemetry.KindOutgoingQuery,
	tap.Message_RESOLVER_RESPONSE: telemetry.KindIncomingResponse,
}

// Decode parses one dnstap frame payload and converts it.
func Decode(payload []byte) (*telemetry.Record, error) {
	var dt tap.Dnstap
	if err := proto.Unmarshal(payload, &dt); err != nil {
		return nil, fmt.Errorf("dnstap: malformed payload: err=%w", err)
	}

	return Convert(&dt)
}

// Convert turns a dnstap message into a telemetry record. The embedded DNS message supplies the
// transaction id, question, rcode and answers.
func Convert(dt *tap.Dnstap) (*telemetry.Record, error) {
	msg := dt.GetMessage()
	if msg == nil {
		return nil, ErrUnsupported
	}

	kind, ok := kinds[msg.GetType()]
	if !ok {
		return nil, fmt.Errorf("%w: type=%v", ErrUnsupported, msg.GetType())
	}

	wire := msg.GetQueryMessage()
	sec, nsec := msg.GetQueryTimeSec(), msg.GetQueryTimeNsec()
	if kind.IsResponse() {
		wire = msg.GetResponseMessage()
		sec, nsec = msg.GetResponseTimeSec(), msg.GetResponseTimeNsec()
	}

	dnsMsg := new(dns.Msg)
	if err := dnsMsg.Unpack(wire); err != nil {
		return nil, fmt.Errorf("dnstap: failed to unpack DNS message: type=%v bytes=%d err=%w", msg.GetType(), len(wire), err)
	}
	if len(dnsMsg.Question) == 0 {
		return nil, export.ErrNoQuestion
	}

	family := telemetry.INET
	if msg.GetSocketFamily() == tap.SocketFamily_INET6 {
		family = telemetry.INET6
	}

	protocol := telemetry.TCP
	if msg.GetSocketProtocol() == tap.SocketProtocol_UDP {
		protocol = telemetry.UDP
	}

	identity := dt.GetIdentity()
	if identity == nil {
		identity = []byte{}
	}

	messageID := uuid.New()
	q := dnsMsg.Question[0]

	rec := &telemetry.Record{
		Kind:           kind,
		MessageID:      messageID[:],
		ServerIdentity: append([]byte{}, identity...),
		SocketFamily:   telemetry.Family(family),
		SocketProtocol: telemetry.Protocol(protocol),
		From:           clone(msg.GetQueryAddress()),
		SizeBytes:      telemetry.Uint64(uint64(len(wire))),
		TimeSec:        telemetry.Uint32(uint32(sec)),
		TimeUsec:       telemetry.Uint32(nsec / 1000),
		ID:             telemetry.Uint32(uint32(dnsMsg.Id)),
		Question: &telemetry.Question{
			Name:  telemetry.String(q.Name),
			Type:  telemetry.Uint32(uint32(q.Qtype)),
			Class: telemetry.Uint32(uint32(q.Qclass)),
		},
	}

	if msg.QueryPort != nil {
		rec.FromPort = telemetry.Uint32(msg.GetQueryPort())
	}

	// Client responses carry no responder address.
	if kind != telemetry.KindResponse {
		rec.To = clone(msg.GetResponseAddress())
		if msg.ResponsePort != nil {
			rec.ToPort = telemetry.Uint32(msg.GetResponsePort())
		}
	}

	if kind.IsResponse() {
		rec.Response = &telemetry.Response{
			Rcode:           telemetry.Uint32(uint32(dnsMsg.Rcode)),
			QueryTimeSec:    telemetry.Uint32(uint32(msg.GetQueryTimeSec())),
			QueryTimeUsec:   telemetry.Uint32(msg.GetQueryTimeNsec() / 1000),
			ValidationState: telemetry.VState(telemetry.Indeterminate),
		}

		for _, rr := range dnsMsg.Answer {
			hdr := rr.Header()
			rec.Response.RRs = append(rec.Response.RRs, telemetry.RR{
				Name:  telemetry.String(hdr.Name),
				Type:  telemetry.Uint32(uint32(hdr.Rrtype)),
				Class: telemetry.Uint32(uint32(hdr.Class)),
				TTL:   telemetry.Uint32(hdr.Ttl),
				Rdata: export.Rdata(rr),
			})
		}
	}

	return rec, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
