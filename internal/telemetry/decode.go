package telemetry

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// SchemaError describes a payload that is not a structurally valid record: a truncated or
// mistyped field, a missing required field, or a kind that does not match the populated
// union member.
type SchemaError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("telemetry: schema error: field=%s reason=%s", e.Field, e.Reason)
}

// fieldFunc decodes one field whose tag has already been consumed. It returns the number of bytes
// of b consumed, or -1 for a field it does not know, which is then skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// Unmarshal decodes a PBDNSMessage payload. Unknown fields are ignored. The returned record never
// aliases b.
func Unmarshal(b []byte) (*Record, error) {
	r := &Record{}

	err := walk("PBDNSMessage", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldType:
			var v *uint32
			n, err := decodeUint32(&v, "type", typ, b)
			if err != nil {
				return 0, err
			}
			if kind := Kind(*v); kind.Valid() {
				r.Kind = kind
				return n, nil
			}
			return 0, &SchemaError{Field: "type", Reason: fmt.Sprintf("unknown kind %d", *v)}
		case fieldMessageID:
			return decodeBytes(&r.MessageID, "messageId", typ, b)
		case fieldServerIdentity:
			return decodeBytes(&r.ServerIdentity, "serverIdentity", typ, b)
		case fieldSocketFamily:
			var v *uint32
			n, err := decodeUint32(&v, "socketFamily", typ, b)
			if err == nil {
				r.SocketFamily = Family(SocketFamily(*v))
			}
			return n, err
		case fieldSocketProtocol:
			var v *uint32
			n, err := decodeUint32(&v, "socketProtocol", typ, b)
			if err == nil {
				r.SocketProtocol = Protocol(SocketProtocol(*v))
			}
			return n, err
		case fieldFrom:
			return decodeBytes(&r.From, "from", typ, b)
		case fieldTo:
			return decodeBytes(&r.To, "to", typ, b)
		case fieldInBytes:
			return decodeUint64(&r.SizeBytes, "inBytes", typ, b)
		case fieldTimeSec:
			return decodeUint32(&r.TimeSec, "timeSec", typ, b)
		case fieldTimeUsec:
			return decodeUint32(&r.TimeUsec, "timeUsec", typ, b)
		case fieldID:
			return decodeUint16(&r.ID, "id", typ, b)
		case fieldQuestion:
			var raw []byte
			n, err := decodeBytes(&raw, "question", typ, b)
			if err != nil {
				return 0, err
			}
			r.Question, err = unmarshalQuestion(raw)
			return n, err
		case fieldResponse:
			var raw []byte
			n, err := decodeBytes(&raw, "response", typ, b)
			if err != nil {
				return 0, err
			}
			r.Response, err = unmarshalResponse(raw)
			return n, err
		case fieldOriginalRequestorSubnet:
			return decodeBytes(&r.OriginalRequestorSubnet, "originalRequestorSubnet", typ, b)
		case fieldRequestorID:
			return decodeString(&r.RequestorID, "requestorId", typ, b)
		case fieldInitialRequestID:
			return decodeBytes(&r.InitialRequestID, "initialRequestId", typ, b)
		case fieldDeviceID:
			return decodeBytes(&r.DeviceID, "deviceId", typ, b)
		case fieldNewlyObservedDomain:
			return decodeBool(&r.NewlyObservedDomain, "newlyObservedDomain", typ, b)
		case fieldDeviceName:
			return decodeString(&r.DeviceName, "deviceName", typ, b)
		case fieldFromPort:
			return decodeUint16(&r.FromPort, "fromPort", typ, b)
		case fieldToPort:
			return decodeUint16(&r.ToPort, "toPort", typ, b)
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkRequired(r); err != nil {
		return nil, err
	}

	return r, nil
}

// checkRequired enforces the fields every exporter must set and the kind/union correspondence.
func checkRequired(r *Record) error {
	missing := func(field string) error {
		return &SchemaError{Field: field, Reason: "required field missing"}
	}

	switch {
	case r.Kind == 0:
		return missing("type")
	case r.TimeSec == nil:
		return missing("timeSec")
	case r.SocketFamily == nil:
		return missing("socketFamily")
	case r.ID == nil:
		return missing("id")
	case r.MessageID == nil:
		return missing("messageId")
	case r.ServerIdentity == nil:
		return missing("serverIdentity")
	case r.SizeBytes == nil:
		return missing("inBytes")
	}

	if r.Kind.IsQuery() {
		if r.Question == nil {
			return &SchemaError{Field: "question", Reason: fmt.Sprintf("missing on %s record", r.Kind)}
		}
		if r.Response != nil && !r.Response.onlyTags() {
			return &SchemaError{Field: "response", Reason: fmt.Sprintf("response data on %s record", r.Kind)}
		}
	}

	if r.Kind.IsResponse() && r.Response == nil {
		return &SchemaError{Field: "response", Reason: fmt.Sprintf("missing on %s record", r.Kind)}
	}

	return nil
}

func unmarshalQuestion(b []byte) (*Question, error) {
	q := &Question{}

	err := walk("DNSQuestion", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldQName:
			return decodeString(&q.Name, "question.qName", typ, b)
		case fieldQType:
			return decodeUint16(&q.Type, "question.qType", typ, b)
		case fieldQClass:
			return decodeUint16(&q.Class, "question.qClass", typ, b)
		}
		return -1, nil
	})

	return q, err
}

func unmarshalResponse(b []byte) (*Response, error) {
	resp := &Response{}

	err := walk("DNSResponse", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldRcode:
			return decodeUint32(&resp.Rcode, "response.rcode", typ, b)
		case fieldRRs:
			var raw []byte
			n, err := decodeBytes(&raw, "response.rrs", typ, b)
			if err != nil {
				return 0, err
			}
			rr, err := unmarshalRR(raw)
			if err != nil {
				return 0, err
			}
			resp.RRs = append(resp.RRs, *rr)
			return n, nil
		case fieldAppliedPolicy:
			return decodeString(&resp.AppliedPolicy, "response.appliedPolicy", typ, b)
		case fieldTags:
			var tag *string
			n, err := decodeString(&tag, "response.tags", typ, b)
			if err == nil {
				resp.Tags = append(resp.Tags, *tag)
			}
			return n, err
		case fieldQueryTimeSec:
			return decodeUint32(&resp.QueryTimeSec, "response.queryTimeSec", typ, b)
		case fieldQueryTimeUsec:
			return decodeUint32(&resp.QueryTimeUsec, "response.queryTimeUsec", typ, b)
		case fieldAppliedPolicyType:
			var v *uint32
			n, err := decodeUint32(&v, "response.appliedPolicyType", typ, b)
			if err == nil {
				resp.AppliedPolicyType = Policy(PolicyType(*v))
			}
			return n, err
		case fieldAppliedPolicyTrigger:
			return decodeString(&resp.AppliedPolicyTrigger, "response.appliedPolicyTrigger", typ, b)
		case fieldAppliedPolicyHit:
			return decodeString(&resp.AppliedPolicyHit, "response.appliedPolicyHit", typ, b)
		case fieldAppliedPolicyKind:
			var v *uint32
			n, err := decodeUint32(&v, "response.appliedPolicyKind", typ, b)
			if err == nil {
				resp.AppliedPolicyKind = Action(PolicyKind(*v))
			}
			return n, err
		case fieldValidationState:
			var v *uint32
			n, err := decodeUint32(&v, "response.validationState", typ, b)
			if err == nil {
				resp.ValidationState = VState(ValidationState(*v))
			}
			return n, err
		}
		return -1, nil
	})

	return resp, err
}

func unmarshalRR(b []byte) (*RR, error) {
	rr := &RR{}

	err := walk("DNSRR", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldRRName:
			return decodeString(&rr.Name, "rr.name", typ, b)
		case fieldRRType:
			return decodeUint16(&rr.Type, "rr.type", typ, b)
		case fieldRRClass:
			return decodeUint16(&rr.Class, "rr.class", typ, b)
		case fieldRRTTL:
			return decodeUint32(&rr.TTL, "rr.ttl", typ, b)
		case fieldRRData:
			return decodeBytes(&rr.Rdata, "rr.rdata", typ, b)
		case fieldRRUDR:
			return decodeBool(&rr.UDR, "rr.udr", typ, b)
		}
		return -1, nil
	})

	return rr, err
}

// walk iterates over the fields of one serialized message.
func walk(message string, b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return &SchemaError{Field: message, Reason: protowire.ParseError(n).Error()}
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}

		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return &SchemaError{
					Field:  fmt.Sprintf("%s.%d", message, num),
					Reason: protowire.ParseError(n).Error(),
				}
			}
		}

		b = b[n:]
	}

	return nil
}

func wrongType(field string, want protowire.Type, got protowire.Type) error {
	return &SchemaError{
		Field:  field,
		Reason: fmt.Sprintf("wire type %d, expected %d", got, want),
	}
}

func consumeVarint(field string, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, wrongType(field, protowire.VarintType, typ)
	}

	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, &SchemaError{Field: field, Reason: protowire.ParseError(n).Error()}
	}

	return v, n, nil
}

func decodeUint32(dst **uint32, field string, typ protowire.Type, b []byte) (int, error) {
	return decodeBounded(dst, field, typ, b, math.MaxUint32)
}

// decodeUint16 decodes a field carried as uint32 on the wire whose values are 16-bit DNS
// quantities: message ids, ports, types and classes.
func decodeUint16(dst **uint32, field string, typ protowire.Type, b []byte) (int, error) {
	return decodeBounded(dst, field, typ, b, math.MaxUint16)
}

func decodeBounded(dst **uint32, field string, typ protowire.Type, b []byte, limit uint64) (int, error) {
	v, n, err := consumeVarint(field, typ, b)
	if err != nil {
		return 0, err
	}

	if v > limit {
		return 0, &SchemaError{Field: field, Reason: fmt.Sprintf("value %d out of range, max %d", v, limit)}
	}

	*dst = Uint32(uint32(v))
	return n, nil
}

func decodeUint64(dst **uint64, field string, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeVarint(field, typ, b)
	if err != nil {
		return 0, err
	}

	*dst = Uint64(v)
	return n, nil
}

func decodeBool(dst **bool, field string, typ protowire.Type, b []byte) (int, error) {
	v, n, err := consumeVarint(field, typ, b)
	if err != nil {
		return 0, err
	}

	*dst = Bool(protowire.DecodeBool(v))
	return n, nil
}

// decodeBytes copies a length-delimited field. A present but empty field decodes to a non-nil,
// zero-length slice so that presence survives.
func decodeBytes(dst *[]byte, field string, typ protowire.Type, b []byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, wrongType(field, protowire.BytesType, typ)
	}

	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, &SchemaError{Field: field, Reason: protowire.ParseError(n).Error()}
	}

	*dst = append([]byte{}, v...)
	return n, nil
}

func decodeString(dst **string, field string, typ protowire.Type, b []byte) (int, error) {
	var v []byte

	n, err := decodeBytes(&v, field, typ, b)
	if err != nil {
		return 0, err
	}

	*dst = String(string(v))
	return n, nil
}
