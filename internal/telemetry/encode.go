package telemetry

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal serializes a record into its PBDNSMessage wire form. Only fields that are present on
// the record are written.
func Marshal(r *Record) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("telemetry: cannot marshal nil record")
	}

	if !r.Kind.Valid() {
		return nil, fmt.Errorf("telemetry: cannot marshal record with invalid kind: kind=%d", r.Kind)
	}

	var b []byte

	b = appendVarint(b, fieldType, uint64(r.Kind))
	b = appendBytes(b, fieldMessageID, r.MessageID)
	b = appendBytes(b, fieldServerIdentity, r.ServerIdentity)
	if r.SocketFamily != nil {
		b = appendVarint(b, fieldSocketFamily, uint64(*r.SocketFamily))
	}
	if r.SocketProtocol != nil {
		b = appendVarint(b, fieldSocketProtocol, uint64(*r.SocketProtocol))
	}
	b = appendBytes(b, fieldFrom, r.From)
	b = appendBytes(b, fieldTo, r.To)
	if r.SizeBytes != nil {
		b = appendVarint(b, fieldInBytes, *r.SizeBytes)
	}
	b = appendUint32(b, fieldTimeSec, r.TimeSec)
	b = appendUint32(b, fieldTimeUsec, r.TimeUsec)
	b = appendUint32(b, fieldID, r.ID)

	if r.Question != nil {
		b = appendMessage(b, fieldQuestion, marshalQuestion(r.Question))
	}
	if r.Response != nil {
		b = appendMessage(b, fieldResponse, marshalResponse(r.Response))
	}

	b = appendBytes(b, fieldOriginalRequestorSubnet, r.OriginalRequestorSubnet)
	b = appendString(b, fieldRequestorID, r.RequestorID)
	b = appendBytes(b, fieldInitialRequestID, r.InitialRequestID)
	b = appendBytes(b, fieldDeviceID, r.DeviceID)
	b = appendBool(b, fieldNewlyObservedDomain, r.NewlyObservedDomain)
	b = appendString(b, fieldDeviceName, r.DeviceName)
	b = appendUint32(b, fieldFromPort, r.FromPort)
	b = appendUint32(b, fieldToPort, r.ToPort)

	return b, nil
}

func marshalQuestion(q *Question) []byte {
	var b []byte

	b = appendString(b, fieldQName, q.Name)
	b = appendUint32(b, fieldQType, q.Type)
	b = appendUint32(b, fieldQClass, q.Class)

	return b
}

func marshalResponse(r *Response) []byte {
	var b []byte

	b = appendUint32(b, fieldRcode, r.Rcode)
	for i := range r.RRs {
		b = appendMessage(b, fieldRRs, marshalRR(&r.RRs[i]))
	}
	b = appendString(b, fieldAppliedPolicy, r.AppliedPolicy)
	for _, tag := range r.Tags {
		b = protowire.AppendTag(b, fieldTags, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	b = appendUint32(b, fieldQueryTimeSec, r.QueryTimeSec)
	b = appendUint32(b, fieldQueryTimeUsec, r.QueryTimeUsec)
	if r.AppliedPolicyType != nil {
		b = appendVarint(b, fieldAppliedPolicyType, uint64(*r.AppliedPolicyType))
	}
	b = appendString(b, fieldAppliedPolicyTrigger, r.AppliedPolicyTrigger)
	b = appendString(b, fieldAppliedPolicyHit, r.AppliedPolicyHit)
	if r.AppliedPolicyKind != nil {
		b = appendVarint(b, fieldAppliedPolicyKind, uint64(*r.AppliedPolicyKind))
	}
	if r.ValidationState != nil {
		b = appendVarint(b, fieldValidationState, uint64(*r.ValidationState))
	}

	return b
}

func marshalRR(rr *RR) []byte {
	var b []byte

	b = appendString(b, fieldRRName, rr.Name)
	b = appendUint32(b, fieldRRType, rr.Type)
	b = appendUint32(b, fieldRRClass, rr.Class)
	b = appendUint32(b, fieldRRTTL, rr.TTL)
	b = appendBytes(b, fieldRRData, rr.Rdata)
	b = appendBool(b, fieldRRUDR, rr.UDR)

	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendUint32(b []byte, num protowire.Number, v *uint32) []byte {
	if v == nil {
		return b
	}
	return appendVarint(b, num, uint64(*v))
}

func appendBool(b []byte, num protowire.Number, v *bool) []byte {
	if v == nil {
		return b
	}
	return appendVarint(b, num, protowire.EncodeBool(*v))
}

// appendBytes writes a bytes field when v is non-nil; a non-nil empty slice is written as a
// present, zero-length field.
func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v *string) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
