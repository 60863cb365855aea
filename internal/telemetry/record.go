package telemetry

import (
	"fmt"
	"net/netip"
	"strings"
)

// Record is one decoded telemetry event. Optional scalar fields are pointers and optional bytes
// fields are slices; nil means the field was absent on the wire.
type Record struct {
	Kind                    Kind
	MessageID               []byte
	ServerIdentity          []byte
	SocketFamily            *SocketFamily
	SocketProtocol          *SocketProtocol
	From                    []byte
	To                      []byte
	SizeBytes               *uint64
	TimeSec                 *uint32
	TimeUsec                *uint32
	ID                      *uint32
	Question                *Question
	Response                *Response
	OriginalRequestorSubnet []byte
	RequestorID             *string
	InitialRequestID        []byte
	DeviceID                []byte
	NewlyObservedDomain     *bool
	DeviceName              *string
	FromPort                *uint32
	ToPort                  *uint32
}

// Question is the question section of a query record.
type Question struct {
	Name  *string
	Type  *uint32
	Class *uint32
}

// Response is the response substructure. Query-kind records may carry one holding only Tags.
type Response struct {
	Rcode                *uint32
	RRs                  []RR
	AppliedPolicy        *string
	Tags                 []string
	QueryTimeSec         *uint32
	QueryTimeUsec        *uint32
	AppliedPolicyType    *PolicyType
	AppliedPolicyTrigger *string
	AppliedPolicyHit     *string
	AppliedPolicyKind    *PolicyKind
	ValidationState      *ValidationState
}

// RR is one exported resource record.
type RR struct {
	Name  *string
	Type  *uint32
	Class *uint32
	TTL   *uint32
	Rdata []byte
	UDR   *bool
}

// String returns a pointer to s.
func String(s string) *string { return &s }

// Uint32 returns a pointer to v.
func Uint32(v uint32) *uint32 { return &v }

// Uint64 returns a pointer to v.
func Uint64(v uint64) *uint64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Family returns a pointer to f.
func Family(f SocketFamily) *SocketFamily { return &f }

// Protocol returns a pointer to p.
func Protocol(p SocketProtocol) *SocketProtocol { return &p }

// Policy returns a pointer to t.
func Policy(t PolicyType) *PolicyType { return &t }

// Action returns a pointer to k.
func Action(k PolicyKind) *PolicyKind { return &k }

// VState returns a pointer to s.
func VState(s ValidationState) *ValidationState { return &s }

// GetID returns the transaction id, or 0 if absent.
func (r *Record) GetID() uint32 {
	if r == nil || r.ID == nil {
		return 0
	}
	return *r.ID
}

// GetSizeBytes returns the wire size of the described message, or 0 if absent.
func (r *Record) GetSizeBytes() uint64 {
	if r == nil || r.SizeBytes == nil {
		return 0
	}
	return *r.SizeBytes
}

// Tags returns the record's tag set, carried in the response substructure on the wire.
func (r *Record) Tags() []string {
	if r == nil || r.Response == nil {
		return nil
	}
	return r.Response.Tags
}

// FromAddr parses the initiator address.
func (r *Record) FromAddr() (netip.Addr, bool) {
	return netip.AddrFromSlice(r.From)
}

// ToAddr parses the responder address.
func (r *Record) ToAddr() (netip.Addr, bool) {
	return netip.AddrFromSlice(r.To)
}

// RequestorSubnet parses the original requestor subnet address.
func (r *Record) RequestorSubnet() (netip.Addr, bool) {
	return netip.AddrFromSlice(r.OriginalRequestorSubnet)
}

// HasPolicy reports whether any applied policy field is set.
func (r *Response) HasPolicy() bool {
	return r.AppliedPolicy != nil ||
		r.AppliedPolicyType != nil ||
		r.AppliedPolicyTrigger != nil ||
		r.AppliedPolicyHit != nil ||
		r.AppliedPolicyKind != nil
}

// HasCompletePolicy reports whether every applied policy field is set.
func (r *Response) HasCompletePolicy() bool {
	return r.AppliedPolicy != nil &&
		r.AppliedPolicyType != nil &&
		r.AppliedPolicyTrigger != nil &&
		r.AppliedPolicyHit != nil &&
		r.AppliedPolicyKind != nil
}

// onlyTags reports whether the response carries nothing but tags.
func (r *Response) onlyTags() bool {
	return r.Rcode == nil &&
		len(r.RRs) == 0 &&
		!r.HasPolicy() &&
		r.QueryTimeSec == nil &&
		r.QueryTimeUsec == nil &&
		r.ValidationState == nil
}

// Summary renders the identifying fields of a record for log lines.
func (r *Record) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "kind=%s id=%d size=%d", r.Kind, r.GetID(), r.GetSizeBytes())

	if addr, ok := r.FromAddr(); ok {
		fmt.Fprintf(&b, " from=%s", addr)
	}

	if r.Question != nil && r.Question.Name != nil {
		fmt.Fprintf(&b, " qname=%s", *r.Question.Name)
	}

	if r.Response != nil {
		if r.Response.Rcode != nil {
			fmt.Fprintf(&b, " rcode=%d", *r.Response.Rcode)
		}
		if len(r.Response.RRs) > 0 {
			fmt.Fprintf(&b, " rrs=%d", len(r.Response.RRs))
		}
		if len(r.Response.Tags) > 0 {
			fmt.Fprintf(&b, " tags=%s", strings.Join(r.Response.Tags, ","))
		}
	}

	return b.String()
}
