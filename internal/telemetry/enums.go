//go:generate go run golang.org/x/tools/cmd/stringer -type=Kind,SocketFamily,SocketProtocol,PolicyType,PolicyKind -output=enums_string.go

package telemetry

// Kind is the type of DNS event a record describes. The numeric values are the wire values.
type Kind int32

const (
	// KindQuery is a query received from a client.
	KindQuery Kind = 1
	// KindResponse is a response sent to a client.
	KindResponse Kind = 2
	// KindOutgoingQuery is a query sent to an authoritative server.
	KindOutgoingQuery Kind = 3
	// KindIncomingResponse is a response (or network failure) from an authoritative server.
	KindIncomingResponse Kind = 4
)

// IsQuery reports whether records of this kind carry a question.
func (k Kind) IsQuery() bool {
	return k == KindQuery || k == KindOutgoingQuery
}

// IsResponse reports whether records of this kind carry a response.
func (k Kind) IsResponse() bool {
	return k == KindResponse || k == KindIncomingResponse
}

// IsOutgoing reports whether the record describes traffic between the resolver and an upstream.
func (k Kind) IsOutgoing() bool {
	return k == KindOutgoingQuery || k == KindIncomingResponse
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindQuery && k <= KindIncomingResponse
}

// SocketFamily is the address family of the exported endpoints.
type SocketFamily int32

const (
	// INET is IPv4.
	INET SocketFamily = 1
	// INET6 is IPv6.
	INET6 SocketFamily = 2
)

// SocketProtocol is the transport over which the DNS message travelled.
type SocketProtocol int32

const (
	// UDP transport.
	UDP SocketProtocol = 1
	// TCP transport.
	TCP SocketProtocol = 2
)

// PolicyType is the trigger class of an applied response policy zone rule.
type PolicyType int32

const (
	PolicyTypeUnknown    PolicyType = 1
	PolicyTypeQName      PolicyType = 2
	PolicyTypeClientIP   PolicyType = 3
	PolicyTypeResponseIP PolicyType = 4
	PolicyTypeNSDName    PolicyType = 5
	PolicyTypeNSIP       PolicyType = 6
)

// PolicyKind is the action of an applied response policy zone rule.
type PolicyKind int32

const (
	PolicyKindNoAction PolicyKind = 1
	PolicyKindDrop     PolicyKind = 2
	PolicyKindNXDOMAIN PolicyKind = 3
	PolicyKindNODATA   PolicyKind = 4
	PolicyKindTruncate PolicyKind = 5
	PolicyKindCustom   PolicyKind = 6
)

// ValidationState is the DNSSEC validation state of a response.
type ValidationState int32

const (
	Indeterminate                  ValidationState = 1
	Insecure                       ValidationState = 2
	Secure                         ValidationState = 3
	BogusNoValidDNSKEY             ValidationState = 4
	BogusInvalidDenial             ValidationState = 5
	BogusUnableToGetDSs            ValidationState = 6
	BogusUnableToGetDNSKEYs        ValidationState = 7
	BogusSelfSignedDS              ValidationState = 8
	BogusNoRRSIG                   ValidationState = 9
	BogusNoValidRRSIG              ValidationState = 10
	BogusMissingNegativeIndication ValidationState = 11
	BogusSignatureNotYetValid      ValidationState = 12
	BogusSignatureExpired          ValidationState = 13
	BogusUnsupportedDNSKEYAlgo     ValidationState = 14
	BogusUnsupportedDSDigestType   ValidationState = 15
	BogusNoZoneKeyBitSet           ValidationState = 16
	BogusRevokedDNSKEY             ValidationState = 17
	BogusInvalidDNSKEYProtocol     ValidationState = 18
)

// NetworkErrorRcode is the out-of-band rcode an IncomingResponse carries when no response was
// received at all (timeout, unreachable). It cannot collide with a real 12-bit extended rcode.
const NetworkErrorRcode = 65536
