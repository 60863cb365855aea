package telemetry

import "google.golang.org/protobuf/encoding/protowire"

// PBDNSMessage field numbers.
const (
	fieldType                    protowire.Number = 1
	fieldMessageID               protowire.Number = 2
	fieldServerIdentity          protowire.Number = 3
	fieldSocketFamily            protowire.Number = 4
	fieldSocketProtocol          protowire.Number = 5
	fieldFrom                    protowire.Number = 6
	fieldTo                      protowire.Number = 7
	fieldInBytes                 protowire.Number = 8
	fieldTimeSec                 protowire.Number = 9
	fieldTimeUsec                protowire.Number = 10
	fieldID                      protowire.Number = 11
	fieldQuestion                protowire.Number = 12
	fieldResponse                protowire.Number = 13
	fieldOriginalRequestorSubnet protowire.Number = 14
	fieldRequestorID             protowire.Number = 15
	fieldInitialRequestID        protowire.Number = 16
	fieldDeviceID                protowire.Number = 17
	fieldNewlyObservedDomain     protowire.Number = 18
	fieldDeviceName              protowire.Number = 19
	fieldFromPort                protowire.Number = 20
	fieldToPort                  protowire.Number = 21
)

// DNSQuestion field numbers.
const (
	fieldQName  protowire.Number = 1
	fieldQType  protowire.Number = 2
	fieldQClass protowire.Number = 3
)

// DNSResponse field numbers.
const (
	fieldRcode                protowire.Number = 1
	fieldRRs                  protowire.Number = 2
	fieldAppliedPolicy        protowire.Number = 3
	fieldTags                 protowire.Number = 4
	fieldQueryTimeSec         protowire.Number = 5
	fieldQueryTimeUsec        protowire.Number = 6
	fieldAppliedPolicyType    protowire.Number = 7
	fieldAppliedPolicyTrigger protowire.Number = 8
	fieldAppliedPolicyHit     protowire.Number = 9
	fieldAppliedPolicyKind    protowire.Number = 10
	fieldValidationState      protowire.Number = 11
)

// DNSRR field numbers.
const (
	fieldRRName  protowire.Number = 1
	fieldRRType  protowire.Number = 2
	fieldRRClass protowire.Number = 3
	fieldRRTTL   protowire.Number = 4
	fieldRRData  protowire.Number = 5
	fieldRRUDR   protowire.Number = 6
)
