// Package telemetry models the protobuf DNS telemetry record (PBDNSMessage) that a resolver exports
// for every query, response, outgoing query and incoming response, and implements its wire codec.
//
// The codec is written directly against the protobuf wire format so that field presence is kept
// exactly: an optional field that was not set decodes to a nil pointer (or nil slice for bytes),
// which is distinguishable from a field set to its zero value. Presence is part of the contract
// with the exporter, e.g. a disabled requestor mask means originalRequestorSubnet is absent, not
// empty.
package telemetry
