// Package hooks models the resolver-side decision callbacks that tag queries and attach identity
// to them. A hook is a pure function of the query; the exporter only consumes what it returns.
package hooks

import (
	"net/netip"
)

// QueryContext describes the client query a hook decides on.
type QueryContext struct {
	Name     string
	Type     uint16
	Class    uint16
	Remote   netip.AddrPort
	Local    netip.AddrPort
	TCP      bool
	ECS      netip.Prefix
	Incoming bool
}

// Decision is the outcome of a hook. Empty identity strings mean the field is not exported.
type Decision struct {
	Tags        []string
	RequestorID string
	DeviceID    string
	DeviceName  string
	// LogQuery and LogResponse may suppress export of an individual exchange.
	LogQuery    bool
	LogResponse bool
}

// Hook decides the tags and identity of a query.
type Hook interface {
	Decide(q QueryContext) Decision
}

// Func adapts a plain function to the Hook interface.
type Func func(q QueryContext) Decision

// Decide calls f(q).
func (f Func) Decide(q QueryContext) Decision {
	return f(q)
}

// Default returns a decision that exports everything and attaches nothing.
func Default() Decision {
	return Decision{LogQuery: true, LogResponse: true}
}

// NoopHook returns Default for every query.
type NoopHook struct{}

// Decide implements Hook.
func (NoopHook) Decide(q QueryContext) Decision {
	return Default()
}

// Static returns the same decision for every query.
type Static struct {
	Decision Decision
}

// Decide implements Hook.
func (s Static) Decide(q QueryContext) Decision {
	d := s.Decision
	d.Tags = append([]string(nil), s.Decision.Tags...)
	return d
}

// Chain runs hooks in order. Tags accumulate, a later non-empty identity field overrides an
// earlier one, and any hook may suppress logging.
type Chain []Hook

// Decide implements Hook.
func (c Chain) Decide(q QueryContext) Decision {
	out := Default()

	for _, h := range c {
		d := h.Decide(q)

		out.Tags = append(out.Tags, d.Tags...)
		if d.RequestorID != "" {
			out.RequestorID = d.RequestorID
		}
		if d.DeviceID != "" {
			out.DeviceID = d.DeviceID
		}
		if d.DeviceName != "" {
			out.DeviceName = d.DeviceName
		}
		out.LogQuery = out.LogQuery && d.LogQuery
		out.LogResponse = out.LogResponse && d.LogResponse
	}

	return out
}
