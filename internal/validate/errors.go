package validate

import (
	"fmt"
	"net/netip"
	"strings"
)

// PairingMismatch reports a request/response pair whose correlation fields disagree.
type PairingMismatch struct {
	Field string
	Want  interface{}
	Got   interface{}
	// Inequal is set when the field was required to differ from Want rather than equal it.
	Inequal bool
}

// Error implements the error interface.
func (e *PairingMismatch) Error() string {
	if e.Inequal {
		return fmt.Sprintf("pairing mismatch: field=%s must differ from %v", e.Field, e.Want)
	}
	return fmt.Sprintf("pairing mismatch: field=%s want=%v got=%v", e.Field, e.Want, e.Got)
}

// PolicyMismatch reports applied policy fields that are partially set or do not describe the
// expected rule.
type PolicyMismatch struct {
	Field string
	Want  interface{}
	Got   interface{}
}

// Error implements the error interface.
func (e *PolicyMismatch) Error() string {
	return fmt.Sprintf("policy mismatch: field=%s want=%v got=%v", e.Field, e.Want, e.Got)
}

// TagMismatch reports a decoded tag set that differs from the expected set.
type TagMismatch struct {
	Missing    []string
	Unexpected []string
}

// Error implements the error interface.
func (e *TagMismatch) Error() string {
	return fmt.Sprintf(
		"tag mismatch: missing=[%s] unexpected=[%s]",
		strings.Join(e.Missing, ","),
		strings.Join(e.Unexpected, ","),
	)
}

// IdentityMismatch reports an identity field whose presence or value does not follow the hook.
type IdentityMismatch struct {
	Field string
	// Want is the value the hook supplied; empty means the field must be absent.
	Want string
	// Got is nil when the field was absent.
	Got *string
}

// Error implements the error interface.
func (e *IdentityMismatch) Error() string {
	got := "<absent>"
	if e.Got != nil {
		got = fmt.Sprintf("%q", *e.Got)
	}

	want := "<absent>"
	if e.Want != "" {
		want = fmt.Sprintf("%q", e.Want)
	}

	return fmt.Sprintf("identity mismatch: field=%s want=%s got=%s", e.Field, want, got)
}

// MaskingMismatch reports an address with bits set beyond the configured prefix.
type MaskingMismatch struct {
	Field  string
	Prefix int
	Addr   netip.Addr
	Want   netip.Addr
}

// Error implements the error interface.
func (e *MaskingMismatch) Error() string {
	return fmt.Sprintf(
		"masking mismatch: field=%s prefix=%d want=%v got=%v",
		e.Field,
		e.Prefix,
		e.Want,
		e.Addr,
	)
}

// TTLMismatch reports an exported record whose TTL exceeds the cache cap.
type TTLMismatch struct {
	Index int
	Name  string
	TTL   uint32
	Max   uint32
}

// Error implements the error interface.
func (e *TTLMismatch) Error() string {
	return fmt.Sprintf("ttl mismatch: rr=%d name=%s ttl=%d max=%d", e.Index, e.Name, e.TTL, e.Max)
}

// FieldMismatch reports any other field whose presence or value is wrong.
type FieldMismatch struct {
	Field string
	Want  interface{}
	Got   interface{}
}

// Error implements the error interface.
func (e *FieldMismatch) Error() string {
	return fmt.Sprintf("field mismatch: field=%s want=%v got=%v", e.Field, e.Want, e.Got)
}

// absent stands in for a missing field in mismatch values.
const absent = "<absent>"

func present(ok bool) string {
	if ok {
		return "<present>"
	}
	return absent
}
