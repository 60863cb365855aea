package validate

import (
	"fmt"

	"pbcollector/internal/telemetry"
)

// Profile is the set of checks run on every record of a live stream, where no per-query
// expectation is available.
type Profile struct {
	// MaxCacheTTL caps exported TTLs. Zero disables the check.
	MaxCacheTTL uint32
	// MaskV4 and MaskV6 are the exporter's masking prefixes.
	MaskV4 int
	MaskV6 int
	// Tags every record is expected to carry, in addition to whatever hooks add.
	Tags []string
}

// Run checks one record. Masking, the TTL cap and tags apply to client-facing records only:
// records of the resolver's own upstream traffic carry its unmasked address, TTLs as received
// from the authoritative server, and no tags.
func (p Profile) Run(rec *telemetry.Record) *Report {
	report := NewReport(rec.Summary())

	report.Add(CheckBase(rec, BaseExpect{}))

	if rec.Kind.IsResponse() {
		report.Add(CheckPolicyConsistency(rec))
	}

	if rec.Kind.IsOutgoing() {
		return report
	}

	report.Add(CheckMasking(rec, p.MaskV4, p.MaskV6))

	if rec.Kind.IsResponse() && p.MaxCacheTTL > 0 {
		report.Add(CheckTTLCap(rec, p.MaxCacheTTL))
	}

	if len(p.Tags) > 0 {
		report.Add(CheckTagSubset(rec, p.Tags))
	}

	return report
}

// CheckPolicyConsistency verifies only that the applied policy fields are all set or all unset.
func CheckPolicyConsistency(rec *telemetry.Record) Result {
	var errs []error

	if rec.Response != nil && rec.Response.HasPolicy() && !rec.Response.HasCompletePolicy() {
		errs = append(errs, &PolicyMismatch{Field: "appliedPolicy*", Want: "all or none set", Got: "partially set"})
	}

	return check(NamePolicy, errs)
}

// CheckTagSubset verifies that the record carries at least the given tags.
func CheckTagSubset(rec *telemetry.Record, tags []string) Result {
	got := make(map[string]struct{})
	for _, tag := range rec.Tags() {
		got[tag] = struct{}{}
	}

	missing := make(map[string]struct{})
	for _, tag := range tags {
		if _, ok := got[tag]; !ok {
			missing[tag] = struct{}{}
		}
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, &TagMismatch{Missing: sortedKeys(missing)})
	}

	return check(NameTags, errs)
}

// DefaultPairerCapacity bounds the number of unanswered queries a Pairer remembers.
const DefaultPairerCapacity = 4096

// Pairer matches responses to the queries they answer by message id, as records arrive on a live
// stream, and runs the pairing check on every match. Client-facing ids are remembered so that
// outgoing pairs can be checked against the query that caused them. It is not safe for
// concurrent use.
type Pairer struct {
	capacity  int
	queries   map[string]*telemetry.Record
	clientIDs map[string]uint32
	order     []string
}

// NewPairer creates a pairer remembering at most capacity queries.
func NewPairer(capacity int) *Pairer {
	if capacity <= 0 {
		capacity = DefaultPairerCapacity
	}

	return &Pairer{
		capacity:  capacity,
		queries:   make(map[string]*telemetry.Record),
		clientIDs: make(map[string]uint32),
	}
}

// Observe feeds the next record. It returns the pairing result and true when rec is a response
// whose query was seen.
func (p *Pairer) Observe(rec *telemetry.Record) (Result, bool) {
	key := pairKey(rec)

	if rec.Kind.IsQuery() {
		p.remember(key, rec)
		return Result{}, false
	}

	query, ok := p.queries[key]
	if !ok {
		return Result{}, false
	}
	delete(p.queries, key)

	var opts PairingOpts
	if rec.Kind.IsOutgoing() {
		if id, ok := p.clientIDs[string(rec.InitialRequestID)]; ok {
			opts.ClientID = &id
		}
	}

	return CheckPairing(query, rec, opts), true
}

// Unanswered reports the number of remembered queries without a response.
func (p *Pairer) Unanswered() int {
	return len(p.queries)
}

func (p *Pairer) remember(key string, rec *telemetry.Record) {
	if len(p.order) >= p.capacity {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.queries, oldest)
		delete(p.clientIDs, oldest[1:])
	}

	p.queries[key] = rec
	p.order = append(p.order, key)

	if rec.Kind == telemetry.KindQuery && rec.ID != nil {
		p.clientIDs[string(rec.MessageID)] = *rec.ID
	}
}

// pairKey identifies an exchange: queries and responses of the same direction share a message id.
func pairKey(rec *telemetry.Record) string {
	direction := "c"
	if rec.Kind.IsOutgoing() {
		direction = "o"
	}
	return fmt.Sprintf("%s%s", direction, rec.MessageID)
}
