package validate

import (
	"bytes"
	"fmt"
	"net/netip"
	"sort"

	"pbcollector/internal/hooks"
	"pbcollector/internal/telemetry"
)

// PairingOpts parameterizes CheckPairing.
type PairingOpts struct {
	// ClientID is the client-facing transaction id. Outgoing pairs must not reuse it. Nil skips
	// the comparison.
	ClientID *uint32
	// QuerySize and ResponseSize are the wire sizes of the described messages. Zero skips the
	// size comparison.
	QuerySize    int
	ResponseSize int
	// ReceivedSize, when non-zero, replaces ResponseSize. The size of a response as re-packed by
	// the observer may differ from what the resolver sent because of label compression.
	ReceivedSize int
}

// CheckPairing verifies that resp answers req: the kinds pair up, the transaction ids agree (and,
// for outgoing traffic, differ from the client-facing id), the sizes match the described
// messages, and the response carries its response substructure.
func CheckPairing(req *telemetry.Record, resp *telemetry.Record, opts PairingOpts) Result {
	var errs []error

	wantKind := telemetry.KindResponse
	if req.Kind == telemetry.KindOutgoingQuery {
		wantKind = telemetry.KindIncomingResponse
	}

	if !req.Kind.IsQuery() {
		errs = append(errs, &PairingMismatch{Field: "request.type", Want: "query kind", Got: req.Kind})
	}
	if resp.Kind != wantKind {
		errs = append(errs, &PairingMismatch{Field: "response.type", Want: wantKind, Got: resp.Kind})
	}

	if req.ID == nil || resp.ID == nil {
		errs = append(errs, &PairingMismatch{Field: "id", Want: present(true), Got: absent})
	} else {
		if *req.ID != *resp.ID {
			errs = append(errs, &PairingMismatch{Field: "id", Want: *req.ID, Got: *resp.ID})
		}
		if req.Kind.IsOutgoing() && opts.ClientID != nil && *req.ID == *opts.ClientID {
			errs = append(errs, &PairingMismatch{Field: "id", Want: *opts.ClientID, Inequal: true})
		}
	}

	if opts.QuerySize > 0 && req.GetSizeBytes() != uint64(opts.QuerySize) {
		errs = append(errs, &PairingMismatch{Field: "request.inBytes", Want: opts.QuerySize, Got: req.GetSizeBytes()})
	}

	size := opts.ResponseSize
	if opts.ReceivedSize > 0 {
		size = opts.ReceivedSize
	}
	if size > 0 && resp.GetSizeBytes() != uint64(size) {
		errs = append(errs, &PairingMismatch{Field: "response.inBytes", Want: size, Got: resp.GetSizeBytes()})
	}

	if resp.Response == nil {
		errs = append(errs, &PairingMismatch{Field: "response", Want: present(true), Got: absent})
	}

	return check(NamePairing, errs)
}

// CheckTTLCap verifies that no exported record has a TTL above maxTTL.
func CheckTTLCap(rec *telemetry.Record, maxTTL uint32) Result {
	var errs []error

	if rec.Response != nil {
		for i, rr := range rec.Response.RRs {
			if rr.TTL != nil && *rr.TTL > maxTTL {
				errs = append(errs, &TTLMismatch{Index: i, Name: deref(rr.Name), TTL: *rr.TTL, Max: maxTTL})
			}
		}
	}

	return check(NameTTLCap, errs)
}

// ExpectedPolicy is the policy zone rule a response is expected to have matched.
type ExpectedPolicy struct {
	Type    telemetry.PolicyType
	Name    string
	Trigger string
	Hit     string
	Kind    telemetry.PolicyKind
}

// CheckPolicy verifies the applied policy fields. They must be all set or all unset; if exp is
// nil they must be unset, otherwise they must describe exp.
func CheckPolicy(rec *telemetry.Record, exp *ExpectedPolicy) Result {
	var errs []error

	resp := rec.Response
	if resp == nil {
		resp = &telemetry.Response{}
	}

	switch {
	case resp.HasPolicy() && !resp.HasCompletePolicy():
		errs = append(errs, &PolicyMismatch{Field: "appliedPolicy*", Want: "all or none set", Got: "partially set"})

	case exp == nil && resp.HasPolicy():
		errs = append(errs, &PolicyMismatch{Field: "appliedPolicy", Want: absent, Got: *resp.AppliedPolicy})

	case exp != nil && !resp.HasPolicy():
		errs = append(errs, &PolicyMismatch{Field: "appliedPolicy", Want: exp.Name, Got: absent})

	case exp != nil:
		if *resp.AppliedPolicyType != exp.Type {
			errs = append(errs, &PolicyMismatch{Field: "appliedPolicyType", Want: exp.Type, Got: *resp.AppliedPolicyType})
		}
		if *resp.AppliedPolicy != exp.Name {
			errs = append(errs, &PolicyMismatch{Field: "appliedPolicy", Want: exp.Name, Got: *resp.AppliedPolicy})
		}
		if *resp.AppliedPolicyTrigger != exp.Trigger {
			errs = append(errs, &PolicyMismatch{Field: "appliedPolicyTrigger", Want: exp.Trigger, Got: *resp.AppliedPolicyTrigger})
		}
		if *resp.AppliedPolicyHit != exp.Hit {
			errs = append(errs, &PolicyMismatch{Field: "appliedPolicyHit", Want: exp.Hit, Got: *resp.AppliedPolicyHit})
		}
		if *resp.AppliedPolicyKind != exp.Kind {
			errs = append(errs, &PolicyMismatch{Field: "appliedPolicyKind", Want: exp.Kind, Got: *resp.AppliedPolicyKind})
		}
	}

	return check(NamePolicy, errs)
}

// TagSources are the places a record's tags come from.
type TagSources struct {
	Hook   []string
	Policy []string
	Zone   []string
	Static []string
}

// Union returns the deduplicated, sorted union of all sources.
func (s TagSources) Union() []string {
	set := make(map[string]struct{})
	for _, src := range [][]string{s.Hook, s.Policy, s.Zone, s.Static} {
		for _, tag := range src {
			set[tag] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// CheckTags verifies that the record's tags, compared as a set, equal the union of sources.
func CheckTags(rec *telemetry.Record, sources TagSources) Result {
	want := make(map[string]struct{})
	for _, tag := range sources.Union() {
		want[tag] = struct{}{}
	}

	got := make(map[string]struct{})
	for _, tag := range rec.Tags() {
		got[tag] = struct{}{}
	}

	missing := make(map[string]struct{})
	for tag := range want {
		if _, ok := got[tag]; !ok {
			missing[tag] = struct{}{}
		}
	}

	unexpected := make(map[string]struct{})
	for tag := range got {
		if _, ok := want[tag]; !ok {
			unexpected[tag] = struct{}{}
		}
	}

	var errs []error
	if len(missing) > 0 || len(unexpected) > 0 {
		errs = append(errs, &TagMismatch{Missing: sortedKeys(missing), Unexpected: sortedKeys(unexpected)})
	}

	return check(NameTags, errs)
}

// CheckIdentity verifies that each identity field is present exactly when the hook supplied a
// non-empty value for it, and equals that value.
func CheckIdentity(rec *telemetry.Record, d hooks.Decision) Result {
	var deviceID *string
	if rec.DeviceID != nil {
		deviceID = telemetry.String(string(rec.DeviceID))
	}

	var errs []error
	for _, field := range []struct {
		name string
		want string
		got  *string
	}{
		{"requestorId", d.RequestorID, rec.RequestorID},
		{"deviceId", d.DeviceID, deviceID},
		{"deviceName", d.DeviceName, rec.DeviceName},
	} {
		if (field.want == "") != (field.got == nil) || (field.got != nil && *field.got != field.want) {
			errs = append(errs, &IdentityMismatch{Field: field.name, Want: field.want, Got: field.got})
		}
	}

	return check(NameIdentity, errs)
}

// CheckMasking verifies that the initiator address and the original requestor subnet have every
// bit beyond the configured prefix cleared.
func CheckMasking(rec *telemetry.Record, prefixV4 int, prefixV6 int) Result {
	var errs []error

	for _, field := range []struct {
		name string
		raw  []byte
	}{
		{"from", rec.From},
		{"originalRequestorSubnet", rec.OriginalRequestorSubnet},
	} {
		if field.raw == nil {
			continue
		}

		addr, ok := netip.AddrFromSlice(field.raw)
		if !ok {
			errs = append(errs, &FieldMismatch{Field: field.name, Want: "4 or 16 address bytes", Got: len(field.raw)})
			continue
		}

		bits := prefixV4
		if addr.Is6() {
			bits = prefixV6
		}

		prefix, err := addr.Prefix(bits)
		if err != nil {
			errs = append(errs, &MaskingMismatch{Field: field.name, Prefix: bits, Addr: addr})
			continue
		}

		if prefix.Addr() != addr {
			errs = append(errs, &MaskingMismatch{Field: field.name, Prefix: bits, Addr: addr, Want: prefix.Addr()})
		}
	}

	return check(NameMasking, errs)
}

// BaseExpect describes the envelope fields every record of an exchange shares. Zero values skip
// the corresponding comparison.
type BaseExpect struct {
	Family    telemetry.SocketFamily
	Protocol  telemetry.SocketProtocol
	Initiator netip.Addr
	ID        *uint32
	Size      int
	// ECS is the expected original requestor subnet.
	ECS netip.Addr
}

// CheckBase verifies the envelope of a record.
func CheckBase(rec *telemetry.Record, exp BaseExpect) Result {
	var errs []error

	for _, field := range []struct {
		name string
		ok   bool
	}{
		{"timeSec", rec.TimeSec != nil},
		{"socketFamily", rec.SocketFamily != nil},
		{"socketProtocol", rec.SocketProtocol != nil},
		{"messageId", rec.MessageID != nil},
		{"serverIdentity", rec.ServerIdentity != nil},
		{"id", rec.ID != nil},
		{"inBytes", rec.SizeBytes != nil},
	} {
		if !field.ok {
			errs = append(errs, &FieldMismatch{Field: field.name, Want: present(true), Got: absent})
		}
	}

	if exp.Family != 0 && rec.SocketFamily != nil && *rec.SocketFamily != exp.Family {
		errs = append(errs, &FieldMismatch{Field: "socketFamily", Want: exp.Family, Got: *rec.SocketFamily})
	}
	if exp.Protocol != 0 && rec.SocketProtocol != nil && *rec.SocketProtocol != exp.Protocol {
		errs = append(errs, &FieldMismatch{Field: "socketProtocol", Want: exp.Protocol, Got: *rec.SocketProtocol})
	}
	if exp.Initiator.IsValid() {
		if from, ok := rec.FromAddr(); !ok || from != exp.Initiator {
			errs = append(errs, &FieldMismatch{Field: "from", Want: exp.Initiator, Got: from})
		}
	}
	if exp.ID != nil && rec.ID != nil && *rec.ID != *exp.ID {
		errs = append(errs, &FieldMismatch{Field: "id", Want: *exp.ID, Got: *rec.ID})
	}
	if exp.Size > 0 && rec.SizeBytes != nil && *rec.SizeBytes != uint64(exp.Size) {
		errs = append(errs, &FieldMismatch{Field: "inBytes", Want: exp.Size, Got: *rec.SizeBytes})
	}
	if exp.ECS.IsValid() {
		if subnet, ok := rec.RequestorSubnet(); !ok || subnet != exp.ECS {
			errs = append(errs, &FieldMismatch{Field: "originalRequestorSubnet", Want: exp.ECS, Got: subnet})
		}
	}

	return check(NameBase, errs)
}

// CheckQuestion verifies the question section.
func CheckQuestion(rec *telemetry.Record, name string, qtype uint16, qclass uint16) Result {
	var errs []error

	q := rec.Question
	if q == nil {
		errs = append(errs, &FieldMismatch{Field: "question", Want: present(true), Got: absent})
		return check(NameQuestion, errs)
	}

	if q.Name == nil || *q.Name != name {
		errs = append(errs, &FieldMismatch{Field: "question.qName", Want: name, Got: derefOr(q.Name)})
	}
	if q.Type == nil || *q.Type != uint32(qtype) {
		errs = append(errs, &FieldMismatch{Field: "question.qType", Want: qtype, Got: derefOr(q.Type)})
	}
	if q.Class == nil || *q.Class != uint32(qclass) {
		errs = append(errs, &FieldMismatch{Field: "question.qClass", Want: qclass, Got: derefOr(q.Class)})
	}

	return check(NameQuestion, errs)
}

// ResponseExpect parameterizes CheckResponse. Nil fields are not compared.
type ResponseExpect struct {
	Rcode           *uint32
	ValidationState *telemetry.ValidationState
}

// CheckResponse verifies that the response substructure is present and complete.
func CheckResponse(rec *telemetry.Record, exp ResponseExpect) Result {
	var errs []error

	resp := rec.Response
	if resp == nil {
		errs = append(errs, &FieldMismatch{Field: "response", Want: present(true), Got: absent})
		return check(NameResponse, errs)
	}

	if resp.QueryTimeSec == nil {
		errs = append(errs, &FieldMismatch{Field: "response.queryTimeSec", Want: present(true), Got: absent})
	}
	if resp.ValidationState == nil {
		errs = append(errs, &FieldMismatch{Field: "response.validationState", Want: present(true), Got: absent})
	} else if exp.ValidationState != nil && *resp.ValidationState != *exp.ValidationState {
		errs = append(errs, &FieldMismatch{Field: "response.validationState", Want: *exp.ValidationState, Got: *resp.ValidationState})
	}
	if exp.Rcode != nil && (resp.Rcode == nil || *resp.Rcode != *exp.Rcode) {
		errs = append(errs, &FieldMismatch{Field: "response.rcode", Want: *exp.Rcode, Got: derefOr(resp.Rcode)})
	}

	return check(NameResponse, errs)
}

// ExpectedRecord describes one exported resource record. A nil Rdata is not compared.
type ExpectedRecord struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Rdata []byte
}

// CheckRecord verifies the resource record at index of the response.
func CheckRecord(rec *telemetry.Record, index int, exp ExpectedRecord) Result {
	var errs []error

	if rec.Response == nil || index >= len(rec.Response.RRs) {
		errs = append(errs, &FieldMismatch{Field: fmt.Sprintf("response.rrs[%d]", index), Want: present(true), Got: absent})
		return check(NameRecord, errs)
	}

	rr := rec.Response.RRs[index]
	field := func(name string) string {
		return fmt.Sprintf("response.rrs[%d].%s", index, name)
	}

	if rr.Name == nil || *rr.Name != exp.Name {
		errs = append(errs, &FieldMismatch{Field: field("name"), Want: exp.Name, Got: derefOr(rr.Name)})
	}
	if rr.Type == nil || *rr.Type != uint32(exp.Type) {
		errs = append(errs, &FieldMismatch{Field: field("type"), Want: exp.Type, Got: derefOr(rr.Type)})
	}
	if rr.Class == nil || *rr.Class != uint32(exp.Class) {
		errs = append(errs, &FieldMismatch{Field: field("class"), Want: exp.Class, Got: derefOr(rr.Class)})
	}
	if rr.TTL == nil || *rr.TTL != exp.TTL {
		errs = append(errs, &FieldMismatch{Field: field("ttl"), Want: exp.TTL, Got: derefOr(rr.TTL)})
	}
	if exp.Rdata != nil && !bytes.Equal(rr.Rdata, exp.Rdata) {
		errs = append(errs, &FieldMismatch{Field: field("rdata"), Want: exp.Rdata, Got: rr.Rdata})
	}

	return check(NameRecord, errs)
}

// CheckNetworkError verifies that rec reports an upstream exchange that received no response.
func CheckNetworkError(rec *telemetry.Record) Result {
	var errs []error

	if rec.Kind != telemetry.KindIncomingResponse {
		errs = append(errs, &FieldMismatch{Field: "type", Want: telemetry.KindIncomingResponse, Got: rec.Kind})
	}
	if rec.SizeBytes == nil || *rec.SizeBytes != 0 {
		errs = append(errs, &FieldMismatch{Field: "inBytes", Want: 0, Got: derefOr(rec.SizeBytes)})
	}
	if rec.Response == nil || rec.Response.Rcode == nil || *rec.Response.Rcode != telemetry.NetworkErrorRcode {
		var rcode interface{} = absent
		if rec.Response != nil {
			rcode = derefOr(rec.Response.Rcode)
		}
		errs = append(errs, &FieldMismatch{Field: "response.rcode", Want: telemetry.NetworkErrorRcode, Got: rcode})
	}

	return check(NameNetworkError, errs)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// derefOr returns the pointed-to value, or a placeholder for an absent field.
func derefOr[T any](v *T) interface{} {
	if v == nil {
		return absent
	}
	return *v
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
