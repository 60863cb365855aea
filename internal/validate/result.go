// Package validate checks decoded telemetry records against the invariants a correct exporter
// satisfies. Every check is independent; a Report collects results without stopping at the first
// failure.
package validate

import (
	"errors"
	"fmt"
	"strings"
)

// Check names, used in results and metrics.
const (
	NamePairing      = "pairing"
	NameTTLCap       = "ttl_cap"
	NamePolicy       = "policy"
	NameTags         = "tags"
	NameIdentity     = "identity"
	NameMasking      = "masking"
	NameBase         = "base"
	NameQuestion     = "question"
	NameResponse     = "response"
	NameRecord       = "record"
	NameNetworkError = "network_error"
)

// Result is the outcome of one check.
type Result struct {
	Check     string
	Passed    bool
	Diagnosis string
	// Err holds the mismatch errors of a failed check, joined.
	Err error
}

func check(name string, errs []error) Result {
	if len(errs) == 0 {
		return Result{Check: name, Passed: true, Diagnosis: "ok"}
	}

	diagnoses := make([]string, len(errs))
	for i, err := range errs {
		diagnoses[i] = err.Error()
	}

	return Result{
		Check:     name,
		Diagnosis: strings.Join(diagnoses, "; "),
		Err:       errors.Join(errs...),
	}
}

// String renders the result as a single line.
func (r Result) String() string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	return fmt.Sprintf("%s %s: %s", status, r.Check, r.Diagnosis)
}

// Report is an itemized list of results for one subject.
type Report struct {
	Subject string
	Results []Result
}

// NewReport creates an empty report.
func NewReport(subject string) *Report {
	return &Report{Subject: subject}
}

// Add appends results and returns the report.
func (r *Report) Add(results ...Result) *Report {
	r.Results = append(r.Results, results...)
	return r
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	return len(r.Failures()) == 0
}

// Failures returns the failed results in the order they were added.
func (r *Report) Failures() []Result {
	var failures []Result
	for _, res := range r.Results {
		if !res.Passed {
			failures = append(failures, res)
		}
	}
	return failures
}

// Err joins the errors of every failed result, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failures() {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// String renders every result on its own line.
func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s:", r.Subject)
	for _, res := range r.Results {
		fmt.Fprintf(&b, "\n  %s", res)
	}

	return b.String()
}
