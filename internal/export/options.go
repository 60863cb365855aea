// Package export is the producer side of the telemetry stream: it turns DNS exchanges into
// telemetry records the way a resolver exports them, and ships them to every configured
// collector endpoint.
package export

import (
	"github.com/miekg/dns"
)

// DefaultMaxCacheTTL is the default cap applied to exported record TTLs.
const DefaultMaxCacheTTL = 86400

// ExportOptions controls which exchanges are exported and how records are shaped.
type ExportOptions struct {
	// LogQueries and LogResponses enable export of client queries and responses.
	LogQueries   bool
	LogResponses bool
	// TaggedOnly restricts export to exchanges that carry at least one tag.
	TaggedOnly bool
	// ExportTypes lists the record types whose answers are exported.
	ExportTypes []uint16
	// Tags are added to every exported record.
	Tags []string
	// MaskV4 and MaskV6 are the prefix lengths client addresses are masked to.
	MaskV4 int
	MaskV6 int
	// MaxCacheTTL caps exported TTLs, reflecting what the resolver caches.
	MaxCacheTTL uint32
	// ServerIdentity identifies the exporting resolver.
	ServerIdentity string
}

// DefaultExportOptions returns options that export all client traffic, unmasked, with answers of
// type A, AAAA and CNAME.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		LogQueries:   true,
		LogResponses: true,
		ExportTypes:  []uint16{dns.TypeA, dns.TypeAAAA, dns.TypeCNAME},
		MaskV4:       32,
		MaskV6:       128,
		MaxCacheTTL:  DefaultMaxCacheTTL,
	}
}

func (o ExportOptions) exportsType(rrtype uint16) bool {
	for _, t := range o.ExportTypes {
		if t == rrtype {
			return true
		}
	}
	return false
}
