package export

import (
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// Rdata renders the exported form of a record's data: raw address bytes for A and AAAA, the
// target name for name-valued types, quoted character strings for TXT and SPF, and the
// presentation format for anything else.
func Rdata(rr dns.RR) []byte {
	switch v := rr.(type) {
	case *dns.A:
		return append([]byte{}, v.A.To4()...)
	case *dns.AAAA:
		return append([]byte{}, v.AAAA.To16()...)
	case *dns.CNAME:
		return []byte(v.Target)
	case *dns.DNAME:
		return []byte(v.Target)
	case *dns.NS:
		return []byte(v.Ns)
	case *dns.PTR:
		return []byte(v.Ptr)
	case *dns.MX:
		return []byte(v.Mx)
	case *dns.SRV:
		return []byte(v.Target)
	case *dns.TXT:
		return quoted(v.Txt)
	case *dns.SPF:
		return quoted(v.Txt)
	default:
		return []byte(strings.TrimPrefix(rr.String(), rr.Header().String()))
	}
}

func quoted(parts []string) []byte {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strconv.Quote(p)
	}
	return []byte(strings.Join(out, " "))
}
