package sip

import (
	"math/rand"
	"strings"
	"time"
)

const hexBytes = "0123456789abcdef"

// localRand is a small, lock-free-by-caller random generator; the package
// keeps exactly one instance behind brandGen's mutex.
type localRand struct {
	r *rand.Rand
}

func newLocalRand() *localRand {
	return &localRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (l *localRand) hex(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(hexBytes[l.r.Intn(len(hexBytes))])
	}
	return sb.String()
}

// ASCIIToLower avoids an allocation when the input is already lowercase,
// matching the pattern used throughout this package for header names.
func ASCIIToLower(s string) string {
	nonLow := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		nonLow = i
		break
	}
	if nonLow < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(s[:nonLow])
	for i := nonLow; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// HeaderToLower is a small lookup to avoid allocating for the headers the
// codec cares about; it falls back to ASCIIToLower for anything else.
func HeaderToLower(s string) string {
	switch s {
	case "Via", "via", "V", "v":
		return "via"
	case "From", "from", "F", "f":
		return "from"
	case "To", "to", "T", "t":
		return "to"
	case "Call-ID", "call-id", "I", "i":
		return "call-id"
	case "Contact", "contact", "M", "m":
		return "contact"
	case "CSeq", "cseq", "CSEQ":
		return "cseq"
	case "Content-Type", "content-type", "C", "c":
		return "content-type"
	case "Content-Length", "content-length", "L", "l":
		return "content-length"
	case "Max-Forwards", "max-forwards":
		return "max-forwards"
	case "Route", "route":
		return "route"
	case "Record-Route", "record-route":
		return "record-route"
	case "Allow", "allow":
		return "allow"
	case "Supported", "supported", "K", "k":
		return "supported"
	}
	return ASCIIToLower(s)
}

// headerCanonicalName restores the well-known capitalization used when
// serializing; anything unknown is emitted exactly as first seen.
func headerCanonicalName(nameLower string) (string, bool) {
	switch nameLower {
	case "via":
		return "Via", true
	case "from":
		return "From", true
	case "to":
		return "To", true
	case "call-id":
		return "Call-ID", true
	case "contact":
		return "Contact", true
	case "cseq":
		return "CSeq", true
	case "content-type":
		return "Content-Type", true
	case "content-length":
		return "Content-Length", true
	case "max-forwards":
		return "Max-Forwards", true
	case "route":
		return "Route", true
	case "record-route":
		return "Record-Route", true
	case "allow":
		return "Allow", true
	case "supported":
		return "Supported", true
	}
	return "", false
}

var abnf = " \t\r\n"
