package sip

import (
	"fmt"
	"strings"
)

// ParseAddressValue parses a From/To/Contact header value of the form
// `"Display Name" <sip:user@host>;param=value`. Without angle brackets the
// URI ends at the first ';' and everything after it is read as header
// params.
func ParseAddressValue(s string) (displayName string, uri Uri, params HeaderParams, err error) {
	s = strings.TrimSpace(s)
	params = NewParams()

	if lt := strings.IndexByte(s, '<'); lt >= 0 {
		gt := strings.IndexByte(s[lt:], '>')
		if gt < 0 {
			return "", uri, nil, fmt.Errorf("sip: unterminated address angle bracket in %q", s)
		}
		gt += lt

		displayName = strings.Trim(strings.TrimSpace(s[:lt]), `"`)
		uri, err = ParseURI(s[lt+1 : gt])
		if err != nil {
			return "", uri, nil, err
		}

		tail := s[gt+1:]
		tail = strings.TrimPrefix(strings.TrimSpace(tail), ";")
		if tail != "" {
			params, _ = ParseParams(tail, ';', 0)
		}
		return displayName, uri, params, nil
	}

	// No angle brackets: the whole thing up to the first ';' is the URI.
	semi := len(s)
	if idx := strings.IndexByte(s, ';'); idx >= 0 {
		semi = idx
	}
	uri, err = ParseURI(strings.TrimSpace(s[:semi]))
	if err != nil {
		return "", uri, nil, err
	}
	if semi < len(s) {
		params, _ = ParseParams(s[semi+1:], ';', 0)
	}
	return "", uri, params, nil
}

// writeAddressValueString renders displayName/uri/params back to the canonical
// `"name" <uri>;params` form used by From/To/Contact.
func writeAddressValueString(displayName string, uri Uri, params HeaderParams) string {
	var b strings.Builder
	if displayName != "" {
		b.WriteString(`"`)
		b.WriteString(displayName)
		b.WriteString(`" `)
	}
	b.WriteString("<")
	uri.StringWrite(&b)
	b.WriteString(">")
	if params.Length() > 0 {
		b.WriteString(";")
		params.ToStringWrite(';', &b)
	}
	return b.String()
}
