package sip

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Uri is a sip: URI. The gateway only ever speaks sip: (never sips:, tel:,
// or anything else), so the scheme is fixed and not stored.
type Uri struct {
	User      string
	Password  string
	Host      string
	Port      int
	UriParams HeaderParams
	Headers   HeaderParams
}

func (u *Uri) String() string {
	var b strings.Builder
	u.StringWrite(&b)
	return b.String()
}

func (u *Uri) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("sip:")
	if u.User != "" {
		buffer.WriteString(u.User)
		if u.Password != "" {
			buffer.WriteString(":")
			buffer.WriteString(u.Password)
		}
		buffer.WriteString("@")
	}
	buffer.WriteString(u.Host)
	if u.Port > 0 {
		buffer.WriteString(":")
		buffer.WriteString(strconv.Itoa(u.Port))
	}
	if u.UriParams.Length() > 0 {
		buffer.WriteString(";")
		u.UriParams.ToStringWrite(';', buffer)
	}
	if u.Headers.Length() > 0 {
		buffer.WriteString("?")
		u.Headers.ToStringWrite('&', buffer)
	}
}

func (u *Uri) Clone() *Uri {
	if u == nil {
		return nil
	}
	c := *u
	c.UriParams = u.UriParams.Clone()
	c.Headers = u.Headers.Clone()
	return &c
}

// ParseURI parses a bare "sip:user:pass@host:port;params?headers" string;
// callers strip any surrounding angle brackets first. REGISTER/tel:/sips:
// are out of scope, so this is a linear scanner
// rather than the multi-scheme state machine a general-purpose library needs.
func ParseURI(s string) (Uri, error) {
	var u Uri
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "sip:") {
		return u, fmt.Errorf("sip: unsupported or missing URI scheme in %q", s)
	}
	s = s[len("sip:"):]

	if at := strings.IndexByte(s, '@'); at >= 0 {
		userinfo := s[:at]
		s = s[at+1:]
		if colon := strings.IndexByte(userinfo, ':'); colon >= 0 {
			u.User = userinfo[:colon]
			u.Password = userinfo[colon+1:]
		} else {
			u.User = userinfo
		}
	}

	hostEnd := len(s)
	for i, c := range s {
		if c == ';' || c == '?' {
			hostEnd = i
			break
		}
	}
	hostPort := s[:hostEnd]
	rest := s[hostEnd:]

	if colon := strings.LastIndexByte(hostPort, ':'); colon >= 0 {
		u.Host = hostPort[:colon]
		port, err := strconv.Atoi(hostPort[colon+1:])
		if err != nil {
			return u, fmt.Errorf("sip: invalid port in URI %q: %w", s, err)
		}
		u.Port = port
	} else {
		u.Host = hostPort
	}
	if u.Host == "" {
		return u, fmt.Errorf("sip: missing host in URI")
	}

	u.UriParams = NewParams()
	u.Headers = NewParams()
	if rest == "" {
		return u, nil
	}
	if rest[0] == ';' {
		params, n := ParseParams(rest[1:], ';', '?')
		u.UriParams = params
		rest = rest[1+n:]
	}
	if strings.HasPrefix(rest, "?") {
		headers, _ := ParseParams(rest[1:], '&', 0)
		u.Headers = headers
	}
	return u, nil
}
