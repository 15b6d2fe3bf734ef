package sip

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse is the sentinel wrapped by every parse failure; the codec is
// total on malformed input and callers discard the datagram.
var ErrParse = errors.New("sip: parse error")

// ParseMessage parses one complete datagram into a Request or Response.
// UDP delivers whole messages, so there is no streaming/partial-read state
// to track here (unlike a TCP-capable codec).
func ParseMessage(data []byte) (Message, error) {
	lines, bodyStart := splitLines(data)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrParse)
	}

	msg, err := parseStartLine(lines[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParse, err)
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		_ = parseHeaderLine(msg, line)
	}

	if bodyStart >= 0 && bodyStart <= len(data) {
		cl := 0
		if h := msg.ContentLength(); h != nil {
			cl = int(*h)
		}
		end := bodyStart + cl
		if cl > 0 && end <= len(data) {
			msg.SetBody(data[bodyStart:end])
		}
	}
	return msg, nil
}

// splitLines folds header continuation lines (leading space/tab extends
// the previous header) and returns the header lines plus the byte offset
// of the body in the original buffer.
func splitLines(data []byte) ([]string, int) {
	bodyStart := -1
	if idx := bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
		bodyStart = idx + 4
	} else if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		bodyStart = idx + 2
	}

	headerPart := string(data)
	if bodyStart >= 0 {
		headerPart = string(data[:bodyStart])
	}
	headerPart = strings.ReplaceAll(headerPart, "\r\n", "\n")
	rawLines := strings.Split(strings.TrimRight(headerPart, "\n"), "\n")

	var lines []string
	for _, l := range rawLines {
		if len(l) > 0 && (l[0] == ' ' || l[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += " " + strings.TrimSpace(l)
			continue
		}
		lines = append(lines, l)
	}
	return lines, bodyStart
}

func parseStartLine(line string) (Message, error) {
	if strings.HasPrefix(line, "SIP/2.0") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed status line %q", line)
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("malformed status code %q", parts[1])
		}
		return NewResponse(code, parts[2]), nil
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed request line %q", line)
	}
	recipient, err := ParseURI(parts[1])
	if err != nil {
		return nil, err
	}
	req := NewRequest(RequestMethod(strings.ToUpper(parts[0])), recipient)
	req.SipVersion = parts[2]
	return req, nil
}

func parseHeaderLine(msg Message, line string) error {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return fmt.Errorf("header line without colon: %q", line)
	}
	name := strings.TrimSpace(line[:colon])
	value := strings.TrimSpace(line[colon+1:])
	nameLower := HeaderToLower(name)
	canonical, known := headerCanonicalName(nameLower)
	if !known {
		canonical = name
	}

	switch nameLower {
	case "via":
		for _, hop := range strings.Split(value, ",") {
			h, err := parseVia(hop)
			if err != nil {
				return err
			}
			msg.AppendHeader(h)
		}
	case "from":
		dn, uri, params, err := ParseAddressValue(value)
		if err != nil {
			return err
		}
		msg.AppendHeader(&FromHeader{DisplayName: dn, Address: uri, Params: params})
	case "to":
		dn, uri, params, err := ParseAddressValue(value)
		if err != nil {
			return err
		}
		msg.AppendHeader(&ToHeader{DisplayName: dn, Address: uri, Params: params})
	case "contact":
		if value == "*" {
			msg.AppendHeader(NewHeader(canonical, value))
			return nil
		}
		dn, uri, params, err := ParseAddressValue(value)
		if err != nil {
			return err
		}
		msg.AppendHeader(&ContactHeader{DisplayName: dn, Address: uri, Params: params})
	case "call-id":
		cid := CallIDHeader(value)
		msg.AppendHeader(&cid)
	case "cseq":
		fields := strings.SplitN(value, " ", 2)
		if len(fields) != 2 {
			return fmt.Errorf("malformed CSeq %q", value)
		}
		n, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return err
		}
		msg.AppendHeader(&CSeqHeader{SeqNo: uint32(n), MethodName: RequestMethod(fields[1])})
	case "content-length":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cl := ContentLengthHeader(n)
		msg.AppendHeader(&cl)
	case "content-type":
		ct := ContentTypeHeader(value)
		msg.AppendHeader(&ct)
	case "max-forwards":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		mf := MaxForwardsHeader(n)
		msg.AppendHeader(&mf)
	case "route":
		uri, err := parseRouteLikeValue(value)
		if err != nil {
			return err
		}
		msg.AppendHeader(&RouteHeader{Address: uri})
	case "record-route":
		uri, err := parseRouteLikeValue(value)
		if err != nil {
			return err
		}
		msg.AppendHeader(&RecordRouteHeader{Address: uri})
	default:
		msg.AppendHeader(NewHeader(canonical, value))
	}
	return nil
}

func parseRouteLikeValue(value string) (Uri, error) {
	v := strings.TrimSpace(value)
	v = strings.TrimPrefix(v, "<")
	if idx := strings.IndexByte(v, '>'); idx >= 0 {
		v = v[:idx]
	}
	return ParseURI(v)
}

// parseVia parses a single Via hop. RFC 3261 permits a comma-separated
// list of hops on one line; parseHeaderLine splits such a line and appends
// one ViaHeader per hop, in order, so responses echo every hop.
func parseVia(value string) (*ViaHeader, error) {
	first := value
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		first = value[:idx]
	}
	first = strings.TrimSpace(first)

	slash1 := strings.IndexByte(first, '/')
	if slash1 < 0 {
		return nil, fmt.Errorf("malformed Via %q", value)
	}
	rest := first[slash1+1:]
	slash2 := strings.IndexByte(rest, '/')
	if slash2 < 0 {
		return nil, fmt.Errorf("malformed Via %q", value)
	}
	rest = rest[slash2+1:]

	sp := strings.IndexAny(rest, " \t")
	if sp < 0 {
		return nil, fmt.Errorf("malformed Via %q", value)
	}
	transport := strings.TrimSpace(rest[:sp])
	tail := strings.TrimSpace(rest[sp+1:])

	hostPort := tail
	var params HeaderParams
	if semi := strings.IndexByte(tail, ';'); semi >= 0 {
		hostPort = tail[:semi]
		params, _ = ParseParams(tail[semi+1:], ';', 0)
	} else {
		params = NewParams()
	}

	host := hostPort
	port := 0
	if colon := strings.LastIndexByte(hostPort, ':'); colon >= 0 {
		host = hostPort[:colon]
		if p, err := strconv.Atoi(hostPort[colon+1:]); err == nil {
			port = p
		}
	}

	return &ViaHeader{Transport: transport, Host: host, Port: port, Params: params}, nil
}
