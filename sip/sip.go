// Package sip implements the text-based session-initiation protocol used
// to talk to telephony peers: message codec, a UDP transport, and a
// transaction layer with the retransmit timers the gateway needs.
package sip

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// RFC3261BranchMagicCookie prefixes every branch this package generates.
	RFC3261BranchMagicCookie = "z9hG4bK"

	// T1/T2 are the base and ceiling retransmit intervals (RFC 3261 17.1.1.1).
	T1 = 500 * time.Millisecond
	T2 = 4 * time.Second

	// TimerB and TimerF bound a client transaction awaiting a final response.
	TimerB = 64 * T1
	TimerF = 64 * T1
	// TimerH bounds how long a server transaction waits for the ACK to a 2xx.
	TimerH = 64 * T1

	// MaxFinalResponseRetransmits caps the 2xx retransmit schedule.
	MaxFinalResponseRetransmits = 7
)

type RequestMethod string

func (m RequestMethod) String() string { return string(m) }

const (
	INVITE  RequestMethod = "INVITE"
	ACK     RequestMethod = "ACK"
	BYE     RequestMethod = "BYE"
	CANCEL  RequestMethod = "CANCEL"
	INFO    RequestMethod = "INFO"
	OPTIONS RequestMethod = "OPTIONS"
)

// KnownMethods lists the methods the gateway understands, used to build
// Allow headers and to classify anything else as 501.
var KnownMethods = []RequestMethod{INVITE, ACK, BYE, CANCEL, INFO, OPTIONS}

func IsKnownMethod(m RequestMethod) bool {
	for _, km := range KnownMethods {
		if km == m {
			return true
		}
	}
	return false
}

func AllowHeaderValue() string {
	names := make([]string, len(KnownMethods))
	for i, m := range KnownMethods {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

const (
	StatusTrying               = 100
	StatusRinging              = 180
	StatusOK                   = 200
	// StatusRequestTimeout is only ever synthesized locally for an expired
	// client transaction; the gateway never writes it to the wire.
	StatusRequestTimeout       = 408
	StatusTemporarilyUnavail   = 480
	StatusRequestTerminated    = 487
	StatusInternalServerError  = 500
	StatusNotImplemented       = 501
	StatusServiceUnavailable   = 503
	StatusDecline              = 603
)

var reasonPhrases = map[int]string{
	StatusTrying:              "Trying",
	StatusRinging:             "Ringing",
	StatusOK:                  "OK",
	StatusTemporarilyUnavail:  "Temporarily Unavailable",
	StatusRequestTerminated:   "Request Terminated",
	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Not Implemented",
	StatusServiceUnavailable:  "Service Unavailable",
	StatusDecline:             "Decline",
}

// ReasonPhrase returns the canonical reason for a status code the gateway
// emits, falling back to a generic phrase for anything else.
func ReasonPhrase(status int) string {
	if r, ok := reasonPhrases[status]; ok {
		return r
	}
	switch {
	case status < 200:
		return "Trying"
	case status < 300:
		return "OK"
	default:
		return "Error"
	}
}

var brandGen = struct {
	mu  sync.Mutex
	rnd *localRand
}{rnd: newLocalRand()}

// GenerateBranch returns a fresh RFC 3261 branch token: the magic cookie
// plus 32 hex chars.
func GenerateBranch() string {
	brandGen.mu.Lock()
	defer brandGen.mu.Unlock()
	return RFC3261BranchMagicCookie + brandGen.rnd.hex(32)
}

// GenerateTag returns a fresh From/To tag (16 hex chars per the wire contract).
func GenerateTag() string {
	brandGen.mu.Lock()
	defer brandGen.mu.Unlock()
	return brandGen.rnd.hex(16)
}

// GenerateCallID returns a fresh call identifier: 32 hex chars + "@" + host.
func GenerateCallID(advertisedHost string) string {
	brandGen.mu.Lock()
	hex := brandGen.rnd.hex(32)
	brandGen.mu.Unlock()
	return hex + "@" + advertisedHost
}

// ResolveAdvertisedIP implements PUBLIC_IP=auto: the first non-loopback
// IPv4 address bound to any up interface.
func ResolveAdvertisedIP() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			return ip4.String(), nil
		}
	}
	return "", errNoInterface
}

var errNoInterface = &net.AddrError{Err: "no non-loopback IPv4 interface found"}

// HostPort joins a host and port the way Via/Contact/Record-Route need it.
func HostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
