package engine

import (
	"strconv"
	"strings"
)

const defaultDTMFDurationMS = 160

// validDTMFDigits lists every character the engine accepts from a
// Signal= line.
const validDTMFDigits = "0123456789ABCD*#"

// isDTMFCarrier reports whether an INFO request's Content-Type identifies
// it as an out-of-band DTMF relay.
func isDTMFCarrier(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/dtmf-relay")
}

// parseDTMFBody extracts Signal=<digit> and Duration=<ms> from an
// application/dtmf-relay body, defaulting duration to 160ms when absent.
// An unrecognized digit yields ok=false so the caller can decline to emit
// a malformed dtmf event.
func parseDTMFBody(body string) (digit string, durationMS int, ok bool) {
	durationMS = defaultDTMFDurationMS
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "signal":
			digit = strings.ToUpper(strings.TrimSpace(v))
		case "duration":
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				durationMS = n
			}
		}
	}
	if len(digit) != 1 || !strings.Contains(validDTMFDigits, digit) {
		return "", 0, false
	}
	return digit, durationMS, true
}
