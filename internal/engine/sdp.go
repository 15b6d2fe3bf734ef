package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// validateSDP is applied to every inbound/outbound SDP this engine
// touches: non-empty, starts with "v=", and carries at least one audio or
// video media line.
func validateSDP(sdp string) error {
	trimmed := strings.TrimSpace(sdp)
	if trimmed == "" {
		return fmt.Errorf("%w: empty body", ErrValidation)
	}
	lines := strings.Split(strings.ReplaceAll(trimmed, "\r\n", "\n"), "\n")
	if !strings.HasPrefix(lines[0], "v=") {
		return fmt.Errorf("%w: first line is not v=", ErrValidation)
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "m=audio") || strings.HasPrefix(l, "m=video") {
			return nil
		}
	}
	return fmt.Errorf("%w: no m=audio or m=video line", ErrValidation)
}

// flattenSDP accepts the two shapes a browser-side session description
// arrives in: structured {type, sdp} objects are flattened by taking the
// sdp field; bare strings pass through unchanged. The hub already
// normalizes at its boundary, but the engine repeats the flatten so it is
// never order-dependent on that upstream behavior.
func flattenSDP(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw
	}
	var obj struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj.SDP != "" {
		return obj.SDP
	}
	return raw
}

// stripVideoSection removes any "m=video" media section (its m= line and
// every attribute line up to the next m= line or end of message) from sdp.
// Applied unconditionally to browser answers bound for telephony peers; a
// stray video line confuses audio-only downstream devices.
func stripVideoSection(sdp string) string {
	lines := strings.Split(strings.ReplaceAll(sdp, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	skipping := false
	for _, l := range lines {
		if strings.HasPrefix(l, "m=video") {
			skipping = true
			continue
		}
		if skipping && strings.HasPrefix(l, "m=") {
			skipping = false
		}
		if skipping {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\r\n")
}
