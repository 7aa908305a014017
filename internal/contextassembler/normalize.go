// Package contextassembler computes, for one incoming message, the
// classification context the ladder consults: an inheritance candidate,
// recent thread history, sender history/profile, and the has-replied flag.
// It is pure data-shaping logic with no vendor surface of its own.
package contextassembler

import (
	"regexp"
	"strings"
)

// replyForwardPrefix matches one leading Re:/Fwd:/Fw: token (and their
// bracketed variants, e.g. "[EXT] Re:") so repeated prefixes collapse.
var replyForwardPrefix = regexp.MustCompile(`(?i)^\s*(\[[^\]]*\]\s*)?(re|fw|fwd)\s*:\s*`)

// NormalizeSubject strips every leading Re/Fwd/RE/FW/Fwd-chain prefix,
// lowercases, and trims, so thread matching is tolerant of mail-client
// prefix variations. Idempotent: normalize(normalize(s)) == normalize(s).
func NormalizeSubject(subject string) string {
	s := subject
	for {
		stripped := replyForwardPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// SenderDomain extracts the lowercased domain portion of an email address.
// Addresses with no "@" yield the whole lowercased string (so malformed
// addresses still compare consistently rather than erroring).
func SenderDomain(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[i+1:]
	}
	return address
}
