// Package dedup derives content fingerprints for duplicate suppression.
//
// A fingerprint identifies message content, not message identity: two
// messages with different ids but equivalent text collapse to the same
// fingerprint and only the first one is notified within the TTL window.
package dedup

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

// Mode selects the fingerprint scope.
type Mode string

// Supported dedup modes.
const (
	ModeOff       Mode = "off"
	ModeGlobal    Mode = "global"
	ModePerSource Mode = "per_source"
)

var whitespace = regexp.MustCompile(`\s+`)

// Normalize prepares text for deterministic fingerprinting: trim, collapse
// whitespace runs, lower-case.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(whitespace.ReplaceAllString(text, " ")))
}

// Fingerprint returns the content hash for the given normalized text, scoped
// by source when the mode requires it. It returns "" when dedup is off.
func Fingerprint(sourceKey, normalized string, mode Mode) string {
	var payload string
	switch mode {
	case ModeOff:
		return ""
	case ModeGlobal:
		payload = normalized
	case ModePerSource:
		payload = sourceKey + "\n" + normalized
	default:
		return ""
	}
	sum := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("%x", sum)
}
