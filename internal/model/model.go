// Package model defines the domain types used across the application.
package model

import "time"

// Source is a monitored chat or chat+topic pair.
type Source struct {
	Key     string
	Alias   string
	Enabled bool
}

// Message is one incoming or replayed chat message. Messages are transient;
// only derived records (matches, watermarks, fingerprints) are stored.
type Message struct {
	SourceKey     string
	BaseSourceKey string
	TopicID       int64 // 0 when the message is not in a forum topic
	ChatID        int64
	MessageID     int64
	Date          time.Time
	Text          string
	Permalink     string
	TopicLink     string
}

// MatchRecord is the persisted representation of a single rule match.
type MatchRecord struct {
	ID         int64
	SourceKey  string
	ChatID     int64
	MessageID  int64
	Date       time.Time
	RuleName   string
	Reason     string
	Snippet    string
	Permalink  string
	Suppressed bool
	CreatedAt  time.Time
}

// DedupEntry is a stored content fingerprint with its first-seen timestamp.
type DedupEntry struct {
	Fingerprint string
	FirstSeen   time.Time
}

// OutcomeKind classifies the pipeline decision for one message.
type OutcomeKind string

// Pipeline outcomes.
const (
	OutcomeIgnored OutcomeKind = "ignored"
	OutcomeNoMatch OutcomeKind = "no_match"
	OutcomeMatched OutcomeKind = "matched"
)

// Ignore reasons reported in Outcome.Reason.
const (
	IgnoreUnknownSource  = "unknown_source"
	IgnoreSourceDisabled = "source_disabled"
	IgnoreEmptyText      = "empty_text"
	IgnoreBelowWatermark = "below_watermark"
	IgnoreAlreadySeen    = "already_seen"
	IgnoreDuplicate      = "duplicate_content"
)

// Outcome is the result of processing one message through the pipeline.
type Outcome struct {
	Kind       OutcomeKind
	Reason     string   // set for OutcomeIgnored
	Rules      []string // set for OutcomeMatched
	Suppressed bool     // matched but withheld from notification by dedup
}

// Ignored builds an Outcome for a message dropped before rule evaluation.
func Ignored(reason string) Outcome {
	return Outcome{Kind: OutcomeIgnored, Reason: reason}
}

// NoMatch is the Outcome for a processed message that matched no rule.
func NoMatch() Outcome {
	return Outcome{Kind: OutcomeNoMatch}
}

// Matched builds an Outcome for a message that matched at least one rule.
func Matched(rules []string, suppressed bool) Outcome {
	return Outcome{Kind: OutcomeMatched, Rules: rules, Suppressed: suppressed}
}
