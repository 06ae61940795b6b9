// Package rules implements the message matching engine.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Spec is a single rule definition as loaded from configuration.
type Spec struct {
	Name            string
	Keywords        []string
	Regex           []string
	ExcludeKeywords []string
	Enabled         bool
}

// Rule is a compiled rule ready for matching.
type Rule struct {
	Name     string
	keywords []string
	excludes []string
	patterns []*regexp.Regexp
	raw      []string
}

// Match is a single rule hit with a human-readable reason.
type Match struct {
	RuleName string
	Reason   string
}

// Compile normalizes rule specs and compiles their regex patterns.
// Disabled rules are dropped. A rule with no keywords and no regex can never
// match and is rejected so misconfiguration surfaces at startup.
func Compile(specs []Spec) ([]Rule, error) {
	var compiled []Rule
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if spec.Name == "" {
			return nil, fmt.Errorf("rule with empty name")
		}
		if len(spec.Keywords) == 0 && len(spec.Regex) == 0 {
			return nil, fmt.Errorf("rule %q has no keywords and no regex", spec.Name)
		}

		rule := Rule{Name: spec.Name, raw: spec.Regex}
		for _, k := range spec.Keywords {
			rule.keywords = append(rule.keywords, strings.ToLower(k))
		}
		for _, k := range spec.ExcludeKeywords {
			rule.excludes = append(rule.excludes, strings.ToLower(k))
		}
		for _, pattern := range spec.Regex {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q: invalid regex %q: %w", spec.Name, pattern, err)
			}
			rule.patterns = append(rule.patterns, re)
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}

// Evaluate returns every rule that matches the given text, in rule order.
//
// Matching logic:
//   - If any exclude keyword is present, the rule does not match.
//   - Otherwise any keyword OR any regex hit is sufficient.
//   - Empty or whitespace-only text matches nothing.
func Evaluate(text string, rules []Rule) []Match {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lowered := strings.ToLower(text)

	var matches []Match
	for _, rule := range rules {
		if rule.excluded(lowered) {
			continue
		}

		var keywordHits []string
		for _, k := range rule.keywords {
			if strings.Contains(lowered, k) {
				keywordHits = append(keywordHits, k)
			}
		}
		var regexHits []string
		for i, re := range rule.patterns {
			if re.MatchString(text) {
				regexHits = append(regexHits, rule.raw[i])
			}
		}
		if len(keywordHits) == 0 && len(regexHits) == 0 {
			continue
		}

		matches = append(matches, Match{
			RuleName: rule.Name,
			Reason:   formatReason(keywordHits, regexHits),
		})
	}
	return matches
}

func (r Rule) excluded(lowered string) bool {
	for _, ex := range r.excludes {
		if strings.Contains(lowered, ex) {
			return true
		}
	}
	return false
}

// formatReason lists the keywords and patterns that hit, for notifications
// and match records.
func formatReason(keywords, patterns []string) string {
	var parts []string
	if len(keywords) > 0 {
		sort.Strings(keywords)
		parts = append(parts, "keyword(s): "+strings.Join(keywords, ", "))
	}
	if len(patterns) > 0 {
		parts = append(parts, "regex: "+strings.Join(patterns, ", "))
	}
	return strings.Join(parts, "\n")
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	if _, err := regexp.Compile("(?i)" + pattern); err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
