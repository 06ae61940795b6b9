// Package notify formats and delivers match notifications.
package notify

import (
	"fmt"
	"strings"

	"chatwatch/internal/model"
	"chatwatch/internal/rules"
	"chatwatch/internal/sourcekey"
)

// SourceLabel returns a human-friendly label for a message's origin, using
// configured aliases. Forum-topic messages combine the base chat alias with
// the topic alias ("Team / Hiring") or a plain topic number.
func SourceLabel(msg model.Message, aliases map[string]string) string {
	if msg.TopicID == 0 {
		alias := aliases[msg.BaseSourceKey]
		if alias == "" {
			alias = aliases[msg.SourceKey]
		}
		if alias == "" {
			return msg.BaseSourceKey
		}
		return fmt.Sprintf("%s (%s)", alias, msg.BaseSourceKey)
	}

	baseAlias := aliases[msg.BaseSourceKey]
	topicAlias := aliases[msg.SourceKey]

	baseLabel := baseAlias
	if baseLabel == "" {
		baseLabel = msg.BaseSourceKey
	}
	var label string
	if topicAlias != "" {
		label = fmt.Sprintf("%s / %s", baseLabel, topicAlias)
	} else {
		label = fmt.Sprintf("%s / topic %d", baseLabel, msg.TopicID)
	}
	if baseAlias != "" || topicAlias != "" {
		return fmt.Sprintf("%s (%s)", label, msg.SourceKey)
	}
	return label
}

// FormatNotification builds the Markdown notification body for one match.
func FormatNotification(msg model.Message, match rules.Match, snippet string, aliases map[string]string) string {
	timestamp := msg.Date.Local().Format("15:04:05 02-01-2006")

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", timestamp)
	fmt.Fprintf(&b, "*Rule:*   %s\n", escapeMarkdown(match.RuleName))
	fmt.Fprintf(&b, "*Source:* %s\n", escapeMarkdown(SourceLabel(msg, aliases)))
	fmt.Fprintf(&b, "*Reason:* %s\n", escapeMarkdown(match.Reason))
	b.WriteString("*Excerpt:*\n")
	b.WriteString(escapeMarkdown(snippet))
	if msg.Permalink != "" {
		fmt.Fprintf(&b, "\n\n%s", msg.Permalink)
	}
	if msg.TopicLink != "" && msg.TopicLink != msg.Permalink {
		fmt.Fprintf(&b, "\ntopic: %s", msg.TopicLink)
	}
	return b.String()
}

// escapeMarkdown neutralizes the characters Telegram's legacy Markdown mode
// treats as formatting.
func escapeMarkdown(value string) string {
	replacer := strings.NewReplacer(
		"*", "\\*",
		"_", "\\_",
		"`", "\\`",
		"[", "\\[",
	)
	return replacer.Replace(value)
}

// Aliases builds the alias lookup used for source labels from the configured
// source list, indexed under every equivalent key form.
func Aliases(sources []model.Source) map[string]string {
	aliases := make(map[string]string, len(sources))
	for _, src := range sources {
		if src.Alias == "" {
			continue
		}
		for _, variant := range sourcekey.ExpandVariants(src.Key) {
			aliases[variant] = src.Alias
		}
	}
	return aliases
}
