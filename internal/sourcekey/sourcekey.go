// Package sourcekey normalizes chat identities into canonical source keys
// and resolves them against the configured source set.
package sourcekey

import (
	"fmt"
	"strconv"
	"strings"

	"chatwatch/internal/model"
)

// TopicSuffix separates the base key from a forum topic id.
const TopicSuffix = "#topic:"

const chatIDPrefix = "chat_id:"

// channelPeerOffset converts a bare channel id into the -100-prefixed peer id
// Telegram uses for supergroups and channels.
const channelPeerOffset = int64(1000000000000)

// Build returns the effective key, adding a topic suffix when needed.
func Build(baseKey string, topicID int64) string {
	if topicID == 0 {
		return baseKey
	}
	return fmt.Sprintf("%s%s%d", baseKey, TopicSuffix, topicID)
}

// Split breaks a source key into its base key and topic id.
// Keys without a topic suffix return topicID 0.
func Split(key string) (string, int64) {
	base, topicPart, found := strings.Cut(key, TopicSuffix)
	if !found || base == "" {
		return key, 0
	}
	topicID, err := strconv.ParseInt(topicPart, 10, 64)
	if err != nil {
		return key, 0
	}
	return base, topicID
}

// FromChat builds the canonical key for a chat: "@username" lower-cased when
// the chat is public, otherwise "chat_id:<id>".
func FromChat(chatID int64, username string) string {
	if username != "" {
		return "@" + strings.ToLower(username)
	}
	return fmt.Sprintf("%s%d", chatIDPrefix, chatID)
}

// expandChatIDs returns the set of equivalent chat id forms: the id as given,
// plus its bare/prefixed counterparts (peer id, group id, channel id).
func expandChatIDs(id int64) []int64 {
	variants := []int64{id}
	if id < 0 {
		text := strconv.FormatInt(id, 10)
		if channel, ok := strings.CutPrefix(text, "-100"); ok {
			if bare, err := strconv.ParseInt(channel, 10, 64); err == nil {
				variants = append(variants, bare)
			}
			return variants
		}
		return append(variants, -id)
	}
	return append(variants, -id, -channelPeerOffset-id)
}

// ExpandVariants returns every key equivalent to the given one. Username keys
// have a single form; numeric keys expand to all equivalent chat id forms,
// preserving any topic suffix.
func ExpandVariants(key string) []string {
	base, topicID := Split(key)
	if !strings.HasPrefix(base, chatIDPrefix) {
		return []string{key}
	}
	raw, err := strconv.ParseInt(strings.TrimPrefix(base, chatIDPrefix), 10, 64)
	if err != nil {
		return []string{key}
	}
	var keys []string
	for _, id := range expandChatIDs(raw) {
		keys = append(keys, Build(fmt.Sprintf("%s%d", chatIDPrefix, id), topicID))
	}
	return keys
}

// Resolver looks up incoming messages in the configured source set.
// It is built once at startup and is safe for concurrent use.
type Resolver struct {
	byKey map[string]model.Source
}

// NewResolver indexes the configured sources under every equivalent key form,
// so config entries may use either the bare or the prefixed chat id.
func NewResolver(sources []model.Source) *Resolver {
	byKey := make(map[string]model.Source, len(sources))
	for _, src := range sources {
		for _, variant := range ExpandVariants(src.Key) {
			byKey[variant] = src
		}
	}
	return &Resolver{byKey: byKey}
}

// Resolve returns the configured source for a chat and optional forum topic.
// The second return value is false when neither form is configured.
func (r *Resolver) Resolve(chatID int64, username string, topicID int64) (model.Source, bool) {
	return r.ResolveKey(FromChat(chatID, username), topicID)
}

// ResolveKey looks up a base key and optional topic id. A topic-specific
// entry takes precedence over the base chat entry.
func (r *Resolver) ResolveKey(baseKey string, topicID int64) (model.Source, bool) {
	if topicID != 0 {
		if src, ok := r.byKey[Build(baseKey, topicID)]; ok {
			return src, true
		}
	}
	src, ok := r.byKey[baseKey]
	return src, ok
}
