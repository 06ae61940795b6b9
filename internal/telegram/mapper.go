// Package telegram adapts the Telegram Bot API to the pipeline's message
// boundary: mapping updates to domain messages and feeding the live stream.
//
// Updates are decoded from the raw getUpdates payload instead of the library
// structs: the library lags the Bot API and drops the forum-topic fields this
// application needs.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatwatch/internal/model"
	"chatwatch/internal/sourcekey"
)

// update is the subset of a Telegram update the pipeline cares about.
type update struct {
	UpdateID    int64            `json:"update_id"`
	Message     *incomingMessage `json:"message"`
	ChannelPost *incomingMessage `json:"channel_post"`
}

type incomingMessage struct {
	MessageID       int64  `json:"message_id"`
	Date            int64  `json:"date"`
	Text            string `json:"text"`
	Caption         string `json:"caption"`
	MessageThreadID int64  `json:"message_thread_id"`
	IsTopicMessage  bool   `json:"is_topic_message"`
	Chat            *chat  `json:"chat"`
}

type chat struct {
	ID       int64  `json:"id"`
	UserName string `json:"username"`
}

// Map converts a Telegram update to a domain message. The second return
// value is false for updates that carry no chat message (callback queries,
// edits, and so on).
func Map(u *update) (model.Message, bool) {
	m := u.Message
	if m == nil {
		m = u.ChannelPost
	}
	if m == nil || m.Chat == nil {
		return model.Message{}, false
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}

	// Replies carry a thread id too; only forum topics scope a source.
	var topicID int64
	if m.IsTopicMessage && m.MessageThreadID != 0 {
		topicID = m.MessageThreadID
	}

	base := sourcekey.FromChat(m.Chat.ID, m.Chat.UserName)
	msg := model.Message{
		SourceKey:     sourcekey.Build(base, topicID),
		BaseSourceKey: base,
		TopicID:       topicID,
		ChatID:        m.Chat.ID,
		MessageID:     m.MessageID,
		Date:          time.Unix(m.Date, 0),
		Text:          text,
	}
	msg.Permalink = permalink(m.Chat, m.MessageID)
	if topicID != 0 {
		msg.TopicLink = permalink(m.Chat, topicID)
	}
	return msg, true
}

// permalink builds a t.me link for a message: public chats link by username,
// private supergroups and channels by their bare internal id.
func permalink(c *chat, messageID int64) string {
	if c.UserName != "" {
		return fmt.Sprintf("https://t.me/%s/%d", c.UserName, messageID)
	}
	text := strconv.FormatInt(c.ID, 10)
	if internal, ok := strings.CutPrefix(text, "-100"); ok {
		return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
	}
	// Basic groups and private chats have no public link form.
	return ""
}
