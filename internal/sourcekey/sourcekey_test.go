package sourcekey

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"chatwatch/internal/model"
)

func TestBuildSplitRoundtrip(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		topicID   int64
		wantKey   string
		wantBase  string
		wantTopic int64
	}{
		{name: "no topic", base: "@group", topicID: 0, wantKey: "@group", wantBase: "@group", wantTopic: 0},
		{name: "with topic", base: "@group", topicID: 123, wantKey: "@group#topic:123", wantBase: "@group", wantTopic: 123},
		{name: "chat id with topic", base: "chat_id:-100555", topicID: 7, wantKey: "chat_id:-100555#topic:7", wantBase: "chat_id:-100555", wantTopic: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := Build(tt.base, tt.topicID)
			if key != tt.wantKey {
				t.Fatalf("Build() = %q, want %q", key, tt.wantKey)
			}
			base, topicID := Split(key)
			if base != tt.wantBase || topicID != tt.wantTopic {
				t.Errorf("Split(%q) = (%q, %d), want (%q, %d)", key, base, topicID, tt.wantBase, tt.wantTopic)
			}
		})
	}
}

func TestSplitMalformed(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "non numeric topic", key: "@group#topic:abc"},
		{name: "suffix only", key: "#topic:5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, topicID := Split(tt.key)
			if base != tt.key || topicID != 0 {
				t.Errorf("Split(%q) = (%q, %d), want key unchanged with topic 0", tt.key, base, topicID)
			}
		})
	}
}

func TestFromChat(t *testing.T) {
	tests := []struct {
		name     string
		chatID   int64
		username string
		want     string
	}{
		{name: "username lower-cased", chatID: 42, username: "GoNews", want: "@gonews"},
		{name: "no username uses chat id", chatID: -100123456, username: "", want: "chat_id:-100123456"},
		{name: "positive chat id", chatID: 1816083518, username: "", want: "chat_id:1816083518"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromChat(tt.chatID, tt.username); got != tt.want {
				t.Errorf("FromChat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandVariants(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want []string
	}{
		{
			name: "username has single form",
			key:  "@group",
			want: []string{"@group"},
		},
		{
			name: "positive id gains negative and peer forms",
			key:  "chat_id:123",
			want: []string{"chat_id:-1000000000123", "chat_id:-123", "chat_id:123"},
		},
		{
			name: "channel peer id gains bare form",
			key:  "chat_id:-100987654321",
			want: []string{"chat_id:-100987654321", "chat_id:987654321"},
		},
		{
			name: "plain negative id gains positive form",
			key:  "chat_id:-4567",
			want: []string{"chat_id:-4567", "chat_id:4567"},
		},
		{
			name: "topic suffix is preserved",
			key:  "chat_id:42#topic:7",
			want: []string{"chat_id:-1000000000042#topic:7", "chat_id:-42#topic:7", "chat_id:42#topic:7"},
		},
		{
			name: "malformed id left alone",
			key:  "chat_id:abc",
			want: []string{"chat_id:abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandVariants(tt.key)
			sort.Strings(got)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExpandVariants(%q) mismatch (-want +got):\n%s", tt.key, diff)
			}
		})
	}
}

func TestResolver(t *testing.T) {
	sources := []model.Source{
		{Key: "@team", Alias: "Team", Enabled: true},
		{Key: "@team#topic:10", Alias: "Hiring", Enabled: true},
		{Key: "@muted", Enabled: false},
		{Key: "chat_id:987654321", Alias: "Private", Enabled: true},
		{Key: "@topiconly#topic:5", Alias: "Scoped", Enabled: true},
	}
	r := NewResolver(sources)

	tests := []struct {
		name      string
		chatID    int64
		username  string
		topicID   int64
		wantOK    bool
		wantAlias string
	}{
		{name: "base key", username: "Team", wantOK: true, wantAlias: "Team"},
		{name: "topic entry takes precedence", username: "team", topicID: 10, wantOK: true, wantAlias: "Hiring"},
		{name: "other topics fall back to base entry", username: "team", topicID: 11, wantOK: true, wantAlias: "Team"},
		{name: "disabled source still resolves", username: "muted", wantOK: true},
		{name: "unconfigured chat", username: "stranger", wantOK: false},
		{name: "chat id variant form resolves", chatID: -100987654321, wantOK: true, wantAlias: "Private"},
		{name: "topic-only source blocks other topics", username: "topiconly", topicID: 6, wantOK: false},
		{name: "topic-only source matches its topic", username: "topiconly", topicID: 5, wantOK: true, wantAlias: "Scoped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, ok := r.Resolve(tt.chatID, tt.username, tt.topicID)
			if ok != tt.wantOK {
				t.Fatalf("Resolve() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && tt.wantAlias != "" && src.Alias != tt.wantAlias {
				t.Errorf("Resolve() alias = %q, want %q", src.Alias, tt.wantAlias)
			}
		})
	}
}
