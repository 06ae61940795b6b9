package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Defaults applied to omitted watch-file fields.
const (
	defaultDedupMode     = "per_source"
	defaultTTLDays       = 30
	defaultSweepSchedule = "@hourly"
	defaultCatchupLimit  = 200
	defaultSnippetChars  = 400
)

// LoadWatch reads and validates the watch definition from a YAML file.
// Unknown fields are rejected so typos fail loudly instead of being ignored.
func LoadWatch(path string) (*WatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watch config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var w WatchConfig
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("parse watch config %s: %w", path, err)
	}

	w.applyDefaults()
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watch config %s: %w", path, err)
	}
	return &w, nil
}

func (w *WatchConfig) applyDefaults() {
	if w.Dedup.Mode == "" {
		w.Dedup.Mode = defaultDedupMode
	}
	if w.Dedup.TTLDays == 0 {
		w.Dedup.TTLDays = defaultTTLDays
	}
	if w.Dedup.SweepSchedule == "" {
		w.Dedup.SweepSchedule = defaultSweepSchedule
	}
	if w.Catchup.Enabled && w.Catchup.MessagesPerSource == 0 {
		w.Catchup.MessagesPerSource = defaultCatchupLimit
	}
	if w.Notify.SnippetChars == 0 {
		w.Notify.SnippetChars = defaultSnippetChars
	}
}

// validSourceKey checks the canonical key format: "@username" (lower-case) or
// "chat_id:<integer>", optionally followed by "#topic:<integer>".
func validSourceKey(value any) error {
	key, _ := value.(string)

	base := key
	if b, topic, found := strings.Cut(key, "#topic:"); found {
		if _, err := strconv.ParseInt(topic, 10, 64); err != nil {
			return fmt.Errorf("invalid topic id in %q", key)
		}
		base = b
	}

	switch {
	case strings.HasPrefix(base, "@"):
		if len(base) < 2 {
			return fmt.Errorf("empty username in %q", key)
		}
		if base != strings.ToLower(base) {
			return fmt.Errorf("username in %q must be lower-case", key)
		}
	case strings.HasPrefix(base, "chat_id:"):
		if _, err := strconv.ParseInt(strings.TrimPrefix(base, "chat_id:"), 10, 64); err != nil {
			return fmt.Errorf("invalid chat id in %q", key)
		}
	default:
		return fmt.Errorf("key %q must start with @ or chat_id:", key)
	}
	return nil
}
