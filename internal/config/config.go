// Package config handles application configuration: process settings come
// from environment variables, the watch definition (sources, rules, dedup,
// catch-up) from a YAML file. Both are loaded once per run; editing the watch
// file requires a restart.
package config

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"chatwatch/internal/rules"
)

// Config holds the process-level configuration read from the environment.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	WatchConfigPath  string
	LogLevel         string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/chatwatch.db"
	}

	watchPath := os.Getenv("WATCH_CONFIG")
	if watchPath == "" {
		watchPath = "./watch.yaml"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		TelegramBotToken: token,
		DatabasePath:     dbPath,
		WatchConfigPath:  watchPath,
		LogLevel:         logLevel,
	}, nil
}

// SourceConfig is one monitored chat or chat+topic entry.
type SourceConfig struct {
	Key     string `yaml:"key"`
	Alias   string `yaml:"alias"`
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled reports the enabled flag, defaulting to true when omitted.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Validate validates a source entry.
func (s SourceConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Key, validation.Required, validation.By(validSourceKey)),
	)
}

// RuleConfig is one matching rule as written in the watch file.
type RuleConfig struct {
	Name            string   `yaml:"name"`
	Keywords        []string `yaml:"keywords"`
	Regex           []string `yaml:"regex"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
	Enabled         *bool    `yaml:"enabled"`
}

// IsEnabled reports the enabled flag, defaulting to true when omitted.
func (r RuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Validate validates a rule entry, including that every regex pattern
// compiles, so a bad pattern is reported against its config entry instead of
// surfacing later from the rule engine.
func (r RuleConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Regex, validation.Each(validation.By(validRegexPattern))),
	)
}

func validRegexPattern(value any) error {
	pattern, _ := value.(string)
	return rules.ValidateRegex(pattern)
}

// DedupConfig controls content-level duplicate suppression.
type DedupConfig struct {
	Mode             string `yaml:"mode"`
	OnlyOnMatch      bool   `yaml:"only_on_match"`
	TTLDays          int    `yaml:"ttl_days"`
	RecordSuppressed bool   `yaml:"record_suppressed"`
	SweepSchedule    string `yaml:"sweep_schedule"`
}

// Validate validates the dedup section.
func (d DedupConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Mode, validation.Required, validation.In("off", "global", "per_source")),
		validation.Field(&d.TTLDays, validation.Required, validation.Min(1)),
	)
}

// CatchupConfig controls the startup historical replay.
type CatchupConfig struct {
	Enabled           bool `yaml:"enabled"`
	MessagesPerSource int  `yaml:"messages_per_source"`
}

// Validate validates the catch-up section.
func (c CatchupConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.MessagesPerSource, validation.Required, validation.Min(1), validation.Max(1000)),
	)
}

// NotifyConfig controls notification delivery.
type NotifyConfig struct {
	ChatID       int64 `yaml:"chat_id"`
	SnippetChars int   `yaml:"snippet_chars"`
}

// Validate validates the notifications section.
func (n NotifyConfig) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ChatID, validation.Required),
		validation.Field(&n.SnippetChars, validation.Required, validation.Min(1), validation.Max(4000)),
	)
}

// WatchConfig is the full watch definition loaded from the YAML file.
type WatchConfig struct {
	Sources []SourceConfig `yaml:"sources"`
	Rules   []RuleConfig   `yaml:"rules"`
	Dedup   DedupConfig    `yaml:"dedup"`
	Catchup CatchupConfig  `yaml:"catchup"`
	Notify  NotifyConfig   `yaml:"notifications"`
}

// Validate validates the whole watch configuration. Any error is fatal at
// startup; a partially applied configuration is never used.
func (w *WatchConfig) Validate() error {
	if len(w.Sources) == 0 {
		return fmt.Errorf("sources: at least one source is required")
	}
	seenKeys := make(map[string]struct{}, len(w.Sources))
	for i, src := range w.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, dup := seenKeys[src.Key]; dup {
			return fmt.Errorf("sources[%d]: duplicate key %q", i, src.Key)
		}
		seenKeys[src.Key] = struct{}{}
	}

	seenNames := make(map[string]struct{}, len(w.Rules))
	for i, rule := range w.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
		if _, dup := seenNames[rule.Name]; dup {
			return fmt.Errorf("rules[%d]: duplicate name %q", i, rule.Name)
		}
		seenNames[rule.Name] = struct{}{}
	}

	if err := w.Dedup.Validate(); err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if err := w.Catchup.Validate(); err != nil {
		return fmt.Errorf("catchup: %w", err)
	}
	if err := w.Notify.Validate(); err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	return nil
}
