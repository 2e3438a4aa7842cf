// Package config loads the adapter's two JSON configuration documents
// and exposes typed, read-only, category/key-style accessors.
package config

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the business-level configuration, mapping directly to
// adapter.json: which platform to run, its credentials, and the
// adapter_type selector used to look up a platform.Factory.
type Config struct {
	AdapterType string              `json:"adapter_type"`
	Platform    jsoniter.RawMessage `json:"platform"`

	// EventSocketURL is the framework-hosted event-socket endpoint this
	// adapter dials as a client (spec §6.1's bidirectional socket). Left
	// empty, the adapter instead listens for the framework to connect via
	// eventbus.Accept on EventSocketListenAddr.
	EventSocketURL         string `json:"event_socket_url"`
	EventSocketListenAddr  string `json:"event_socket_listen_addr"`
}

// Validate ensures the mandatory fields are present before the adapter
// proceeds to initialization.
func (c *Config) Validate() error {
	if c.AdapterType == "" {
		return fmt.Errorf("mandatory 'adapter_type' is missing")
	}
	if len(c.Platform) == 0 {
		return fmt.Errorf("mandatory 'platform' configuration is missing or empty")
	}
	return nil
}

// RateLimitConfig configures the three independent leaky-bucket scopes
// described in spec §4.1.
type RateLimitConfig struct {
	GlobalRPM          int `json:"global_rpm"`
	PerConversationRPM int `json:"per_conversation_rpm"`
	MessageRPM         int `json:"message_rpm"`
}

// CacheConfig configures the bounds and sweep cadence shared by the
// three in-memory caches (spec §3, §4.2).
type CacheConfig struct {
	MaxTotalMessages           int `json:"max_total_messages"`
	MaxMessagesPerConversation int `json:"max_messages_per_conversation"`
	MaxTotalAttachments        int `json:"max_total_attachments"`
	MaxTotalUsers              int `json:"max_total_users"`
	MessageMaxAgeHours         int `json:"message_max_age_hours"`
	UserMaxAgeHours            int `json:"user_max_age_hours"`
	AttachmentMaxAgeHours      int `json:"attachment_max_age_hours"`
	CleanupIntervalHours       int `json:"cleanup_interval_hours"`
}

// AttachmentConfig configures attachment download/upload behavior and
// on-disk layout (spec §4.2, §6.2).
type AttachmentConfig struct {
	StorageDir     string `json:"storage_dir"`
	MaxFileSizeMB  int    `json:"max_file_size_mb"`
	DownloadTimeoutMs int `json:"download_timeout_ms"`
}

// SystemConfig holds engine-level technical parameters, read from
// system.json with hardcoded safe defaults for any field left unset.
type SystemConfig struct {
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Cache      CacheConfig      `json:"cache"`
	Attachment AttachmentConfig `json:"attachment"`

	MaxMessageLength int `json:"max_message_length"`

	MaxPaginationIterations int  `json:"max_pagination_iterations"`
	CacheFetchedHistory     bool `json:"cache_fetched_history"`

	ConnectionCheckIntervalMs int `json:"connection_check_interval_ms"`
	MaxReconnectAttempts      int `json:"max_reconnect_attempts"`

	InternalChannelBuffer int `json:"internal_channel_buffer"`

	FilterOwnReactions bool `json:"filter_own_reactions"`

	EmojiOverlayPath string `json:"emoji_overlay_path"`

	LogLevel string `json:"log_level"`
}

// DeepCopy returns a full value copy of SystemConfig.
func (s *SystemConfig) DeepCopy() *SystemConfig {
	cp := *s
	return &cp
}

// ConnectionCheckInterval returns the configured interval as a Duration.
func (s *SystemConfig) ConnectionCheckInterval() time.Duration {
	return time.Duration(s.ConnectionCheckIntervalMs) * time.Millisecond
}

// DefaultSystemConfig returns a SystemConfig populated with hardcoded
// safe defaults, the way the teacher's DefaultSystemConfig does.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		RateLimit: RateLimitConfig{
			GlobalRPM:          120,
			PerConversationRPM: 20,
			MessageRPM:         20,
		},
		Cache: CacheConfig{
			MaxTotalMessages:           50000,
			MaxMessagesPerConversation: 500,
			MaxTotalAttachments:        5000,
			MaxTotalUsers:              20000,
			MessageMaxAgeHours:         24 * 7,
			UserMaxAgeHours:            24 * 30,
			AttachmentMaxAgeHours:      24 * 14,
			CleanupIntervalHours:       1,
		},
		Attachment: AttachmentConfig{
			StorageDir:        "data/attachments",
			MaxFileSizeMB:     8,
			DownloadTimeoutMs: 10000,
		},
		MaxMessageLength:          2000,
		MaxPaginationIterations:   10,
		CacheFetchedHistory:       true,
		ConnectionCheckIntervalMs: 15000,
		MaxReconnectAttempts:      5,
		InternalChannelBuffer:     100,
		FilterOwnReactions:        true,
		LogLevel:                  "info",
	}
}

// Load reads and parses adapter.json and system.json, returning the
// business config and the system config (defaulted where system.json is
// absent or partial).
func Load() (*Config, *SystemConfig, error) {
	appPath := "adapter.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found, please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returning defaults
// if the file is absent or malformed.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return cfg
	}

	return cfg
}
