// Package telegram implements platform.Client for the Telegram Bot API,
// adapted from the teacher's TelegramChannel: a cancellable long-polling
// loop, media-group (album) debounce buffering, and direct-to-disk photo
// download, generalized to the adapter's broader event/operation surface
// (reactions, pins, edits, history).
package telegram

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config carries the platform-specific section of adapter.json for the
// "telegram" adapter_type.
type Config struct {
	Token             string `json:"token"`
	DownloadTimeoutMs int    `json:"download_timeout_ms"`
}

func (c *Config) validate() error {
	if c.Token == "" {
		return fmt.Errorf("missing telegram token")
	}
	return nil
}
