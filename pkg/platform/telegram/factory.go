package telegram

import (
	"fmt"

	"chatbridge/pkg/platform"
)

// Factory implements platform.Factory for adapter_type "telegram".
type Factory struct{}

// Create parses the platform-specific JSON section of adapter.json and
// constructs a ready-to-Connect Client.
func (Factory) Create(rawConfig []byte) (platform.Client, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}
	return New(cfg)
}

func init() {
	platform.Register("telegram", Factory{})
}
