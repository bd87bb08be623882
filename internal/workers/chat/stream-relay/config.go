// internal/workers/chat/stream-relay/config.go
package streamrelay

import (
	"time"

	"bmad-gateway/internal/common/config"
)

type Config struct {
	// Args precede the prompt on the command line.
	Args         []string
	Timeout      time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 1 << 20

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		Args:         cfg.Assistant.StreamArgs,
		Timeout:      config.GetDuration(cfg.Assistant.StreamTimeout),
		IdleTimeout:  config.GetDuration(cfg.Assistant.StreamIdleTimeout),
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}
