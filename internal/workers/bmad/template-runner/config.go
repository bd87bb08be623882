// internal/workers/bmad/template-runner/config.go
package templaterunner

import (
	"time"

	"bmad-gateway/internal/common/config"
)

type Config struct {
	// Args is the whole batch command line after the binary.
	Args         []string
	Timeout      time.Duration
	Marker       string
	Pipeline     config.PipelineConfig
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 1 << 20

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		Args:         cfg.Assistant.BatchArgs,
		Timeout:      config.GetDuration(cfg.Assistant.BatchTimeout),
		Marker:       cfg.Pipeline.Marker,
		Pipeline:     cfg.Pipeline,
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}
