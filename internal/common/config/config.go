// internal/common/config/config.go
package config

import (
	"path/filepath"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig               `mapstructure:"app"`
	Server    ServerConfig            `mapstructure:"server"`
	Assistant AssistantConfig         `mapstructure:"assistant"`
	Pipeline  PipelineConfig          `mapstructure:"pipeline"`
	Camunda   CamundaConfig           `mapstructure:"camunda"`
	Workers   map[string]WorkerConfig `mapstructure:"workers"`
	Tracing   TracingConfig           `mapstructure:"tracing"`
	Logging   LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address           string `mapstructure:"address"`
	ReadHeaderTimeout int    `mapstructure:"read_header_timeout"` // milliseconds
	ShutdownTimeout   int    `mapstructure:"shutdown_timeout"`    // milliseconds
}

// AssistantConfig describes how the external assistant CLI is invoked.
// StreamArgs precede the prompt argument; BatchArgs are the whole tail of
// the batch command line, the merged template goes to stdin.
type AssistantConfig struct {
	Binary            string   `mapstructure:"binary"`
	StreamArgs        []string `mapstructure:"stream_args"`
	BatchArgs         []string `mapstructure:"batch_args"`
	BatchTimeout      int      `mapstructure:"batch_timeout"`       // milliseconds
	StreamTimeout     int      `mapstructure:"stream_timeout"`      // milliseconds, 0 = unbounded
	StreamIdleTimeout int      `mapstructure:"stream_idle_timeout"` // milliseconds, 0 = unbounded
	WorkingDir        string   `mapstructure:"working_dir"`
}

// PipelineConfig locates the stage registry and the prompt templates.
type PipelineConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
	TemplateDir  string `mapstructure:"template_dir"`
	Marker       string `mapstructure:"marker"`
}

// ResolveTemplate returns ref unchanged when absolute, otherwise joined to TemplateDir.
func (p PipelineConfig) ResolveTemplate(ref string) string {
	if filepath.IsAbs(ref) || p.TemplateDir == "" {
		return ref
	}
	return filepath.Join(p.TemplateDir, ref)
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every stage job worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // retries for failed or timed-out assistant calls
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
