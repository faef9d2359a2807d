package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration of a broker member.
type Config struct {
	// ServiceName identifies the process in traces and metrics.
	ServiceName string `yaml:"service_name" json:"service_name"`

	// ServiceVersion is the version of the broker binary.
	ServiceVersion string `yaml:"service_version" json:"service_version"`

	// Environment is the deployment environment (development, production).
	Environment string `yaml:"environment" json:"environment"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Events  EventsConfig  `yaml:"events" json:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `yaml:"level" json:"level"`

	// Format is console or json.
	Format string `yaml:"format" json:"format"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output" json:"output"`

	EnableCaller bool `yaml:"enable_caller" json:"enable_caller"`

	// EnableSampling drops repeated messages above SamplingInitial per
	// second, keeping every SamplingThereafter-th.
	EnableSampling     bool `yaml:"enable_sampling" json:"enable_sampling"`
	SamplingInitial    int  `yaml:"sampling_initial" json:"sampling_initial"`
	SamplingThereafter int  `yaml:"sampling_thereafter" json:"sampling_thereafter"`

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string `yaml:"time_format" json:"time_format"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `yaml:"exporter" json:"exporter"`

	// Endpoint is the OTLP collector address.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// SamplingRate is the fraction of root spans kept (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`

	MaxExportBatchSize int               `yaml:"max_export_batch_size" json:"max_export_batch_size"`
	ExportTimeout      time.Duration     `yaml:"export_timeout" json:"export_timeout"`
	Headers            map[string]string `yaml:"headers" json:"headers"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure" json:"insecure"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ListenAddress is the address of the metrics HTTP server.
	ListenAddress string `yaml:"listen_address" json:"listen_address"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `yaml:"path" json:"path"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" json:"namespace"`

	// DefaultHistogramBuckets are the latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"histogram_buckets" json:"histogram_buckets"`
}

// EventsConfig configures the order event stream.
type EventsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// BufferSize is the capacity of the delivery queue. Events published
	// while it is full are dropped.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// DefaultConfig returns the telemetry configuration used when a member file
// leaves a section out.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "fedbroker",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			EnableCaller:       false,
			EnableSampling:     false,
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9464",
			Path:          "/metrics",
			Namespace:     "fedbroker",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 1000,
		},
	}
}

// ProductionConfig returns a production-oriented configuration.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("invalid sampling rate: %f (must be between 0 and 1)", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled {
		if c.Metrics.ListenAddress == "" {
			return fmt.Errorf("metrics listen address is required")
		}
		if c.Metrics.Path == "" {
			return fmt.Errorf("metrics path is required")
		}
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive")
	}

	return nil
}
