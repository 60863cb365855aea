package meta

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pbcollector/internal/log"
)

// ApplicationConfig is a top-level block for application-level meta configuration.
type ApplicationConfig struct {
	SentryDSN string `yaml:"sentry_dsn"`
	// Verbosity is the logging level used when no -verbosity flag is given.
	Verbosity *log.Level `yaml:"verbosity"`
}

// MetricsConfig is a top-level block for metrics configuration.
type MetricsConfig struct {
	Statsd *struct {
		Address    string  `yaml:"addr"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"statsd"`
}

// EndpointConfig describes a single collector endpoint.
type EndpointConfig struct {
	Name                     string        `yaml:"name"`
	Address                  string        `yaml:"addr"`
	QueueCapacity            int           `yaml:"queue_capacity"`
	PushTimeout              time.Duration `yaml:"push_timeout"`
	ReadTimeout              time.Duration `yaml:"read_timeout"`
	MaxConcurrentConnections int           `yaml:"max_concurrent_connections"`
}

// DnstapConfig describes the optional dnstap endpoint.
type DnstapConfig struct {
	Address       string `yaml:"addr"`
	Bidirectional bool   `yaml:"bidirectional"`
}

// CollectorConfig is a top-level block for collector endpoint configuration.
type CollectorConfig struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Dnstap    *DnstapConfig    `yaml:"dnstap"`
}

// ValidationConfig is a top-level block describing what the exporter feeding the collector is
// configured to do, and therefore what every record must satisfy.
type ValidationConfig struct {
	MaxCacheTTL uint32   `yaml:"max_cache_ttl"`
	MaskV4      *int     `yaml:"mask_v4"`
	MaskV6      *int     `yaml:"mask_v6"`
	Tags        []string `yaml:"tags"`
	Consistency bool     `yaml:"consistency"`
}

// Config describes all application configuration options.
type Config struct {
	Application *ApplicationConfig `yaml:"application"`
	Metrics     *MetricsConfig     `yaml:"metrics"`
	Collector   *CollectorConfig   `yaml:"collector"`
	Validation  *ValidationConfig  `yaml:"validation"`
}

// ParseConfig parses a Config struct instance from a file specified as a path on disk.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: error reading config: err=%v", err)
	}

	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg *Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing config: err=%v", err)
	}

	if cfg == nil {
		return nil, fmt.Errorf("config: empty configuration")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MaskV4Bits returns the configured IPv4 masking prefix, defaulting to no masking.
func (c *ValidationConfig) MaskV4Bits() int {
	if c == nil || c.MaskV4 == nil {
		return 32
	}
	return *c.MaskV4
}

// MaskV6Bits returns the configured IPv6 masking prefix, defaulting to no masking.
func (c *ValidationConfig) MaskV6Bits() int {
	if c == nil || c.MaskV6 == nil {
		return 128
	}
	return *c.MaskV6
}

// validate the contents of the configuration. Returns an error if validation failed; nil otherwise.
func (c *Config) validate() error {
	/* Metrics */

	// Users can omit the metrics block entirely to disable metrics reporting.
	if c.Metrics != nil && c.Metrics.Statsd != nil {
		if c.Metrics.Statsd.Address == "" {
			return fmt.Errorf("config: missing metrics statsd address")
		}

		if c.Metrics.Statsd.SampleRate < 0 || c.Metrics.Statsd.SampleRate > 1 {
			return fmt.Errorf("config: statsd sample rate must be in range [0.0, 1.0]")
		}
	}

	/* Collector */

	if c.Collector == nil {
		return fmt.Errorf("config: missing top-level collector config key")
	}

	if len(c.Collector.Endpoints) == 0 {
		return fmt.Errorf("config: no collector endpoints specified")
	}

	names := make(map[string]bool)
	for idx, endpoint := range c.Collector.Endpoints {
		if endpoint.Name == "" {
			return fmt.Errorf("config: missing endpoint name: idx=%d", idx)
		}

		if names[endpoint.Name] {
			return fmt.Errorf("config: duplicate endpoint name: idx=%d name=%s", idx, endpoint.Name)
		}
		names[endpoint.Name] = true

		if endpoint.Address == "" {
			return fmt.Errorf("config: missing endpoint listening address: name=%s", endpoint.Name)
		}

		if endpoint.QueueCapacity < 0 || endpoint.MaxConcurrentConnections < 0 {
			return fmt.Errorf("config: endpoint limits must not be negative: name=%s", endpoint.Name)
		}

		if endpoint.PushTimeout < 0 || endpoint.ReadTimeout < 0 {
			return fmt.Errorf("config: endpoint timeouts must not be negative: name=%s", endpoint.Name)
		}
	}

	if c.Collector.Dnstap != nil && c.Collector.Dnstap.Address == "" {
		return fmt.Errorf("config: missing dnstap listening address")
	}

	/* Validation */

	if c.Validation != nil {
		if bits := c.Validation.MaskV4Bits(); bits < 0 || bits > 32 {
			return fmt.Errorf("config: IPv4 mask must be in range [0, 32]: mask=%d", bits)
		}

		if bits := c.Validation.MaskV6Bits(); bits < 0 || bits > 128 {
			return fmt.Errorf("config: IPv6 mask must be in range [0, 128]: mask=%d", bits)
		}
	}

	return nil
}
