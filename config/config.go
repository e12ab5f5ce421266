// Package config provides loading and parsing of paceline.yaml configuration
// files. The configuration covers the Redis store and scheduler connections,
// the runner's consumption behavior, and the optional etcd lease cluster.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents a paceline.yaml configuration file. This is the primary
// configuration for a plan runner process.
type Config struct {
	// Redis configures the connection shared by the store and scheduler.
	Redis RedisConfig `yaml:"redis"`

	// Scheduler configures trigger delivery behavior.
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`

	// Runner configures the consumer loop.
	Runner RunnerConfig `yaml:"runner,omitempty"`

	// Lease configures the optional etcd-backed per-plan lease. When nil,
	// the runner processes triggers without mutual exclusion.
	Lease *LeaseConfig `yaml:"lease,omitempty"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// URL is the Redis connection string.
	// Default: "redis://localhost:6379"
	URL string `yaml:"url,omitempty"`

	// Namespace prefixes every key. Default: "paceline"
	Namespace string `yaml:"namespace,omitempty"`

	// ConnectTimeout is the connection establishment timeout.
	// Format: Go duration string (e.g., "5s")
	// Default: 5s
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
}

// SchedulerConfig holds trigger delivery settings.
type SchedulerConfig struct {
	// VisibilityTimeout is how long a claimed trigger stays invisible before
	// it is requeued for redelivery.
	// Format: Go duration string (e.g., "5m")
	// Default: 5m
	VisibilityTimeout string `yaml:"visibility_timeout,omitempty"`
}

// RunnerConfig holds consumer loop settings.
type RunnerConfig struct {
	// Concurrency is the number of concurrent consumer goroutines.
	// Default: 4
	Concurrency int `yaml:"concurrency,omitempty"`

	// PollInterval is the sleep between empty Receive calls.
	// Format: Go duration string (e.g., "1s")
	// Default: 1s
	PollInterval string `yaml:"poll_interval,omitempty"`

	// ShutdownTimeout is the time to wait for in-flight handlers on
	// graceful shutdown.
	// Format: Go duration string (e.g., "30s")
	// Default: 30s
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`
}

// LeaseConfig holds etcd lease settings.
type LeaseConfig struct {
	// Endpoints is the etcd cluster endpoint list.
	Endpoints []string `yaml:"endpoints"`

	// Namespace prefixes lock keys. Default: "paceline"
	Namespace string `yaml:"namespace,omitempty"`

	// TTL is the per-plan lease duration.
	// Format: Go duration string (e.g., "30s")
	// Default: 30s
	TTL string `yaml:"ttl,omitempty"`
}

// GetURL returns the configured Redis URL or the default value.
func (r *RedisConfig) GetURL() string {
	if r == nil || r.URL == "" {
		return "redis://localhost:6379"
	}
	return r.URL
}

// GetNamespace returns the configured namespace or the default value.
func (r *RedisConfig) GetNamespace() string {
	if r == nil || r.Namespace == "" {
		return "paceline"
	}
	return r.Namespace
}

// GetConnectTimeout parses the connect timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (r *RedisConfig) GetConnectTimeout() time.Duration {
	return parseDuration(r.ConnectTimeout, 5*time.Second)
}

// GetVisibilityTimeout parses the visibility timeout string and returns a
// duration. Returns the default value if not set or invalid.
func (s *SchedulerConfig) GetVisibilityTimeout() time.Duration {
	return parseDuration(s.VisibilityTimeout, 5*time.Minute)
}

// GetConcurrency returns the configured concurrency or the default value.
func (r *RunnerConfig) GetConcurrency() int {
	if r == nil || r.Concurrency <= 0 {
		return 4
	}
	return r.Concurrency
}

// GetPollInterval parses the poll interval string and returns a duration.
// Returns the default value if not set or invalid.
func (r *RunnerConfig) GetPollInterval() time.Duration {
	return parseDuration(r.PollInterval, time.Second)
}

// GetShutdownTimeout parses the shutdown timeout string and returns a
// duration. Returns the default value if not set or invalid.
func (r *RunnerConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(r.ShutdownTimeout, 30*time.Second)
}

// GetNamespace returns the configured lock namespace or the default value.
func (l *LeaseConfig) GetNamespace() string {
	if l == nil || l.Namespace == "" {
		return "paceline"
	}
	return l.Namespace
}

// GetTTL parses the lease TTL string and returns a duration. Returns the
// default value if not set or invalid.
func (l *LeaseConfig) GetTTL() time.Duration {
	if l == nil {
		return 30 * time.Second
	}
	return parseDuration(l.TTL, 30*time.Second)
}

// Validate checks the configuration for inconsistencies that would only
// surface at runtime otherwise.
func (c *Config) Validate() error {
	if c.Lease != nil && len(c.Lease.Endpoints) == 0 {
		return fmt.Errorf("lease.endpoints cannot be empty when lease is configured")
	}
	if c.Runner.Concurrency < 0 {
		return fmt.Errorf("runner.concurrency cannot be negative")
	}
	return nil
}

// Load reads and parses a paceline.yaml file from the given path. If the
// path is a directory, it looks for paceline.yaml or paceline.yml in that
// directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	var configPath string
	if info.IsDir() {
		yamlPath := filepath.Join(path, "paceline.yaml")
		if _, err := os.Stat(yamlPath); err == nil {
			configPath = yamlPath
		} else {
			ymlPath := filepath.Join(path, "paceline.yml")
			if _, err := os.Stat(ymlPath); err == nil {
				configPath = ymlPath
			} else {
				return nil, fmt.Errorf("no paceline.yaml or paceline.yml found in %s", path)
			}
		}
	} else {
		configPath = path
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromCurrentDir loads paceline.yaml from the current working directory.
func LoadFromCurrentDir() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return Load(cwd)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
