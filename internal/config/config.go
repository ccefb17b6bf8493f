package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mir00r/cluster-proxy/internal/middleware"
	"github.com/mir00r/cluster-proxy/internal/service"
	"gopkg.in/yaml.v2"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Management ManagementConfig `yaml:"management"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains the proxy listener configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ManagementConfig contains the management listener configuration
type ManagementConfig struct {
	Port      int                        `yaml:"port"`
	RateLimit middleware.RateLimitConfig `yaml:"rate_limit"`
	Auth      middleware.JWTAuthConfig   `yaml:"auth"`
}

// ClusterConfig contains topology and health-check configuration
type ClusterConfig struct {
	HealthCheckInterval     time.Duration             `yaml:"health_check_interval"`
	RemoveBrokenNodes       time.Duration             `yaml:"remove_broken_nodes"`
	IOThreads               int                       `yaml:"io_threads"`
	FailoverDomainCacheSize int                       `yaml:"failover_domain_cache_size"`
	FailoverDomainCacheTTL  time.Duration             `yaml:"failover_domain_cache_ttl"`
	HealthCheck             service.HealthCheckConfig `yaml:"health_check"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Management: ManagementConfig{
			Port: 6666,
			RateLimit: middleware.RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Cluster: ClusterConfig{
			HealthCheckInterval:     10 * time.Second,
			RemoveBrokenNodes:       60 * time.Second,
			IOThreads:               4,
			FailoverDomainCacheSize: 100,
			FailoverDomainCacheTTL:  5 * time.Minute,
			HealthCheck: service.HealthCheckConfig{
				Enabled: true,
				Timeout: 5 * time.Second,
				Path:    "/",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file and merges it over the defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Management.Port <= 0 || c.Management.Port > 65535 {
		return fmt.Errorf("invalid management port %d", c.Management.Port)
	}
	if c.Server.Port == c.Management.Port {
		return fmt.Errorf("server and management ports must differ")
	}
	if c.Cluster.HealthCheckInterval <= 0 {
		return fmt.Errorf("health check interval must be positive")
	}
	if c.Cluster.IOThreads < 1 {
		return fmt.Errorf("io_threads must be at least 1")
	}
	if c.Management.Auth.Enabled && c.Management.Auth.SecretKey == "" {
		return fmt.Errorf("management auth enabled but no secret key configured")
	}
	return nil
}
