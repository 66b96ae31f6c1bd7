package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"site-replica/pkg/models"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent          string                    `yaml:"user_agent,omitempty"`
	StateDir           string                    `yaml:"state_dir,omitempty"`
	ResourceBatchSize  int                       `yaml:"resource_batch_size,omitempty"` // Concurrent fetches per resource batch
	MaxPageSizeBytes   int64                     `yaml:"max_page_size_bytes,omitempty"` // Cap on a single fetched body
	PerPageTimeout     time.Duration             `yaml:"per_page_timeout,omitempty"`    // Timeout for processing a single URL (0 = none)
	LogLevel           string                    `yaml:"log_level,omitempty"`
	DefaultOptions     models.ReplicationOptions `yaml:"default_options,omitempty"` // Used when the caller supplies none
	HTTPClientSettings HTTPClientConfig          `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Parse decodes raw YAML into an AppConfig without applying defaults or
// validation, so callers can surface warnings separately.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Load reads and parses a YAML config file, applying defaults and validation.
// An empty path yields a validated default configuration.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}
	if _, err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
