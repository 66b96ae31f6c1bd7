package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"site-replica/pkg/models"
	"site-replica/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		c.UserAgent = "site-replica/1.0"
	}

	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './replica_state'")
		c.StateDir = "./replica_state"
	}

	// ResourceBatchSize bounds simultaneous outbound connections during
	// resource downloads. Five matches one batch of concurrent fetches.
	if c.ResourceBatchSize < 0 {
		return warnings, fmt.Errorf("%w: resource_batch_size cannot be negative (%d)", utils.ErrConfigValidation, c.ResourceBatchSize)
	}
	if c.ResourceBatchSize == 0 {
		c.ResourceBatchSize = 5
	}

	if c.MaxPageSizeBytes < 0 {
		return warnings, fmt.Errorf("%w: max_page_size_bytes cannot be negative (%d)", utils.ErrConfigValidation, c.MaxPageSizeBytes)
	}
	if c.MaxPageSizeBytes == 0 {
		c.MaxPageSizeBytes = 10 << 20 // 10 MiB
	}

	if c.PerPageTimeout < 0 {
		return warnings, fmt.Errorf("%w: per_page_timeout cannot be negative (%v)", utils.ErrConfigValidation, c.PerPageTimeout)
	}

	// An options block with every flag false is indistinguishable from an
	// absent one; treat it as unset and replicate fully.
	if c.DefaultOptions == (models.ReplicationOptions{}) {
		c.DefaultOptions = models.AllOptions()
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, parseErr := logrus.ParseLevel(c.LogLevel); parseErr != nil {
		return warnings, fmt.Errorf("%w: invalid log_level %q: %v", utils.ErrConfigValidation, c.LogLevel, parseErr)
	}

	// HTTP client settings
	if c.HTTPClientSettings.Timeout <= 0 {
		c.HTTPClientSettings.Timeout = 30 * time.Second
	}
	if c.HTTPClientSettings.MaxIdleConns <= 0 {
		c.HTTPClientSettings.MaxIdleConns = 100
	}
	if c.HTTPClientSettings.MaxIdleConnsPerHost <= 0 {
		c.HTTPClientSettings.MaxIdleConnsPerHost = 10
	}
	if c.HTTPClientSettings.IdleConnTimeout <= 0 {
		c.HTTPClientSettings.IdleConnTimeout = 90 * time.Second
	}
	if c.HTTPClientSettings.TLSHandshakeTimeout <= 0 {
		c.HTTPClientSettings.TLSHandshakeTimeout = 10 * time.Second
	}
	if c.HTTPClientSettings.ExpectContinueTimeout <= 0 {
		c.HTTPClientSettings.ExpectContinueTimeout = 1 * time.Second
	}
	if c.HTTPClientSettings.DialerTimeout <= 0 {
		c.HTTPClientSettings.DialerTimeout = 15 * time.Second
	}
	if c.HTTPClientSettings.DialerKeepAlive <= 0 {
		c.HTTPClientSettings.DialerKeepAlive = 30 * time.Second
	}

	return warnings, nil
}
