// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the client configuration for Nasdaq Data Link.
//
// A process-wide default configuration is available via Default(). It is
// expected to be set up once, before concurrent use, e.g. by assigning the API
// key. Clients never use the default directly: they take a deep copy at
// construction, so later changes to the default do not affect existing
// clients, and a client never writes to its own copy.
package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/stockparfait/errors"
	"golang.org/x/exp/slices"

	toml "github.com/pelletier/go-toml/v2"
)

// Default values of the configuration.
const (
	DefaultProtocol              = "https://"
	DefaultBaseURL               = "data.nasdaq.com/api/v3"
	DefaultPageLimit             = 100
	DefaultNumberOfRetries       = 5
	DefaultRetryBackoffFactor    = 0.5 // seconds
	DefaultMaxWaitBetweenRetries = 8.0 // seconds
)

// DefaultRetryStatusCodes returns a new slice of the status codes retried by
// default: 429 and 500 through 511.
func DefaultRetryStatusCodes() []int {
	codes := []int{429}
	for c := 500; c <= 511; c++ {
		codes = append(codes, c)
	}
	return codes
}

// Config of the API client. Durations are in seconds, as floats, to keep the
// TOML representation readable.
type Config struct {
	APIKey     string `toml:"api_key"`
	Protocol   string `toml:"protocol"`    // "https://" or "http://"
	BaseURL    string `toml:"base_url"`    // host and path, without protocol
	APIVersion string `toml:"api_version"` // empty means unset

	// PageLimit is the number of continuation pages a paginated query may
	// request before failing with a limit error.
	PageLimit int `toml:"page_limit"`

	UseRetries            bool    `toml:"use_retries"`
	NumberOfRetries       int     `toml:"number_of_retries"`
	RetryBackoffFactor    float64 `toml:"retry_backoff_factor"`
	MaxWaitBetweenRetries float64 `toml:"max_wait_between_retries"`
	RetryStatusCodes      []int   `toml:"retry_status_codes"`
	VerifyTLS             bool    `toml:"verify_tls"`

	RequestsPerSecond float64 `toml:"requests_per_second"` // 0 = unlimited
	Timeout           float64 `toml:"timeout"`             // per attempt; 0 = none
}

// New creates a configuration with the default values.
func New() *Config {
	return &Config{
		Protocol:              DefaultProtocol,
		BaseURL:               DefaultBaseURL,
		PageLimit:             DefaultPageLimit,
		UseRetries:            true,
		NumberOfRetries:       DefaultNumberOfRetries,
		RetryBackoffFactor:    DefaultRetryBackoffFactor,
		MaxWaitBetweenRetries: DefaultMaxWaitBetweenRetries,
		RetryStatusCodes:      DefaultRetryStatusCodes(),
		VerifyTLS:             true,
	}
}

var defaultConfig = New()

// Default returns the process-wide default configuration. The returned value
// may be modified in place; this is not synchronized.
func Default() *Config {
	return defaultConfig
}

// SetDefault replaces the process-wide default configuration with a copy of c.
// A nil c restores the built-in defaults.
func SetDefault(c *Config) {
	if c == nil {
		defaultConfig = New()
		return
	}
	defaultConfig = c.Copy()
}

// Copy creates a deep copy of the configuration.
func (c *Config) Copy() *Config {
	c2 := *c
	c2.RetryStatusCodes = slices.Clone(c.RetryStatusCodes)
	return &c2
}

// URL is the base URL of the API, without a trailing slash.
func (c *Config) URL() string {
	return c.Protocol + strings.TrimRight(c.BaseURL, "/")
}

// MaxWait is MaxWaitBetweenRetries as a time.Duration.
func (c *Config) MaxWait() time.Duration {
	return seconds(c.MaxWaitBetweenRetries)
}

// BackoffFactor is RetryBackoffFactor as a time.Duration.
func (c *Config) BackoffFactor() time.Duration {
	return seconds(c.RetryBackoffFactor)
}

// TimeoutDuration is Timeout as a time.Duration.
func (c *Config) TimeoutDuration() time.Duration {
	return seconds(c.Timeout)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Normalize sorts the retryable status codes and removes duplicates.
func (c *Config) Normalize() {
	slices.Sort(c.RetryStatusCodes)
	c.RetryStatusCodes = slices.Compact(c.RetryStatusCodes)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Protocol != "https://" && c.Protocol != "http://" {
		return errors.Reason("protocol must be https:// or http://, got '%s'", c.Protocol)
	}
	if c.BaseURL == "" {
		return errors.Reason("base URL must not be empty")
	}
	if c.PageLimit < 0 {
		return errors.Reason("page_limit = %d must be >= 0", c.PageLimit)
	}
	if c.NumberOfRetries < 0 {
		return errors.Reason("number_of_retries = %d must be >= 0", c.NumberOfRetries)
	}
	if c.RetryBackoffFactor < 0 {
		return errors.Reason("retry_backoff_factor = %g must be >= 0", c.RetryBackoffFactor)
	}
	if c.MaxWaitBetweenRetries < 0 {
		return errors.Reason("max_wait_between_retries = %g must be >= 0",
			c.MaxWaitBetweenRetries)
	}
	if c.RequestsPerSecond < 0 {
		return errors.Reason("requests_per_second = %g must be >= 0", c.RequestsPerSecond)
	}
	if c.Timeout < 0 {
		return errors.Reason("timeout = %g must be >= 0", c.Timeout)
	}
	for _, code := range c.RetryStatusCodes {
		if code < 100 || code > 599 {
			return errors.Reason("invalid retry status code: %d", code)
		}
	}
	return nil
}

// Parse reads a TOML configuration from r. Fields missing in the input keep
// their default values; unknown fields are an error.
func Parse(r io.Reader) (*Config, error) {
	c := New()
	c.RetryStatusCodes = nil
	d := toml.NewDecoder(r)
	d.DisallowUnknownFields()
	if err := d.Decode(c); err != nil {
		return nil, errors.Annotate(err, "failed to decode TOML config")
	}
	if c.RetryStatusCodes == nil {
		c.RetryStatusCodes = DefaultRetryStatusCodes()
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, errors.Annotate(err, "invalid config")
	}
	return c, nil
}

// Load reads a TOML configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", path)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read config file %s", path)
	}
	return c, nil
}
