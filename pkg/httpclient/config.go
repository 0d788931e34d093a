package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var configValidator = validator.New()

// Config represents HTTP client configuration options
type Config struct {
	Timeout   time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	UserAgent string        `json:"user_agent" yaml:"user_agent"`

	// TLS configuration
	TLSConfig *TLSConfig `json:"tls" yaml:"tls"`

	// Rate limiting configuration
	RateLimitConfig *RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Connection pool configuration
	PoolConfig *PoolConfig `json:"pool" yaml:"pool"`

	// Observability configuration
	LogConfig *LogConfig `json:"log" yaml:"log"`
}

// TLSConfig defines TLS security settings
type TLSConfig struct {
	InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	MinVersion         uint16 `json:"min_version" yaml:"min_version"`
	// RootCAFile replaces the system roots with the PEM bundle at this path.
	RootCAFile string `json:"root_ca_file" yaml:"root_ca_file"`
	// RootCAs, when set, wins over RootCAFile.
	RootCAs *x509.CertPool `json:"-" yaml:"-"`
}

// RateLimitConfig defines rate limiting behavior
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size" validate:"gt=0"`
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MaxIdleConns        int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	DialTimeout         time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	KeepAlive           time.Duration `json:"keep_alive" yaml:"keep_alive"`
}

// LogConfig defines logging behavior
type LogConfig struct {
	LogRequests  bool `json:"log_requests" yaml:"log_requests"`
	LogResponses bool `json:"log_responses" yaml:"log_responses"`
}

// DefaultConfig returns a secure default configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:   30 * time.Second,
		UserAgent: "jenkins-node-ssh/1.0",

		TLSConfig: &TLSConfig{
			InsecureSkipVerify: false,
			MinVersion:         tls.VersionTLS12,
		},

		// The run is a short sequential conversation with one coordinator; the limit
		// only guards against a runaway poll loop.
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 10.0,
			BurstSize:         20,
		},

		PoolConfig: &PoolConfig{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			DialTimeout:         5 * time.Second,
			KeepAlive:           30 * time.Second,
		},

		LogConfig: &LogConfig{
			LogRequests:  true,
			LogResponses: true,
		},
	}
}

// Clone returns a deep copy so callers can derive a config without touching the original.
func (c *Config) Clone() *Config {
	out := *c
	if c.TLSConfig != nil {
		tlsCopy := *c.TLSConfig
		out.TLSConfig = &tlsCopy
	}
	if c.RateLimitConfig != nil {
		rl := *c.RateLimitConfig
		out.RateLimitConfig = &rl
	}
	if c.PoolConfig != nil {
		pool := *c.PoolConfig
		out.PoolConfig = &pool
	}
	if c.LogConfig != nil {
		lc := *c.LogConfig
		out.LogConfig = &lc
	}
	return &out
}

// Validate checks if the configuration is valid. Nil sub-configs are skipped.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !cerr.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return cerr.Wrap(err, "validate http client config")
	}
	fe := fieldErrs[0]
	return &ConfigError{
		Field:   strings.TrimPrefix(fe.StructNamespace(), "Config."),
		Message: "must be positive",
	}
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config field %s: %s", e.Field, e.Message)
}
