package delivery

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrConfigurationMissing is returned when a required collector setting is absent
var ErrConfigurationMissing = errors.New("configuration missing")

const (
	DefaultPort          = "8088"
	DefaultTimeout       = 9050 * time.Millisecond
	DefaultRetryMax      = 3
	DefaultRetrySleep    = 15 * time.Second
	DefaultMaxBatchBytes = 100000
	collectorPath        = "/services/collector/event"
)

// Sourcetypes names the sourcetype stamped on each record kind
type Sourcetypes struct {
	Query      string `json:"query" yaml:"query" default:"hostwatch_osquery"`
	FileChange string `json:"file_change" yaml:"file_change" default:"hostwatch_fim"`
	Audit      string `json:"audit" yaml:"audit" default:"hostwatch_audit"`
	Log        string `json:"log" yaml:"log" default:"hostwatch_log"`
}

// Config describes one collector target
type Config struct {
	Token                string        `json:"token" yaml:"token" validate:"required"`
	Indexers             []string      `json:"indexers" yaml:"indexers" validate:"required,min=1,dive,required"`
	FallbackIndexer      string        `json:"fallback_indexer" yaml:"fallback_indexer"`
	Port                 string        `json:"port" yaml:"port" default:"8088"`
	Index                string        `json:"index" yaml:"index" validate:"required"`
	Sourcetypes          Sourcetypes   `json:"sourcetypes" yaml:"sourcetypes"`
	TLS                  *bool         `json:"hec_ssl,omitempty" yaml:"hec_ssl,omitempty"`
	TLSVerify            *bool         `json:"http_event_collector_ssl_verify,omitempty" yaml:"http_event_collector_ssl_verify,omitempty"`
	Proxy                string        `json:"proxy" yaml:"proxy"`
	Timeout              time.Duration `json:"timeout" yaml:"timeout" default:"9.05s"`
	CustomFields         []string      `json:"custom_fields" yaml:"custom_fields"`
	IndexExtractedFields []string      `json:"index_extracted_fields" yaml:"index_extracted_fields"`
	MaxBatchBytes        int           `json:"max_batch_bytes" yaml:"max_batch_bytes" default:"100000"`
	Compress             bool          `json:"compress" yaml:"compress" default:"false"`
	MockMode             bool          `json:"mock_mode" yaml:"mock_mode" default:"false"`
}

// RetryPolicy bounds the attempts made against each endpoint. A disabled
// policy makes exactly one attempt.
type RetryPolicy struct {
	Enabled bool          `json:"enabled" yaml:"enabled" default:"false"`
	Max     int           `json:"max" yaml:"max" default:"3"`
	Sleep   time.Duration `json:"sleep" yaml:"sleep" default:"15s"`
}

// DefaultRetryPolicy returns the enabled policy with default bounds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Enabled: true, Max: DefaultRetryMax, Sleep: DefaultRetrySleep}
}

// limits returns the retry budget and sleep in effect
func (p RetryPolicy) limits() (int, time.Duration) {
	if !p.Enabled {
		return 0, DefaultRetrySleep
	}
	return p.Max, p.Sleep
}

var validate = validator.New()

// Validate checks that every required setting is present
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationMissing, err)
	}
	return nil
}

// ApplyDefaults fills unset optional settings
func (c *Config) ApplyDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if c.Sourcetypes.Query == "" {
		c.Sourcetypes.Query = "hostwatch_osquery"
	}
	if c.Sourcetypes.FileChange == "" {
		c.Sourcetypes.FileChange = "hostwatch_fim"
	}
	if c.Sourcetypes.Audit == "" {
		c.Sourcetypes.Audit = "hostwatch_audit"
	}
	if c.Sourcetypes.Log == "" {
		c.Sourcetypes.Log = "hostwatch_log"
	}
}

// TLSEnabled reports whether endpoints use https. Defaults to true.
func (c *Config) TLSEnabled() bool { return c.TLS == nil || *c.TLS }

// VerifyTLS reports whether server certificates are verified. Defaults to true.
func (c *Config) VerifyTLS() bool { return c.TLSVerify == nil || *c.TLSVerify }

// Hosts returns the indexers to deliver to. The fallback indexer replaces
// them when the host has no default gateway.
func (c *Config) Hosts(noGateway bool) []string {
	if noGateway && c.FallbackIndexer != "" {
		return []string{c.FallbackIndexer}
	}
	return c.Indexers
}

// EndpointURL builds the collector URL for host. A host that already
// carries a port keeps it.
func (c *Config) EndpointURL(host string) string {
	scheme := "http"
	if c.TLSEnabled() {
		scheme = "https"
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return scheme + "://" + host + collectorPath
	}
	port := c.Port
	if port == "" {
		port = DefaultPort
	}
	return scheme + "://" + net.JoinHostPort(host, port) + collectorPath
}

// ProxyURL returns the proxy address with the scheme matching the TLS flag
func (c *Config) ProxyURL() string {
	if c.Proxy == "" {
		return ""
	}
	if c.TLSEnabled() {
		return "https://" + c.Proxy
	}
	return "http://" + c.Proxy
}
