package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	config_pkg "github.com/kumarabd/gokit/config"
	"gopkg.in/yaml.v3"

	"github.com/kumarabd/hostwatch/pkg/delivery"
	"github.com/kumarabd/hostwatch/pkg/server"
	"github.com/kumarabd/hostwatch/pkg/service"
)

var (
	ApplicationName    = "hostwatch"
	ApplicationVersion = "dev"
)

// DefaultDropInDir holds *.conf overlays applied after the main config
const DefaultDropInDir = "/etc/hostwatch/hostwatch.d"

type Config struct {
	Server  *server.Config  `json:"server,omitempty" yaml:"server,omitempty"`
	Service *service.Config `json:"service" yaml:"service"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() *Config {
	return &Config{
		Server: &server.Config{
			HTTP: &server.HTTPConfig{
				Host:         "127.0.0.1",
				Port:         "8089",
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 5 * time.Minute,
				IdleTimeout:  60 * time.Second,
				Bounds: &server.BoundsConfig{
					MaxBodyBytes: 10 << 20,
				},
				Pipeline: &server.PipelineConfig{
					EnqueueTimeout: 5 * time.Second,
					QueueSize:      16,
					Workers:        1,
				},
			},
		},
		Service: &service.Config{
			Retry: delivery.RetryPolicy{
				Enabled: false,
				Max:     delivery.DefaultRetryMax,
				Sleep:   delivery.DefaultRetrySleep,
			},
			Mask: &service.MaskConfig{
				Enabled:  true,
				TopFile:  "/etc/hostwatch/top.mask",
				CacheTTL: 5 * time.Minute,
			},
			Query: &service.QueryConfig{
				Binary:  "osqueryi",
				ReadMax: 10 << 20,
				Timeout: 60 * time.Second,
				TopFile: "/etc/hostwatch/top.queries",
			},
			Publish: &service.PublishConfig{
				LoggerName: "hostwatch.config",
			},
		},
	}
}

// New creates a new config instance
func New() (*Config, error) {
	configObject := Defaults()

	finalConfig, err := config_pkg.New(configObject)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if finalConfig == nil {
		return nil, fmt.Errorf("config is nil")
	}

	cfg, ok := finalConfig.(*Config)
	if !ok {
		return nil, fmt.Errorf("config type assertion failed: expected *Config, got %T", finalConfig)
	}

	return cfg, nil
}

// ApplyDropIns overlays every *.conf YAML file in dir, in lexical order.
// A missing directory is not an error.
func (c *Config) ApplyDropIns(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.conf"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return paths, nil
}
