package service

import (
	"context"
	"time"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/hostwatch/internal/metrics"
	"github.com/kumarabd/hostwatch/pkg/cache"
	"github.com/kumarabd/hostwatch/pkg/delivery"
	"github.com/kumarabd/hostwatch/pkg/mask"
	"github.com/kumarabd/hostwatch/pkg/normalizer"
	"github.com/kumarabd/hostwatch/pkg/pipeline"
	"github.com/kumarabd/hostwatch/pkg/query"
	"github.com/kumarabd/hostwatch/pkg/value"
)

// Config is the agent's delivery configuration
type Config struct {
	Identity   normalizer.Identity    `json:"identity" yaml:"identity"`
	Grains     map[string]interface{} `json:"grains" yaml:"grains"`
	Collectors []delivery.Config      `json:"collectors" yaml:"collectors"`
	Retry      delivery.RetryPolicy   `json:"retry" yaml:"retry"`
	Mask       *MaskConfig            `json:"mask" yaml:"mask"`
	Query      *QueryConfig           `json:"query" yaml:"query"`
	Publish    *PublishConfig         `json:"publish" yaml:"publish"`
}

// MaskConfig locates the mask top file applied to query results
type MaskConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled" default:"true"`
	TopFile  string        `json:"top_file" yaml:"top_file" default:"/etc/hostwatch/top.mask"`
	Base     string        `json:"base" yaml:"base"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" default:"5m"`
}

// QueryConfig locates the engine and the query definitions
type QueryConfig struct {
	Binary  string        `json:"binary" yaml:"binary" default:"osqueryi"`
	ReadMax int64         `json:"read_max" yaml:"read_max" default:"10485760"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" default:"60s"`
	TopFile string        `json:"top_file" yaml:"top_file" default:"/etc/hostwatch/top.queries"`
	Base    string        `json:"base" yaml:"base"`
}

// PublishConfig controls how the agent publishes its own configuration
type PublishConfig struct {
	LoggerName        string   `json:"logger_name" yaml:"logger_name" default:"hostwatch.config"`
	SensitivePatterns []string `json:"sensitive_patterns" yaml:"sensitive_patterns"`
}

// Handler runs query groups and delivers records through the pipeline
type Handler struct {
	log    *logger.Handler
	metric *metrics.Handler
	config *Config

	pipeline *pipeline.Pipeline
	executor *query.Executor
	cache    *cache.Handler
	now      func() time.Time
}

// Option customizes a Handler
type Option func(*options)

type options struct {
	runner   query.Runner
	hostname normalizer.HostnameFunc
}

// WithRunner replaces the engine runner
func WithRunner(r query.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithHostname replaces the OS hostname lookup
func WithHostname(fn normalizer.HostnameFunc) Option {
	return func(o *options) { o.hostname = fn }
}

// New creates a service handler
func New(l *logger.Handler, m *metrics.Handler, sConfig *Config, opts ...Option) (*Handler, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if sConfig.Mask == nil {
		sConfig.Mask = &MaskConfig{}
	}
	if sConfig.Query == nil {
		sConfig.Query = &QueryConfig{}
	}
	if sConfig.Publish == nil {
		sConfig.Publish = &PublishConfig{}
	}
	if o.runner == nil {
		o.runner = &query.ExecRunner{
			Binary:  sConfig.Query.Binary,
			ReadMax: sConfig.Query.ReadMax,
			Timeout: sConfig.Query.Timeout,
		}
	}

	ttl := sConfig.Mask.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	c, err := cache.NewWithExpiration(ttl)
	if err != nil {
		return nil, err
	}

	grains, err := value.FromAny(sConfig.Grains)
	if err != nil {
		return nil, err
	}
	lookup := normalizer.StaticLookup{}
	for _, k := range grains.Keys() {
		lookup[k], _ = grains.Get(k)
	}

	masker := mask.NewMasker(l, m)
	p := pipeline.New(pipeline.Options{
		Collectors: sConfig.Collectors,
		Identity:   DetectIdentity(sConfig.Identity, o.hostname),
		Lookup:     lookup,
		Hostname:   o.hostname,
		Retry:      sConfig.Retry,
		Masker:     masker,
		MaskLoader: mask.NewLoader(sConfig.Mask.Base, nil, c, l),
	}, m, l)

	return &Handler{
		log:      l,
		metric:   m,
		config:   sConfig,
		pipeline: p,
		executor: query.NewExecutor(o.runner, m, l),
		cache:    c,
		now:      time.Now,
	}, nil
}

// Deliver sends req through the pipeline. Query requests without an
// explicit mask use the configured top file.
func (h *Handler) Deliver(ctx context.Context, req pipeline.Request) pipeline.Summary {
	if req.Kind == pipeline.KindQuery && req.Mask == "" && h.config.Mask.Enabled {
		req.Mask = h.config.Mask.TopFile
	}
	sum := h.pipeline.Deliver(ctx, req)
	h.log.Info().
		Str("kind", string(sum.Kind)).
		Int("events", sum.Events).
		Int("batches", sum.Batches).
		Int("failed", sum.Failed).
		Msg("Delivery finished")
	return sum
}

// Ping reports whether the service is ready to take requests
func (h *Handler) Ping() (bool, error) {
	return h.cache.Ping()
}
