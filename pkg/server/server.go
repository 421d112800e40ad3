package server

import (
	"context"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/hostwatch/internal/metrics"
	"github.com/kumarabd/hostwatch/pkg/pipeline"
)

// Config contains configuration for the local API
type Config struct {
	HTTP *HTTPConfig `json:"http" yaml:"http"`
}

// Service is the work the local API exposes
type Service interface {
	Deliver(ctx context.Context, req pipeline.Request) pipeline.Summary
	RunGroup(ctx context.Context, group string) (pipeline.Summary, error)
	PublishConfig(ctx context.Context) (pipeline.Summary, error)
	Ping() (bool, error)
}

// Handler owns the configured servers
type Handler struct {
	HTTP   *HTTP
	config *Config
	log    *logger.Handler
}

// New creates a new server handler
func New(l *logger.Handler, m *metrics.Handler, serverConfig *Config, svc Service) (*Handler, error) {
	var httpServer *HTTP
	if serverConfig.HTTP != nil {
		httpServer = NewHTTP(serverConfig.HTTP, svc, l, m)
	}

	return &Handler{
		HTTP:   httpServer,
		config: serverConfig,
		log:    l,
	}, nil
}

// Start starts the servers. ch receives once per server that exits.
func (h *Handler) Start(ch chan struct{}) {
	if h.HTTP != nil {
		go func() {
			if err := h.HTTP.Start(); err != nil {
				h.log.Error().Err(err).Msg("HTTP server failed")
			}
			ch <- struct{}{}
		}()
	}
}

// Stop shuts the servers down
func (h *Handler) Stop(ctx context.Context) error {
	if h.HTTP != nil {
		return h.HTTP.Stop(ctx)
	}
	return nil
}
