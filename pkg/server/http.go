package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/kumarabd/gokit/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kumarabd/hostwatch/internal/metrics"
	"github.com/kumarabd/hostwatch/pkg/pipeline"
)

// HTTPConfig contains configuration for the HTTP server
type HTTPConfig struct {
	Host         string          `json:"host" yaml:"host" default:"127.0.0.1"`
	Port         string          `json:"port" yaml:"port" default:"8089"`
	ReadTimeout  time.Duration   `json:"read_timeout" yaml:"read_timeout" default:"30s"`
	WriteTimeout time.Duration   `json:"write_timeout" yaml:"write_timeout" default:"5m"`
	IdleTimeout  time.Duration   `json:"idle_timeout" yaml:"idle_timeout" default:"60s"`
	Bounds       *BoundsConfig   `json:"bounds" yaml:"bounds"`
	Pipeline     *PipelineConfig `json:"pipeline" yaml:"pipeline"`
}

// BoundsConfig limits request bodies
type BoundsConfig struct {
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" default:"10485760"`
}

// PipelineConfig sizes the delivery work queue
type PipelineConfig struct {
	EnqueueTimeout time.Duration `json:"enqueue_timeout" yaml:"enqueue_timeout" default:"5s"`
	QueueSize      int           `json:"queue_size" yaml:"queue_size" default:"16"`
	Workers        int           `json:"workers" yaml:"workers" default:"1"`
}

// errQueueFull is returned when a job cannot be enqueued in time
var errQueueFull = errors.New("delivery queue full")

// jobResult is what a worker hands back to the waiting request
type jobResult struct {
	Summary pipeline.Summary
	Err     error
}

// queuedJob is a unit of delivery work run by a worker
type queuedJob struct {
	Ctx  context.Context
	Run  func(ctx context.Context) (pipeline.Summary, error)
	Done chan jobResult
}

// HTTP serves the local API
type HTTP struct {
	handler   *gin.Engine
	service   Service
	log       *logger.Handler
	metric    *metrics.Handler
	config    *HTTPConfig
	server    *http.Server
	isRunning bool
	mu        sync.RWMutex

	queue        chan queuedJob
	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerWg     sync.WaitGroup
	stopOnce     sync.Once
}

// NewHTTP creates a new HTTP server instance and starts its workers
func NewHTTP(config *HTTPConfig, svc Service, l *logger.Handler, m *metrics.Handler) *HTTP {
	gin.SetMode(gin.ReleaseMode)

	if config.Bounds == nil {
		config.Bounds = &BoundsConfig{MaxBodyBytes: 10 << 20}
	}
	if config.Pipeline == nil {
		config.Pipeline = &PipelineConfig{EnqueueTimeout: 5 * time.Second, QueueSize: 16, Workers: 1}
	}
	if config.Pipeline.Workers <= 0 {
		config.Pipeline.Workers = 1
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())

	server := &HTTP{
		handler:      gin.New(),
		service:      svc,
		log:          l,
		metric:       m,
		config:       config,
		queue:        make(chan queuedJob, config.Pipeline.QueueSize),
		workerCtx:    workerCtx,
		workerCancel: workerCancel,
	}

	server.handler.Use(gin.Recovery())
	server.handler.Use(server.loggingMiddleware())
	server.setupRoutes()
	server.startWorkers()

	return server
}

// Start listens and serves until Stop is called
func (s *HTTP) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("HTTP server is already running")
	}

	addr := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.isRunning = true
	srv := s.server
	s.mu.Unlock()

	s.log.Info().Msgf("Starting HTTP server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server and its workers
func (s *HTTP) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning && s.server != nil {
		s.log.Info().Msg("Shutting down HTTP server...")
		if err := s.server.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("Error during HTTP server shutdown")
			return err
		}
		s.isRunning = false
	}
	s.stopWorkers()
	s.log.Info().Msg("HTTP server stopped")
	return nil
}

// IsRunning returns true if the HTTP server is currently running
func (s *HTTP) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *HTTP) setupRoutes() {
	s.handler.POST("/v1/deliver/:kind", s.deliverHandler)
	s.handler.POST("/v1/run/:group", s.runHandler)
	s.handler.POST("/v1/publish-config", s.publishHandler)

	s.handler.GET("/healthz", s.healthHandler)
	s.handler.GET("/metrics", s.metricsHandler)
}

// getBodyReader returns a reader for the request body, handling gzip decompression if needed
func getBodyReader(r *http.Request) (io.ReadCloser, error) {
	if r.Body == nil {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Content-Encoding")), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		return gz, nil
	}
	return r.Body, nil
}

func (s *HTTP) healthHandler(c *gin.Context) {
	if ok, err := s.service.Ping(); !ok || err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"time":   time.Now().UTC(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *HTTP) metricsHandler(c *gin.Context) {
	if reg := s.metric.Registry(); reg != nil {
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
		return
	}
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}

// loggingMiddleware logs and counts every request
func (s *HTTP) loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		s.metric.IncRequestsReceived(param.StatusCode)
		s.log.Info().
			Str("method", param.Method).
			Str("path", param.Path).
			Int("status", param.StatusCode).
			Dur("latency", param.Latency).
			Str("client_ip", param.ClientIP).
			Msg("HTTP Request")
		return ""
	})
}

func (s *HTTP) startWorkers() {
	for i := 0; i < s.config.Pipeline.Workers; i++ {
		s.workerWg.Add(1)
		go s.runWorker()
	}
	s.log.Info().Int("workers", s.config.Pipeline.Workers).Msg("Delivery workers started")
}

func (s *HTTP) stopWorkers() {
	s.stopOnce.Do(func() {
		s.workerCancel()
		s.workerWg.Wait()
		s.log.Info().Msg("Delivery workers stopped")
	})
}

// runWorker executes queued jobs until the server stops
func (s *HTTP) runWorker() {
	defer s.workerWg.Done()
	for {
		select {
		case job := <-s.queue:
			sum, err := job.Run(job.Ctx)
			job.Done <- jobResult{Summary: sum, Err: err}
		case <-s.workerCtx.Done():
			return
		}
	}
}

// submit enqueues run and waits for its result
func (s *HTTP) submit(ctx context.Context, run func(ctx context.Context) (pipeline.Summary, error)) (pipeline.Summary, error) {
	job := queuedJob{Ctx: ctx, Run: run, Done: make(chan jobResult, 1)}

	select {
	case s.queue <- job:
	case <-time.After(s.config.Pipeline.EnqueueTimeout):
		return pipeline.Summary{}, fmt.Errorf("%w: enqueue timeout after %v", errQueueFull, s.config.Pipeline.EnqueueTimeout)
	case <-ctx.Done():
		return pipeline.Summary{}, ctx.Err()
	}

	select {
	case res := <-job.Done:
		return res.Summary, res.Err
	case <-ctx.Done():
		return pipeline.Summary{}, ctx.Err()
	}
}
