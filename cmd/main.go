package main

import (
	"fmt"
	"os"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/hostwatch/internal/config"
	"github.com/kumarabd/hostwatch/internal/metrics"
	"github.com/kumarabd/hostwatch/pkg/service"
)

// main is the entry point of the application
func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the handlers shared by every command
type app struct {
	log     *logger.Handler
	config  *config.Config
	metric  *metrics.Handler
	service *service.Handler
}

// bootstrap wires logging, configuration, metrics and the service
func bootstrap(dropInDir string) (*app, error) {
	// Initialize a new logger with the application name and syslog format
	log, err := logger.New(config.ApplicationName, logger.Options{
		Format: logger.SyslogLogFormat,
	})
	if err != nil {
		fmt.Println(err)
		return nil, err
	}

	configHandler, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("")
		return nil, err
	}
	if dropInDir != "" {
		applied, err := configHandler.ApplyDropIns(dropInDir)
		if err != nil {
			log.Error().Err(err).Str("dir", dropInDir).Msg("drop-in configuration failed")
			return nil, err
		}
		for _, path := range applied {
			log.Debug().Str("path", path).Msg("applied drop-in configuration")
		}
	}

	metricsHandler, err := metrics.New(config.ApplicationName)
	if err != nil {
		log.Error().Err(err).Msg("metrics initialization failed")
		return nil, err
	}

	svc, err := service.New(log, metricsHandler, configHandler.Service)
	if err != nil {
		log.Error().Err(err).Msg("service initialization failed")
		return nil, err
	}
	log.Info().Int("collectors", len(configHandler.Service.Collectors)).Msg("service initialized")

	return &app{
		log:     log,
		config:  configHandler,
		metric:  metricsHandler,
		service: svc,
	}, nil
}
