// internal/api/service.go
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/dmorse17/txflow/internal/form"
	"github.com/dmorse17/txflow/pkg/config"
	"github.com/dmorse17/txflow/pkg/logging"
	"github.com/dmorse17/txflow/pkg/metrics"
	"github.com/dmorse17/txflow/pkg/service"
)

// APIService wraps the API server as a Service
type APIService struct {
	server           *Server
	config           *config.Config
	sessions         *form.Manager
	history          HistoryStore
	status           service.Status
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	uptimeDone       chan struct{}
}

// NewAPIService creates a new API service
func NewAPIService(cfg *config.Config, sessions *form.Manager, history HistoryStore) *APIService {
	logCfg := logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      logging.DefaultConfig().Output,
		ServiceName: "api-service",
		Environment: cfg.Log.Environment,
	}
	logger := logging.New(logCfg)

	metricsCfg := metrics.Config{
		Namespace:   cfg.Metrics.Namespace,
		ServiceName: "api-service",
	}
	metricsCollector := metrics.New(metricsCfg)

	return &APIService{
		config:           cfg,
		sessions:         sessions,
		history:          history,
		status:           service.StatusStopped,
		logger:           logger,
		metricsCollector: metricsCollector,
	}
}

// Name returns the service name
func (s *APIService) Name() string {
	return "api"
}

// Start initializes and starts the service
func (s *APIService) Start(ctx context.Context) error {
	s.status = service.StatusStarting
	s.logger.Info("Starting API service")

	s.server = NewServer(s.config, s.sessions, s.history, s.logger, s.metricsCollector)
	go s.server.Start()

	s.metricsCollector.ServiceLastStarted.Set(float64(time.Now().Unix()))
	s.uptimeDone = make(chan struct{})
	s.metricsCollector.RecordUptime(s.uptimeDone)

	s.status = service.StatusRunning
	s.logger.Info("API service started successfully")
	return nil
}

// Stop gracefully shuts down the service
func (s *APIService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping
	s.logger.Info("Stopping API service")

	if s.uptimeDone != nil {
		close(s.uptimeDone)
	}
	if s.server != nil {
		s.server.Shutdown(ctx)
	}

	s.status = service.StatusStopped
	s.logger.Info("API service stopped successfully")
	return nil
}

// Status returns the current service status
func (s *APIService) Status() service.Status {
	return s.status
}

// Health performs a health check
func (s *APIService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	if s.server == nil {
		return fmt.Errorf("server not initialized")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *APIService) Dependencies() []string {
	return []string{"form-manager"}
}

// GetMetrics returns the metrics collector for this service
func (s *APIService) GetMetrics() *metrics.Metrics {
	return s.metricsCollector
}
