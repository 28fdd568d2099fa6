// internal/confirm/service.go
package confirm

import (
	"context"
	"fmt"

	"github.com/dmorse17/txflow/pkg/service"
)

// WatcherService wraps the Watcher as a Service
type WatcherService struct {
	watcher *Watcher
	status  service.Status
	cancel  context.CancelFunc
}

// NewWatcherService creates a new confirmation watcher service
func NewWatcherService(watcher *Watcher) *WatcherService {
	return &WatcherService{
		watcher: watcher,
		status:  service.StatusStopped,
	}
}

// Name returns the service name
func (s *WatcherService) Name() string {
	return "confirmation-watcher"
}

// Start begins consuming the confirmation topics
func (s *WatcherService) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.watcher.Run(runCtx)

	s.status = service.StatusRunning
	return nil
}

// Stop shuts down the consumer via context cancellation
func (s *WatcherService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	if s.cancel != nil {
		s.cancel()
	}

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status
func (s *WatcherService) Status() service.Status {
	return s.status
}

// Health performs a health check
func (s *WatcherService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *WatcherService) Dependencies() []string {
	return []string{}
}
