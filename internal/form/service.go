// internal/form/service.go
package form

import (
	"context"
	"fmt"

	"github.com/dmorse17/txflow/pkg/service"
)

// ManagerService wraps the session Manager as a Service
type ManagerService struct {
	manager *Manager
	status  service.Status
	cancel  context.CancelFunc
}

// NewManagerService creates a new form manager service
func NewManagerService(manager *Manager) *ManagerService {
	return &ManagerService{
		manager: manager,
		status:  service.StatusStopped,
	}
}

// Name returns the service name
func (s *ManagerService) Name() string {
	return "form-manager"
}

// Start launches the session janitor
func (s *ManagerService) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.manager.Run(runCtx)

	s.status = service.StatusRunning
	return nil
}

// Stop shuts down the janitor; open sessions are closed
func (s *ManagerService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	if s.cancel != nil {
		s.cancel()
	}

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status
func (s *ManagerService) Status() service.Status {
	return s.status
}

// Health performs a health check
func (s *ManagerService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *ManagerService) Dependencies() []string {
	return []string{"confirmation-watcher"}
}
