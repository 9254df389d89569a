package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ShutdownCoordinator runs cleanup functions in reverse registration order.
type ShutdownCoordinator struct {
	mu    sync.Mutex
	steps []shutdownStep
}

type shutdownStep struct {
	name string
	fn   func(context.Context) error
}

// Register adds fn under name.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, shutdownStep{name: name, fn: fn})
}

// Shutdown runs every registered function, newest first, and removes them.
// All functions run even when some fail; their errors are joined.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	steps := s.steps
	s.steps = nil
	s.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		slog.DebugContext(ctx, "shutting down", "component", step.name)
		if err := step.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	return errors.Join(errs...)
}
