// Package shutdown coordinates graceful shutdown of the API process.
package shutdown

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"scenegen/internal/pkg/logger"
)

// Manager runs registered cleanup handlers once a termination signal arrives.
// Handlers run one at a time, newest first, so the HTTP server registered last
// stops accepting requests before the resources it uses are released.
type Manager struct {
	log      *logger.Logger
	timeout  time.Duration
	handlers []Handler
	mu       sync.Mutex
	once     sync.Once
	done     chan struct{}
}

// Handler is a named cleanup step.
type Handler struct {
	Name    string
	Cleanup func(ctx context.Context) error
}

// NewManager creates a shutdown manager. A zero timeout means 30s.
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		log:     log,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a cleanup handler.
func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, Handler{Name: name, Cleanup: cleanup})
	m.log.Debug("registered shutdown handler", "name", name)
}

// RegisterSimple adds a cleanup handler that needs no context.
func (m *Manager) RegisterSimple(name string, cleanup func()) {
	m.Register(name, func(context.Context) error {
		cleanup()
		return nil
	})
}

// Wait blocks until SIGINT/SIGTERM/SIGHUP or ctx is done, then shuts down.
func (m *Manager) Wait(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	<-sigCtx.Done()
	if ctx.Err() != nil {
		m.log.Info("context canceled, initiating shutdown")
	} else {
		m.log.Info("shutdown signal received")
	}

	m.Shutdown()
}

// Shutdown runs all cleanup handlers in reverse registration order.
// Calling it more than once is a no-op.
func (m *Manager) Shutdown() {
	m.once.Do(m.shutdown)
}

func (m *Manager) shutdown() {
	defer close(m.done)

	m.mu.Lock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.Info("starting graceful shutdown", "handlers", len(handlers), "timeout", m.timeout.String())

	for i := len(handlers) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			m.log.Warn("shutdown timeout exceeded, skipping remaining handlers", "remaining", i+1)
			return
		}

		h := handlers[i]
		start := time.Now()
		if err := runHandler(ctx, h); err != nil {
			m.log.Error("shutdown handler failed",
				"name", h.Name,
				"error", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			continue
		}
		m.log.Debug("shutdown handler completed",
			"name", h.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	m.log.Info("graceful shutdown completed")
}

// runHandler returns when the handler finishes or ctx expires, whichever is first.
func runHandler(ctx context.Context, h Handler) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Cleanup(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
