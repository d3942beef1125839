// Package shutdown runs cleanup steps in order when renderd stops.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pyro/internal/pkg/logger"
)

// Manager runs registered handlers in reverse registration order under one
// shared deadline. A handler starts only after the previous one returned, so
// the HTTP server can stop taking work before the renderer is torn down.
type Manager struct {
	log      *logger.Logger
	timeout  time.Duration
	handlers []Handler
	mu       sync.Mutex
	once     sync.Once
	done     chan struct{}
}

// Handler is one named cleanup step.
type Handler struct {
	Name    string
	Cleanup func(ctx context.Context) error
}

// NewManager creates a new shutdown manager. A zero timeout means 30s.
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		log:     log.WithComponent("shutdown"),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a cleanup handler. Handlers registered later run first.
func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, Handler{Name: name, Cleanup: cleanup})
	m.log.Debug("registered shutdown handler", "name", name)
}

// RegisterSimple adds a cleanup handler that ignores the deadline.
func (m *Manager) RegisterSimple(name string, cleanup func()) {
	m.Register(name, func(ctx context.Context) error {
		cleanup()
		return nil
	})
}

// Wait blocks until SIGINT, SIGTERM or SIGHUP, then runs Shutdown.
func (m *Manager) Wait() {
	m.WaitWithContext(context.Background())
}

// WaitWithContext is Wait that also returns early when ctx ends.
func (m *Manager) WaitWithContext(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.log.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		m.log.Info("context canceled, initiating shutdown")
	}

	m.Shutdown()
}

// Shutdown runs the handlers once. Later calls wait for the first to finish.
func (m *Manager) Shutdown() {
	m.once.Do(m.run)
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)

	m.mu.Lock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.Info("starting graceful shutdown", "handlers", len(handlers), "timeout", m.timeout.String())

	failed := 0
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		start := time.Now()
		if err := h.Cleanup(ctx); err != nil {
			failed++
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

	if ctx.Err() != nil {
		m.log.Warn("shutdown deadline exceeded", "failed", failed)
		return
	}
	m.log.Info("graceful shutdown completed", "failed", failed)
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Context returns a context that is canceled once shutdown completes.
func (m *Manager) Context() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-m.done
		cancel()
	}()
	return ctx
}
