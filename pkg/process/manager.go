// Package process ties the lifetime of a run to operating system signals
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
)

// Manager cancels a run context when the process is interrupted
type Manager struct {
	logger           logger.Logger
	shutdownHandlers []func()
	signals          chan os.Signal
	stop             chan struct{}
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
	interrupted      bool
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{logger: log}
}

// RegisterShutdownHandler adds a handler invoked on interruption, in
// reverse registration order
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// Start returns a context cancelled on the first interrupt or termination
// signal. The caller releases the manager with Stop.
func (m *Manager) Start(ctx context.Context) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ctx
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.stop = make(chan struct{})
	m.signals = make(chan os.Signal, 1)
	signal.Notify(m.signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	stop, signals := m.stop, m.signals
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		select {
		case <-ctx.Done():
		case <-stop:
		case sig := <-signals:
			m.logger.Warn("interrupted; stopping", logger.WithField("signal", sig))
			m.mu.Lock()
			m.interrupted = true
			m.mu.Unlock()
			m.handleShutdown()
		}
	}()
	return ctx
}

// Stop releases the signal handlers
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	signal.Stop(m.signals)
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
}

// Interrupted reports whether a signal stopped the run
func (m *Manager) Interrupted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupted
}

func (m *Manager) handleShutdown() {
	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}
