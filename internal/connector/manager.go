package connector

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/openidx/connector/internal/status"
)

// Manager is the local control surface over a Session: status observers
// and operators use it to start, stop and probe the connector.
type Manager struct {
	session *Session
	status  *status.Record
	logger  *zap.Logger

	// base outlives individual requests; the read loop runs under it
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager for session. Serve loops started through the
// manager end when Close is called.
func NewManager(session *Session, rec *status.Record, logger *zap.Logger) *Manager {
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		session: session,
		status:  rec,
		logger:  logger.With(zap.String("component", "manager")),
		base:    base,
		cancel:  cancel,
	}
}

// Status returns a snapshot of the status record
func (m *Manager) Status() status.Snapshot {
	return m.status.Snapshot()
}

// State returns the session lifecycle state
func (m *Manager) State() State {
	return m.session.State()
}

// Start opens the control channel synchronously and serves it in the
// background, so that the caller learns about dial failures.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.session.Open(ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.session.Serve(m.base); err != nil && m.base.Err() == nil && !errors.Is(err, ErrSessionStopped) {
			m.logger.Warn("Control session ended", zap.Error(err))
		}
	}()
	return nil
}

// Stop stops the session. Close frame delivery problems are only logged.
func (m *Manager) Stop() {
	if err := m.session.Stop(); err != nil {
		m.logger.Debug("Close handshake incomplete", zap.Error(err))
	}
}

// ClearLogs empties the operator log
func (m *Manager) ClearLogs() {
	m.status.ClearLogs()
}

// TestDirectory probes the directory and updates directory_reachable
func (m *Manager) TestDirectory(ctx context.Context) error {
	return m.session.TestDirectory(ctx)
}

// TestCalendar probes the calendar service and updates calendar_reachable
func (m *Manager) TestCalendar(ctx context.Context) error {
	return m.session.TestCalendar(ctx)
}

// Close stops the session and waits for background loops to exit
func (m *Manager) Close() {
	m.Stop()
	m.cancel()
	m.wg.Wait()
}
