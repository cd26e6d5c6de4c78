package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/openidx/connector/internal/calendar"
	"github.com/openidx/connector/internal/common/logger"
	"github.com/openidx/connector/internal/metrics"
	"github.com/openidx/connector/internal/protocol"
	"github.com/openidx/connector/internal/status"
)

const (
	writeWait        = 10 * time.Second
	closeGracePeriod = 5 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Open while a session is active
	ErrAlreadyRunning = errors.New("connector is already running")
	// ErrChannelUnavailable wraps control channel dial and transport failures
	ErrChannelUnavailable = errors.New("control channel unavailable")
	// ErrSessionStopped is returned when Stop interrupts Open
	ErrSessionStopped = errors.New("session stopped")
)

// State is the lifecycle state of a Session
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	// StateDegraded is a running session whose channel was lost
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionConfig configures the control channel
type SessionConfig struct {
	URL    string // ws:// or wss:// endpoint
	APIKey string
	// HeartbeatInterval between heartbeat frames; zero disables them
	HeartbeatInterval  time.Duration
	InsecureSkipVerify bool
	HandshakeTimeout   time.Duration
}

// Session owns one control channel connection and its read loop. There is
// no automatic reconnect: a lost channel leaves the session degraded until
// it is stopped and started again.
type Session struct {
	cfg        SessionConfig
	dir        Directory
	cal        calendar.Provider
	dispatcher *Dispatcher
	status     *status.Record
	logger     *zap.Logger
	audit      *logger.AuditLogger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	sessionID string
	// done is closed when the read loop of the last opened channel exits, or
	// by Serve directly when the channel was stopped before it was served
	done    chan struct{}
	serving bool

	writeMu sync.Mutex
}

// NewSession creates an idle session. cal may be nil when no calendar
// service is configured.
func NewSession(cfg SessionConfig, dir Directory, cal calendar.Provider, dispatcher *Dispatcher, rec *status.Record, log *zap.Logger) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	log = log.With(zap.String("component", "session"))
	return &Session{
		cfg:        cfg,
		dir:        dir,
		cal:        cal,
		dispatcher: dispatcher,
		status:     rec,
		logger:     log,
		audit:      logger.NewAuditLogger(log),
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the identifier of the most recent start attempt
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Start opens the channel and serves it until it closes
func (s *Session) Start(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Open probes the backends and dials the control channel once. A dial
// failure leaves running set, records last_error and returns the session to
// idle so that it may be started again.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStarting, StateRunning, StateDegraded:
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	prevState, prevDone := s.state, s.done
	s.state = StateStarting
	s.sessionID = uuid.NewString()
	sessionID := s.sessionID
	s.mu.Unlock()

	// A stopped channel may still be draining its close handshake
	if prevDone != nil {
		select {
		case <-prevDone:
		case <-ctx.Done():
			s.mu.Lock()
			if s.state == StateStarting {
				s.state = prevState
			}
			s.mu.Unlock()
			return ctx.Err()
		}
	}

	// Stop may have run while the previous channel drained
	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	s.status.SetSessionID(sessionID)
	s.status.SetRunning(true)
	s.mu.Unlock()

	log := logger.WithSession(s.logger, sessionID)
	s.status.Log("Starting connector...")

	s.TestDirectory(ctx)
	if s.cal != nil {
		s.TestCalendar(ctx)
	}

	s.status.Log("Connecting to backend...")
	conn, err := s.dial(ctx)
	if err != nil {
		msg := fmt.Sprintf("Connection failed: %v", err)
		s.status.Fail(msg)
		s.audit.LogSessionFailed(sessionID, err.Error())
		log.Error("Failed to open control channel", zap.Error(err))

		s.mu.Lock()
		if s.state == StateStarting {
			s.state = StateIdle
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		conn.Close()
		return ErrSessionStopped
	}
	s.conn = conn
	s.state = StateRunning
	s.done = make(chan struct{})
	s.mu.Unlock()

	conn.SetPingHandler(func(appData string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	s.status.SetChannelConnected(true)
	metrics.SetChannelConnected(true)
	s.status.Log("Connected to backend")
	s.audit.LogSessionStarted(sessionID, conn.RemoteAddr().String())
	log.Info("Control channel open", zap.String("remote", conn.RemoteAddr().String()))
	return nil
}

// dial opens the WebSocket with the API key added as the token query parameter
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	q := u.Query()
	q.Set("token", s.cfg.APIKey)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: s.cfg.InsecureSkipVerify},
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// Serve reads commands from the open channel, dispatching them one at a
// time, until the peer closes, the transport fails, ctx ends or Stop is
// called. Malformed frames are dropped.
func (s *Session) Serve(ctx context.Context) error {
	s.mu.Lock()
	conn, done, sessionID := s.conn, s.done, s.sessionID
	if conn == nil || s.state != StateRunning || s.serving {
		// A channel stopped between Open and Serve has no read loop to release it
		orphaned := conn != nil && !s.serving && s.state == StateStopped
		if orphaned {
			s.conn = nil
		}
		s.mu.Unlock()
		if orphaned {
			conn.Close()
			close(done)
			return ErrSessionStopped
		}
		return fmt.Errorf("%w: channel is not open", ErrChannelUnavailable)
	}
	s.serving = true
	s.mu.Unlock()

	log := logger.WithSession(s.logger, sessionID)

	hbCtx, cancelHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if s.cfg.HeartbeatInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.heartbeat(hbCtx, conn, log)
		}()
	}

	// Unblock the pending read when ctx ends
	stopWatch := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})

	var readErr error
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if mt != websocket.TextMessage {
			continue
		}

		cmd, err := protocol.ParseCommand(data)
		if err != nil {
			log.Debug("Dropping malformed frame", zap.Error(err))
			continue
		}

		resp := s.dispatcher.Dispatch(ctx, cmd)
		if err := s.write(conn, resp); err != nil {
			readErr = err
			break
		}
	}

	stopWatch()
	cancelHeartbeat()
	wg.Wait()

	s.status.SetChannelConnected(false)
	metrics.SetChannelConnected(false)

	s.mu.Lock()
	stopped := s.state == StateStopped
	if s.state == StateRunning {
		s.state = StateDegraded
	}
	if s.conn == conn {
		s.conn = nil
	}
	s.serving = false
	s.mu.Unlock()

	if err := conn.Close(); err != nil {
		log.Debug("Failed to close control channel", zap.Error(err))
	}
	close(done)

	switch {
	case stopped:
		log.Info("Control channel closed")
		return nil
	case ctx.Err() != nil:
		s.status.Log("Disconnected from backend")
		return ctx.Err()
	case websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		s.status.Log("Disconnected from backend")
		log.Info("Backend closed the control channel")
		return nil
	default:
		s.status.Logf("Disconnected from backend: %v", readErr)
		log.Warn("Control channel lost", zap.Error(readErr))
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, readErr)
	}
}

// heartbeat writes heartbeat frames until ctx ends or a write fails
func (s *Session) heartbeat(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := s.write(conn, protocol.NewHeartbeat(t)); err != nil {
				log.Debug("Heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

// write sends v as one JSON text frame. Data frames are written by the read
// loop and the heartbeat, so they share writeMu.
func (s *Session) write(conn *websocket.Conn, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// Stop clears running and channel_connected and asks the peer to close the
// channel. It is idempotent and never interrupts a command in flight: the
// read loop exits once the close handshake completes or the grace period
// ends. The returned error only reports close frame delivery.
func (s *Session) Stop() error {
	s.mu.Lock()
	prev := s.state
	s.state = StateStopped
	conn, sessionID := s.conn, s.sessionID
	s.mu.Unlock()

	s.status.Stop()
	metrics.SetChannelConnected(false)

	if prev != StateStopped {
		s.status.Log("Connector stopped")
		s.audit.LogSessionStopped(sessionID)
	}
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(closeGracePeriod)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connector stopped")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return multierr.Append(err, conn.SetReadDeadline(deadline))
}

// TestDirectory probes the directory and records the outcome
func (s *Session) TestDirectory(ctx context.Context) error {
	err := s.dir.TestConnection(ctx)
	s.status.SetDirectoryReachable(err == nil)
	metrics.SetBackendReachable("directory", err == nil)
	if err != nil {
		s.status.Logf("Directory connection failed: %v", err)
		return err
	}
	s.status.Log("Directory connection OK")
	return nil
}

// TestCalendar probes the calendar service and records the outcome
func (s *Session) TestCalendar(ctx context.Context) error {
	if s.cal == nil {
		s.status.SetCalendarReachable(false)
		return fmt.Errorf("%w: no calendar service configured", calendar.ErrCalendarUnavailable)
	}
	err := s.cal.TestConnection(ctx)
	s.status.SetCalendarReachable(err == nil)
	metrics.SetBackendReachable("calendar", err == nil)
	if err != nil {
		s.status.Logf("Calendar connection failed: %v", err)
		return err
	}
	s.status.Log("Calendar connection OK")
	return nil
}
