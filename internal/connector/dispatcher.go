// Package connector runs the control channel session: it dials the backend,
// dispatches pushed commands to the directory and calendar backends and
// keeps the shared status record current.
package connector

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openidx/connector/internal/calendar"
	"github.com/openidx/connector/internal/common/logger"
	"github.com/openidx/connector/internal/common/tracing"
	"github.com/openidx/connector/internal/directory"
	"github.com/openidx/connector/internal/metrics"
	"github.com/openidx/connector/internal/protocol"
	"github.com/openidx/connector/internal/status"
)

// DefaultSyncTimeout bounds a sync_users command when none is configured
const DefaultSyncTimeout = 300 * time.Second

var (
	// ErrSyncTimeout is reported when a sync pass outlives the sync timeout
	ErrSyncTimeout = errors.New("Sync timed out")

	errInvalidCredentials = errors.New("Invalid credentials")
	errInternal           = errors.New("internal error")
)

// Directory is the service-account side of the directory backend
type Directory interface {
	TestConnection(ctx context.Context) error
	Synchronize(ctx context.Context, opts directory.SyncOptions) ([]directory.User, directory.SyncStats, error)
	FindUser(ctx context.Context, q directory.LookupQuery) (*directory.User, error)
	Subordinates(ctx context.Context, managerDN string) ([]directory.User, error)
}

// Authenticator verifies end-user credentials against the directory
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*directory.User, error)
}

// PongResult answers ping
type PongResult struct {
	Pong      bool   `json:"pong"`
	Timestamp string `json:"timestamp"`
}

// SyncResult answers sync_users
type SyncResult struct {
	Users   []directory.User    `json:"users"`
	Total   int                 `json:"total"`
	Stats   directory.SyncStats `json:"stats"`
	HasMore bool                `json:"has_more"`
}

// AuthResult answers authenticate
type AuthResult struct {
	Authenticated bool            `json:"authenticated"`
	User          *directory.User `json:"user,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// SubordinatesResult answers get_subordinates
type SubordinatesResult struct {
	Subordinates []directory.User `json:"subordinates"`
}

// Dispatcher turns commands into responses. It never fails: every problem
// becomes a response with success=false.
type Dispatcher struct {
	dir         Directory
	auth        Authenticator
	cal         calendar.Provider
	status      *status.Record
	syncTimeout time.Duration

	logger *zap.Logger
	audit  *logger.AuditLogger
	perf   *logger.PerformanceLogger
	tracer trace.Tracer
	now    func() time.Time
}

// NewDispatcher creates a dispatcher. A syncTimeout of zero selects DefaultSyncTimeout.
func NewDispatcher(dir Directory, auth Authenticator, cal calendar.Provider, rec *status.Record, syncTimeout time.Duration, log *zap.Logger) *Dispatcher {
	if syncTimeout <= 0 {
		syncTimeout = DefaultSyncTimeout
	}
	log = log.With(zap.String("component", "dispatcher"))
	return &Dispatcher{
		dir:         dir,
		auth:        auth,
		cal:         cal,
		status:      rec,
		syncTimeout: syncTimeout,
		logger:      log,
		audit:       logger.NewAuditLogger(log),
		perf:        logger.NewPerformanceLogger(log),
		tracer:      tracing.Tracer(),
		now:         time.Now,
	}
}

// Dispatch handles one command and builds its response
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) protocol.Response {
	d.status.Log("Command: " + cmd.Command)

	ctx, span := d.tracer.Start(ctx, "connector.command",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("connector.command", cmd.Command),
			attribute.String("connector.request_id", cmd.RequestID),
		))
	defer span.End()

	timer := d.perf.StartTimer(cmd.Command, zap.String("request_id", cmd.RequestID))
	result, err := d.handle(ctx, cmd)

	var errMsg string
	var elapsed time.Duration
	if err != nil {
		errMsg = err.Error()
		if result == nil {
			result = protocol.ErrorResult{Error: errMsg}
		}
		span.SetStatus(codes.Error, errMsg)
		elapsed = timer.StopWithError(err)
		logger.WithTraceContext(d.logger, ctx).Warn("Command failed",
			zap.String("command", cmd.Command),
			zap.String("request_id", cmd.RequestID),
			zap.Error(err))
	} else {
		elapsed = timer.Stop()
	}
	metrics.RecordCommand(cmd.Command, err == nil, elapsed)

	return protocol.NewResponse(cmd, result, errMsg, d.now())
}

// handle decodes cmd and runs its handler. A handler reports failure
// through err; result may still carry a command specific payload.
func (d *Dispatcher) handle(ctx context.Context, cmd protocol.Command) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Command handler panicked",
				zap.String("command", cmd.Command),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result, err = nil, errInternal
		}
	}()

	req, err := protocol.Decode(cmd)
	if err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	switch r := req.(type) {
	case protocol.PingRequest:
		return PongResult{Pong: true, Timestamp: d.now().UTC().Format(time.RFC3339)}, nil
	case protocol.SyncUsersRequest:
		return d.syncUsers(ctx, r)
	case protocol.AuthenticateRequest:
		return d.authenticate(ctx, r)
	case protocol.GetCalendarRequest:
		return d.getCalendar(ctx, r)
	case protocol.GetUserRequest:
		return d.getUser(ctx, r)
	case protocol.GetSubordinatesRequest:
		return d.getSubordinates(ctx, r)
	default:
		return nil, fmt.Errorf("Unknown command: %s", req.Name())
	}
}

type syncOutcome struct {
	users []directory.User
	stats directory.SyncStats
	err   error
}

// syncUsers runs a pass bounded by the sync timeout. The pass runs on its own
// goroutine and a context detached from ctx: on timeout it is left to finish
// and its result is dropped.
func (d *Dispatcher) syncUsers(ctx context.Context, r protocol.SyncUsersRequest) (interface{}, error) {
	opts := directory.SyncOptions{
		RequireDepartment: r.RequireDepartment,
		RequireEmail:      true,
		IncludePhoto:      r.IncludePhoto,
	}

	done := make(chan syncOutcome, 1)
	go func() {
		users, stats, err := d.dir.Synchronize(context.WithoutCancel(ctx), opts)
		done <- syncOutcome{users: users, stats: stats, err: err}
	}()

	timer := time.NewTimer(d.syncTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		metrics.RecordSync(out.stats.TotalInAD, out.stats.Returned, out.stats.FilteredOut)
		d.status.Logf("Synced %d users (%d in directory)", out.stats.Returned, out.stats.TotalInAD)
		users := out.users
		if users == nil {
			users = []directory.User{}
		}
		return SyncResult{
			Users:   users,
			Total:   out.stats.TotalInAD,
			Stats:   out.stats,
			HasMore: false,
		}, nil
	case <-timer.C:
		d.logger.Warn("Sync timed out", zap.Duration("timeout", d.syncTimeout))
		return nil, ErrSyncTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) authenticate(ctx context.Context, r protocol.AuthenticateRequest) (interface{}, error) {
	user, err := d.auth.Authenticate(ctx, r.Username, r.Password)
	login := directory.LoginName(r.Username)
	if err != nil {
		d.audit.LogAuthentication(login, false, err.Error())
		return AuthResult{Authenticated: false, Error: err.Error()}, err
	}
	if user == nil {
		d.audit.LogAuthentication(login, false, errInvalidCredentials.Error())
		return AuthResult{Authenticated: false, Error: errInvalidCredentials.Error()}, errInvalidCredentials
	}
	d.audit.LogAuthentication(login, true, "")
	return AuthResult{Authenticated: true, User: user}, nil
}

func (d *Dispatcher) getCalendar(ctx context.Context, r protocol.GetCalendarRequest) (interface{}, error) {
	if d.cal == nil {
		return nil, fmt.Errorf("%w: no calendar service configured", calendar.ErrCalendarUnavailable)
	}
	now := d.now()
	events, err := d.cal.GetEvents(ctx, calendar.EventQuery{
		Mailbox:  r.Email,
		Start:    now.AddDate(0, 0, -r.DaysBack),
		End:      now.AddDate(0, 0, r.DaysForward),
		Username: r.Username,
		Password: r.Password,
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []calendar.Event{}
	}
	return events, nil
}

func (d *Dispatcher) getUser(ctx context.Context, r protocol.GetUserRequest) (interface{}, error) {
	user, err := d.dir.FindUser(ctx, directory.LookupQuery{Email: r.Email, DN: r.DN})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	return user, nil
}

func (d *Dispatcher) getSubordinates(ctx context.Context, r protocol.GetSubordinatesRequest) (interface{}, error) {
	users, err := d.dir.Subordinates(ctx, r.ManagerDN)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []directory.User{}
	}
	return SubordinatesResult{Subordinates: users}, nil
}
