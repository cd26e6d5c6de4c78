package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// SyncEngine enumerates and normalizes directory users using the service account
type SyncEngine struct {
	cfg    LDAPConfig
	dialer Dialer
	logger *zap.Logger
}

// NewSyncEngine creates a new sync engine
func NewSyncEngine(cfg LDAPConfig, dialer Dialer, logger *zap.Logger) *SyncEngine {
	return &SyncEngine{
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With(zap.String("component", "sync-engine")),
	}
}

// connect dials and binds with the service credentials
func (e *SyncEngine) connect(ctx context.Context) (Conn, error) {
	conn, err := e.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if err := conn.Bind(e.cfg.BindUser, e.cfg.BindPassword); err != nil {
		e.release(conn)
		return nil, fmt.Errorf("%w: service bind failed: %v", ErrDirectoryUnavailable, err)
	}
	return conn, nil
}

// release closes conn, logging rather than returning any failure
func (e *SyncEngine) release(conn Conn) {
	if err := conn.Close(); err != nil {
		e.logger.Warn("Failed to close directory connection", zap.Error(err))
	}
}

// TestConnection verifies connectivity, the service bind and a base-object search
func (e *SyncEngine) TestConnection(ctx context.Context) error {
	conn, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer e.release(conn)

	req := SearchRequest{
		BaseDN:     e.cfg.BaseDN,
		Scope:      ldap.ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"dn"},
		SizeLimit:  1,
	}
	if err := conn.SearchPages(ctx, req, func([]*ldap.Entry) error { return nil }); err != nil {
		return fmt.Errorf("%w: test search failed: %v", ErrDirectoryUnavailable, err)
	}

	e.logger.Info("LDAP connection test successful", zap.String("host", e.cfg.Host))
	return nil
}

// Synchronize runs one synchronization pass. A failure after the first page
// has been delivered truncates the result to the entries already processed
// instead of failing the whole pass; a failure before that fails the pass.
func (e *SyncEngine) Synchronize(ctx context.Context, opts SyncOptions) ([]User, SyncStats, error) {
	start := time.Now()
	var stats SyncStats

	conn, err := e.connect(ctx)
	if err != nil {
		return nil, stats, err
	}
	defer e.release(conn)

	req := SearchRequest{
		BaseDN:     e.cfg.userBase(),
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     activeUserQuery,
		Attributes: syncAttributes(opts.IncludePhoto),
		PageSize:   e.cfg.pageSize(),
	}

	users := make([]User, 0)
	delivered := 0
	searchErr := conn.SearchPages(ctx, req, func(page []*ldap.Entry) error {
		delivered++
		for _, entry := range page {
			if user, ok := classify(entry, opts, &stats); ok {
				users = append(users, user)
			}
		}
		return nil
	})
	if searchErr != nil {
		if delivered == 0 {
			return nil, SyncStats{}, fmt.Errorf("%w: directory search failed: %w", ErrDirectoryUnavailable, searchErr)
		}
		e.logger.Error("Directory search interrupted, returning partial result",
			zap.Int("pages", delivered),
			zap.Int("collected", len(users)),
			zap.Bool("canceled", errors.Is(searchErr, context.Canceled) || errors.Is(searchErr, context.DeadlineExceeded)),
			zap.Error(searchErr))
	}

	stats.Returned = len(users)

	e.logger.Info("AD sync completed",
		zap.Int("total", stats.TotalInAD),
		zap.Int("with_department", stats.WithDepartment),
		zap.Int("with_email", stats.WithEmail),
		zap.Int("filtered_out", stats.FilteredOut),
		zap.Int("returned", stats.Returned),
		zap.Duration("duration", time.Since(start)),
	)

	return users, stats, nil
}

// classify updates the counters for entry and reports whether it passes the filters
func classify(entry *ldap.Entry, opts SyncOptions, stats *SyncStats) (User, bool) {
	stats.TotalInAD++

	hasDepartment := entry.GetAttributeValue(attrDepartment) != ""
	hasEmail := entry.GetAttributeValue(attrMail) != ""

	if hasDepartment {
		stats.WithDepartment++
	} else {
		stats.WithoutDepartment++
	}
	if hasEmail {
		stats.WithEmail++
	} else {
		stats.WithoutEmail++
	}

	if opts.RequireDepartment && !hasDepartment {
		stats.FilteredOut++
		return User{}, false
	}
	if opts.RequireEmail && !hasEmail {
		stats.FilteredOut++
		return User{}, false
	}

	return MapUserEntry(entry, opts.IncludePhoto), true
}

// FindUser looks up a single user by email or distinguished name. It returns
// nil when no entry matches.
func (e *SyncEngine) FindUser(ctx context.Context, q LookupQuery) (*User, error) {
	var req SearchRequest
	switch {
	case q.Email != "":
		req = SearchRequest{
			BaseDN: e.cfg.BaseDN,
			Scope:  ldap.ScopeWholeSubtree,
			Filter: fmt.Sprintf("(&(objectClass=user)(%s=%s))", attrMail, ldap.EscapeFilter(q.Email)),
		}
	case q.DN != "":
		req = SearchRequest{
			BaseDN: q.DN,
			Scope:  ldap.ScopeBaseObject,
			Filter: "(objectClass=user)",
		}
	default:
		return nil, fmt.Errorf("email or dn is required")
	}
	req.Attributes = syncAttributes(false)
	req.SizeLimit = 1

	conn, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer e.release(conn)

	var found *User
	err = conn.SearchPages(ctx, req, func(page []*ldap.Entry) error {
		if found == nil && len(page) > 0 {
			u := MapUserEntry(page[0], false)
			found = &u
		}
		return nil
	})
	if err != nil {
		var ldapErr *ldap.Error
		if errors.As(err, &ldapErr) && ldapErr.ResultCode == ldap.LDAPResultNoSuchObject {
			return nil, nil
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	return found, nil
}

// Subordinates returns the active users whose manager attribute is managerDN
func (e *SyncEngine) Subordinates(ctx context.Context, managerDN string) ([]User, error) {
	conn, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer e.release(conn)

	req := SearchRequest{
		BaseDN:     e.cfg.BaseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     fmt.Sprintf("(&(objectClass=user)(%s=%s))", attrManager, ldap.EscapeFilter(managerDN)),
		Attributes: syncAttributes(false),
		PageSize:   e.cfg.pageSize(),
	}

	users := make([]User, 0)
	err = conn.SearchPages(ctx, req, func(page []*ldap.Entry) error {
		for _, entry := range page {
			users = append(users, MapUserEntry(entry, false))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subordinate search failed: %w", err)
	}
	return users, nil
}
