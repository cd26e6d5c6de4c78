package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// LDAPDialer opens go-ldap connections using an LDAPConfig
type LDAPDialer struct {
	cfg    LDAPConfig
	logger *zap.Logger
}

// NewLDAPDialer creates a new LDAP dialer
func NewLDAPDialer(cfg LDAPConfig, logger *zap.Logger) *LDAPDialer {
	return &LDAPDialer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "ldap-dialer")),
	}
}

// Dial establishes an LDAP connection with TLS/StartTLS. It does not bind.
func (d *LDAPDialer) Dial(ctx context.Context) (Conn, error) {
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	tlsConfig := &tls.Config{
		InsecureSkipVerify: d.cfg.SkipTLSVerify,
		ServerName:         d.cfg.Host,
	}

	timeout := d.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	scheme := "ldap"
	if d.cfg.UseTLS {
		scheme = "ldaps"
	}
	url := fmt.Sprintf("%s://%s", scheme, addr)

	conn, err := ldap.DialURL(url,
		ldap.DialWithDialer(dialer),
		ldap.DialWithTLSConfig(tlsConfig),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LDAP server %s: %w", addr, err)
	}
	conn.SetTimeout(timeout)

	if d.cfg.StartTLS && !d.cfg.UseTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}

	d.logger.Debug("LDAP connection established", zap.String("url", url))
	return &ldapConn{conn: conn, search: conn.Search, logger: d.logger}, nil
}

// ldapConn adapts *ldap.Conn to Conn
type ldapConn struct {
	conn   *ldap.Conn
	search func(*ldap.SearchRequest) (*ldap.SearchResult, error)
	logger *zap.Logger
}

func (c *ldapConn) Bind(username, password string) error {
	return c.conn.Bind(username, password)
}

// SearchPages performs a paged LDAP search, handing every page to fn before
// requesting the next one
func (c *ldapConn) SearchPages(ctx context.Context, req SearchRequest, fn func(page []*ldap.Entry) error) error {
	var controls []ldap.Control
	if req.PageSize > 0 {
		controls = []ldap.Control{ldap.NewControlPaging(uint32(req.PageSize))}
	}

	searchReq := ldap.NewSearchRequest(
		req.BaseDN,
		req.Scope,
		ldap.NeverDerefAliases,
		req.SizeLimit, 0, false,
		req.Filter,
		req.Attributes,
		controls,
	)

	pages := 0
	var cookie []byte
	for {
		if err := ctx.Err(); err != nil {
			if len(cookie) > 0 {
				c.abandon(searchReq, cookie)
			}
			return err
		}

		result, err := c.search(searchReq)
		if err != nil {
			return fmt.Errorf("LDAP search failed after %d pages: %w", pages, err)
		}
		pages++

		if err := fn(result.Entries); err != nil {
			return err
		}

		if req.PageSize <= 0 {
			return nil
		}

		pagingControl := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
		if pagingControl == nil {
			return nil
		}

		paging, ok := pagingControl.(*ldap.ControlPaging)
		if !ok || len(paging.Cookie) == 0 {
			return nil
		}

		cookie = paging.Cookie
		next := ldap.NewControlPaging(uint32(req.PageSize))
		next.SetCookie(cookie)
		searchReq.Controls = []ldap.Control{next}
	}
}

// abandon tells the server to release a paged search that will not be
// continued: a paging control of size 0 with the last cookie ends it
func (c *ldapConn) abandon(searchReq *ldap.SearchRequest, cookie []byte) {
	stop := ldap.NewControlPaging(0)
	stop.SetCookie(cookie)

	abandonReq := *searchReq
	abandonReq.Controls = []ldap.Control{stop}
	if _, err := c.search(&abandonReq); err != nil {
		c.logger.Debug("Failed to abandon paged search", zap.Error(err))
	}
}

// Close unbinds and releases the connection
func (c *ldapConn) Close() error {
	if err := c.conn.Unbind(); err != nil {
		c.conn.Close()
		return fmt.Errorf("LDAP unbind failed: %w", err)
	}
	return nil
}
