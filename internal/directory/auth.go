package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// Authenticator verifies end-user credentials by binding as the user
type Authenticator struct {
	cfg    LDAPConfig
	dialer Dialer
	logger *zap.Logger
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(cfg LDAPConfig, dialer Dialer, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With(zap.String("component", "ldap-auth")),
	}
}

// LoginName strips a domain prefix ("DOMAIN\user") from username
func LoginName(username string) string {
	if i := strings.LastIndex(username, `\`); i >= 0 {
		return username[i+1:]
	}
	return username
}

// Authenticate binds with the supplied credentials and returns the user's
// profile. Rejected credentials are not an error: the result is nil. Only a
// directory that cannot be reached yields an error.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*User, error) {
	// An empty password would turn the bind into an unauthenticated one
	if username == "" || password == "" {
		return nil, nil
	}

	conn, err := a.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			a.logger.Debug("Failed to close directory connection", zap.Error(err))
		}
	}()

	if err := conn.Bind(username, password); err != nil {
		a.logger.Info("Directory bind rejected", zap.String("username", username), zap.Error(err))
		return nil, nil
	}

	login := LoginName(username)
	req := SearchRequest{
		BaseDN:     a.cfg.BaseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     fmt.Sprintf("(%s=%s)", attrLogin, ldap.EscapeFilter(login)),
		Attributes: profileAttributes,
		SizeLimit:  1,
	}

	var entry *ldap.Entry
	err = conn.SearchPages(ctx, req, func(page []*ldap.Entry) error {
		if entry == nil && len(page) > 0 {
			entry = page[0]
		}
		return nil
	})
	if err != nil {
		a.logger.Warn("Profile lookup failed after successful bind",
			zap.String("login", login), zap.Error(err))
		return nil, nil
	}
	if entry == nil {
		a.logger.Info("No directory entry for authenticated login", zap.String("login", login))
		return nil, nil
	}

	user := User{
		DN:         entry.DN,
		Name:       optionalAttr(entry, attrCommonName),
		Email:      optionalAttr(entry, attrMail),
		Login:      &login,
		Title:      optionalAttr(entry, attrTitle),
		Department: optionalAttr(entry, attrDepartment),
		ManagerDN:  optionalAttr(entry, attrManager),
	}
	a.logger.Info("User authenticated", zap.String("login", login))
	return &user, nil
}
