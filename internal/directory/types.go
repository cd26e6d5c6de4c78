// Package directory provides Active Directory user synchronization and authentication
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ErrDirectoryUnavailable indicates the directory could not be reached or refused the service bind
var ErrDirectoryUnavailable = errors.New("directory unavailable")

// LDAPConfig holds directory connection and search configuration
type LDAPConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	UseTLS        bool          `json:"use_tls"`
	StartTLS      bool          `json:"start_tls"`
	SkipTLSVerify bool          `json:"skip_tls_verify"`
	BindUser      string        `json:"bind_user"`
	BindPassword  string        `json:"bind_password"`
	BaseDN        string        `json:"base_dn"`
	UserBaseDN    string        `json:"users_base_dn"`
	PageSize      int           `json:"page_size"`
	Timeout       time.Duration `json:"timeout"`
}

// userBase returns the search base for user queries
func (c LDAPConfig) userBase() string {
	if c.UserBaseDN != "" {
		return c.UserBaseDN
	}
	return c.BaseDN
}

// pageSize returns the configured page size or the default
func (c LDAPConfig) pageSize() int {
	if c.PageSize <= 0 {
		return 500
	}
	return c.PageSize
}

// User is one normalized directory entry. Optional fields are nil when the
// attribute is absent from the entry.
type User struct {
	DN          string  `json:"dn"`
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Login       *string `json:"login"`
	Title       *string `json:"title"`
	Department  *string `json:"department"`
	ManagerDN   *string `json:"manager_dn"`
	Phone       *string `json:"phone"`
	Mobile      *string `json:"mobile"`
	PhotoBase64 *string `json:"photo_base64"`
}

// SyncStats holds the counters of one synchronization pass
type SyncStats struct {
	TotalInAD         int `json:"total_in_ad"`
	WithDepartment    int `json:"with_department"`
	WithoutDepartment int `json:"without_department"`
	WithEmail         int `json:"with_email"`
	WithoutEmail      int `json:"without_email"`
	FilteredOut       int `json:"filtered_out"`
	Returned          int `json:"returned"`
}

// SyncOptions selects the inclusion filters and photo retrieval for a pass
type SyncOptions struct {
	RequireDepartment bool
	RequireEmail      bool
	IncludePhoto      bool
}

// LookupQuery identifies a single user by email or distinguished name
type LookupQuery struct {
	Email string
	DN    string
}

// SearchRequest describes a subtree or base-object search
type SearchRequest struct {
	BaseDN     string
	Scope      int
	Filter     string
	Attributes []string
	SizeLimit  int
	// PageSize enables simple paged results when > 0
	PageSize int
}

// Dialer opens connections to the directory
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is an open directory connection
type Conn interface {
	Bind(username, password string) error
	// SearchPages runs req and hands each page of entries to fn as it
	// arrives. Entries from earlier pages have already been delivered when a
	// later page fails.
	SearchPages(ctx context.Context, req SearchRequest, fn func(page []*ldap.Entry) error) error
	Close() error
}
