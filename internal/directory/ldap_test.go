package directory

import (
	"context"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

// setupTestDirectory starts an OpenLDAP container and returns a config bound to its admin account
func setupTestDirectory(t *testing.T) (LDAPConfig, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping directory container in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "osixia/openldap:1.5.0",
		ExposedPorts: []string{"389/tcp"},
		Env: map[string]string{
			"LDAP_ORGANISATION":   "Example",
			"LDAP_DOMAIN":         "example.org",
			"LDAP_ADMIN_PASSWORD": "admin",
			"LDAP_TLS":            "false",
		},
		WaitingFor: wait.ForLog("slapd starting").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start directory container: %v", err)
		return LDAPConfig{}, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		t.Skipf("Failed to get container host: %v", err)
		return LDAPConfig{}, func() {}
	}

	port, err := container.MappedPort(ctx, "389")
	if err != nil {
		container.Terminate(ctx)
		t.Skipf("Failed to get container port: %v", err)
		return LDAPConfig{}, func() {}
	}

	cfg := LDAPConfig{
		Host:         host,
		Port:         port.Int(),
		BindUser:     "cn=admin,dc=example,dc=org",
		BindPassword: "admin",
		BaseDN:       "dc=example,dc=org",
		Timeout:      10 * time.Second,
	}

	return cfg, func() { container.Terminate(ctx) }
}

func TestLDAPDialer_Integration(t *testing.T) {
	cfg, cleanup := setupTestDirectory(t)
	defer cleanup()

	log := zaptest.NewLogger(t)
	dialer := NewLDAPDialer(cfg, log)
	ctx := context.Background()

	// slapd logs readiness slightly before it accepts binds
	engine := NewSyncEngine(cfg, dialer, log)
	require.Eventually(t, func() bool {
		return engine.TestConnection(ctx) == nil
	}, 30*time.Second, 500*time.Millisecond)

	t.Run("service bind with wrong password", func(t *testing.T) {
		bad := cfg
		bad.BindPassword = "wrong"
		err := NewSyncEngine(bad, NewLDAPDialer(bad, log), log).TestConnection(ctx)
		assert.ErrorIs(t, err, ErrDirectoryUnavailable)
	})

	t.Run("user bind with wrong password", func(t *testing.T) {
		a := NewAuthenticator(cfg, dialer, log)
		u, err := a.Authenticate(ctx, "cn=admin,dc=example,dc=org", "wrong")
		assert.NoError(t, err)
		assert.Nil(t, u)
	})

	t.Run("unknown base dn", func(t *testing.T) {
		u, err := engine.FindUser(ctx, LookupQuery{DN: "cn=ghost,dc=example,dc=org"})
		assert.NoError(t, err)
		assert.Nil(t, u)
	})
}

func TestLDAPDialer_Unreachable(t *testing.T) {
	cfg := LDAPConfig{Host: "127.0.0.1", Port: 1, BaseDN: "dc=example,dc=org", Timeout: time.Second}
	log := zaptest.NewLogger(t)

	err := NewSyncEngine(cfg, NewLDAPDialer(cfg, log), log).TestConnection(context.Background())
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
}

// pagedServer answers every search with one entry and a continuation cookie
func pagedServer(sent *[]*ldap.SearchRequest) func(*ldap.SearchRequest) (*ldap.SearchResult, error) {
	return func(r *ldap.SearchRequest) (*ldap.SearchResult, error) {
		*sent = append(*sent, r)
		more := ldap.NewControlPaging(2)
		more.SetCookie([]byte("page-2"))
		return &ldap.SearchResult{
			Entries:  []*ldap.Entry{entry("cn=a,dc=example,dc=org", nil)},
			Controls: []ldap.Control{more},
		}, nil
	}
}

func TestSearchPages_AbandonsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sent []*ldap.SearchRequest
	c := &ldapConn{search: pagedServer(&sent), logger: zaptest.NewLogger(t)}

	delivered := 0
	err := c.SearchPages(ctx, SearchRequest{
		BaseDN:   "dc=example,dc=org",
		Scope:    ldap.ScopeWholeSubtree,
		Filter:   "(objectClass=person)",
		PageSize: 2,
	}, func([]*ldap.Entry) error {
		delivered++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, delivered)

	require.Len(t, sent, 2)
	abandon := sent[1]
	assert.Equal(t, "dc=example,dc=org", abandon.BaseDN)
	assert.Equal(t, "(objectClass=person)", abandon.Filter)
	paging, ok := ldap.FindControl(abandon.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
	require.True(t, ok)
	assert.Equal(t, uint32(0), paging.PagingSize)
	assert.Equal(t, []byte("page-2"), paging.Cookie)
}

func TestSearchPages_CanceledBeforeFirstPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sent []*ldap.SearchRequest
	c := &ldapConn{search: pagedServer(&sent), logger: zaptest.NewLogger(t)}

	err := c.SearchPages(ctx, SearchRequest{BaseDN: "dc=example,dc=org", Filter: "(objectClass=*)", PageSize: 2},
		func([]*ldap.Entry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sent, "nothing to abandon without a cookie")
}
