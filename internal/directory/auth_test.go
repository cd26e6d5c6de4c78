package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoginName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`EXAMPLE\jdoe`, "jdoe"},
		{"jdoe", "jdoe"},
		{"jdoe@example.local", "jdoe@example.local"},
		{`A\B\jdoe`, "jdoe"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LoginName(tt.in), tt.in)
	}
}

func TestAuthenticate_Success(t *testing.T) {
	jdoe := entry("CN=John Doe,OU=Users,DC=example,DC=local", map[string][]string{
		"cn":         {"John Doe"},
		"mail":       {"jdoe@example.local"},
		"title":      {"Engineer"},
		"department": {"R&D"},
	})
	d := &fakeDialer{search: pages([]*ldap.Entry{jdoe})}
	a := NewAuthenticator(testConfig, d, zaptest.NewLogger(t))

	u, err := a.Authenticate(context.Background(), `EXAMPLE\jdoe`, "pw")
	require.NoError(t, err)
	require.NotNil(t, u)

	assert.Equal(t, jdoe.DN, u.DN)
	assert.Equal(t, "jdoe", *u.Login)
	assert.Equal(t, "jdoe@example.local", *u.Email)
	assert.Equal(t, "Engineer", *u.Title)
	assert.Nil(t, u.ManagerDN)

	assert.Equal(t, []string{`EXAMPLE\jdoe`}, d.binds, "binds as the supplied user")
	req := d.lastRequest()
	assert.Equal(t, "(sAMAccountName=jdoe)", req.Filter)
	assert.Equal(t, profileAttributes, req.Attributes)
	assert.Equal(t, 1, d.closed)
}

func TestAuthenticate_RejectedCredentials(t *testing.T) {
	d := &fakeDialer{bindErr: ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))}
	a := NewAuthenticator(testConfig, d, zaptest.NewLogger(t))

	u, err := a.Authenticate(context.Background(), `EXAMPLE\jdoe`, "wrong")
	assert.NoError(t, err)
	assert.Nil(t, u)
	assert.Empty(t, d.requests)
	assert.Equal(t, 1, d.closed)
}

func TestAuthenticate_EmptyCredentials(t *testing.T) {
	d := &fakeDialer{}
	a := NewAuthenticator(testConfig, d, zaptest.NewLogger(t))

	for _, creds := range [][2]string{{"", "pw"}, {"jdoe", ""}, {"", ""}} {
		u, err := a.Authenticate(context.Background(), creds[0], creds[1])
		assert.NoError(t, err)
		assert.Nil(t, u)
	}
	assert.Zero(t, d.dials, "no bind is attempted without a password")
}

func TestAuthenticate_NoEntryAfterBind(t *testing.T) {
	d := &fakeDialer{}
	a := NewAuthenticator(testConfig, d, zaptest.NewLogger(t))

	u, err := a.Authenticate(context.Background(), "jdoe", "pw")
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestAuthenticate_SearchFailureAfterBind(t *testing.T) {
	d := &fakeDialer{search: func(SearchRequest) ([][]*ldap.Entry, error) {
		return nil, errors.New("size limit exceeded")
	}}
	a := NewAuthenticator(testConfig, d, zaptest.NewLogger(t))

	u, err := a.Authenticate(context.Background(), "jdoe", "pw")
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestAuthenticate_DirectoryUnreachable(t *testing.T) {
	a := NewAuthenticator(testConfig, &fakeDialer{dialErr: errRefused}, zaptest.NewLogger(t))

	u, err := a.Authenticate(context.Background(), "jdoe", "pw")
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
	assert.Nil(t, u)
}
