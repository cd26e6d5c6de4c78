package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// fakeDialer hands out fakeConns sharing one script
type fakeDialer struct {
	mu      sync.Mutex
	dialErr error
	bindErr error
	// search answers a request with pages; a non-nil error is returned after the pages are delivered
	search func(req SearchRequest) ([][]*ldap.Entry, error)

	dials    int
	binds    []string
	requests []SearchRequest
	closed   int
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return &fakeConn{d: d}, nil
}

func (d *fakeDialer) lastRequest() SearchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1]
}

type fakeConn struct {
	d *fakeDialer
}

func (c *fakeConn) Bind(username, password string) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.binds = append(c.d.binds, username)
	return c.d.bindErr
}

func (c *fakeConn) SearchPages(ctx context.Context, req SearchRequest, fn func(page []*ldap.Entry) error) error {
	c.d.mu.Lock()
	c.d.requests = append(c.d.requests, req)
	search := c.d.search
	c.d.mu.Unlock()

	if search == nil {
		return nil
	}
	pages, err := search(req)
	for _, p := range pages {
		if ferr := fn(p); ferr != nil {
			return ferr
		}
	}
	return err
}

func (c *fakeConn) Close() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.closed++
	return nil
}

func pages(entries ...[]*ldap.Entry) func(SearchRequest) ([][]*ldap.Entry, error) {
	return func(SearchRequest) ([][]*ldap.Entry, error) { return entries, nil }
}

func entry(dn string, attrs map[string][]string) *ldap.Entry {
	return ldap.NewEntry(dn, attrs)
}

var errRefused = errors.New("dial tcp 10.0.0.1:389: connect: connection refused")
