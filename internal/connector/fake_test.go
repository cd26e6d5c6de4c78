package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/openidx/connector/internal/calendar"
	"github.com/openidx/connector/internal/directory"
)

type fakeDirectory struct {
	mu       sync.Mutex
	probeErr error

	users []directory.User
	stats directory.SyncStats
	// block, when set, holds Synchronize until it is closed
	block    chan struct{}
	returned chan struct{}
	syncOpts []directory.SyncOptions

	found    *directory.User
	findErr  error
	panicky  bool
	lookups  []directory.LookupQuery
	subs     []directory.User
	subsErr  error
	managers []string
}

func (f *fakeDirectory) TestConnection(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

func (f *fakeDirectory) Synchronize(ctx context.Context, opts directory.SyncOptions) ([]directory.User, directory.SyncStats, error) {
	f.mu.Lock()
	f.syncOpts = append(f.syncOpts, opts)
	block, returned := f.block, f.returned
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if returned != nil {
		defer close(returned)
	}
	return f.users, f.stats, nil
}

func (f *fakeDirectory) FindUser(ctx context.Context, q directory.LookupQuery) (*directory.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicky {
		panic("nil entry")
	}
	f.lookups = append(f.lookups, q)
	return f.found, f.findErr
}

func (f *fakeDirectory) Subordinates(ctx context.Context, managerDN string) ([]directory.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.managers = append(f.managers, managerDN)
	return f.subs, f.subsErr
}

type fakeAuthenticator struct {
	user *directory.User
	err  error
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, username, password string) (*directory.User, error) {
	return f.user, f.err
}

type fakeCalendar struct {
	mu       sync.Mutex
	probeErr error
	events   []calendar.Event
	err      error
	queries  []calendar.EventQuery
}

func (f *fakeCalendar) TestConnection(ctx context.Context) error {
	return f.probeErr
}

func (f *fakeCalendar) GetEvents(ctx context.Context, q calendar.EventQuery) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.events, f.err
}

// fakeBackend accepts control channel connections and hands the server side
// of each one to the test
type fakeBackend struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	tokens chan string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		conns:  make(chan *websocket.Conn, 4),
		tokens: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.tokens <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) URL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws/connector"
}

// accept returns the server side of the next connection
func (b *fakeBackend) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-b.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no control channel connection")
		return nil
	}
}

// readFrame reads the next JSON frame from conn
func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// drain reads from conn until it fails, answering the close handshake
func drain(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func strPtr(s string) *string { return &s }
