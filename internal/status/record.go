// Package status holds the process-wide connector status shared between the
// session engine and status observers.
package status

import (
	"fmt"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the status record
type Snapshot struct {
	Running            bool     `json:"running"`
	ChannelConnected   bool     `json:"channel_connected"`
	DirectoryReachable bool     `json:"directory_reachable"`
	CalendarReachable  bool     `json:"calendar_reachable"`
	LastError          *string  `json:"last_error"`
	SessionID          string   `json:"session_id,omitempty"`
	Logs               []string `json:"logs"`
}

// Record is the mutable connector status. Writers hold the lock only for the
// field update; observers read consistent copies through Snapshot.
type Record struct {
	mu                 sync.RWMutex
	running            bool
	channelConnected   bool
	directoryReachable bool
	calendarReachable  bool
	lastError          *string
	sessionID          string
	logs               *LogRing

	now func() time.Time
}

// NewRecord creates a record with every flag cleared
func NewRecord() *Record {
	return &Record{
		logs: NewLogRing(DefaultLogCapacity),
		now:  time.Now,
	}
}

// Snapshot returns a copy of the current status
func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Running:            r.running,
		ChannelConnected:   r.channelConnected,
		DirectoryReachable: r.directoryReachable,
		CalendarReachable:  r.calendarReachable,
		SessionID:          r.sessionID,
		Logs:               r.logs.Lines(),
	}
	if r.lastError != nil {
		msg := *r.lastError
		s.LastError = &msg
	}
	return s
}

// SetRunning updates the running flag
func (r *Record) SetRunning(v bool) {
	r.mu.Lock()
	r.running = v
	r.mu.Unlock()
}

// SetChannelConnected updates the control channel flag
func (r *Record) SetChannelConnected(v bool) {
	r.mu.Lock()
	r.channelConnected = v
	r.mu.Unlock()
}

// SetDirectoryReachable updates the directory reachability flag
func (r *Record) SetDirectoryReachable(v bool) {
	r.mu.Lock()
	r.directoryReachable = v
	r.mu.Unlock()
}

// SetCalendarReachable updates the calendar reachability flag
func (r *Record) SetCalendarReachable(v bool) {
	r.mu.Lock()
	r.calendarReachable = v
	r.mu.Unlock()
}

// SetSessionID records the identifier of the current session
func (r *Record) SetSessionID(id string) {
	r.mu.Lock()
	r.sessionID = id
	r.mu.Unlock()
}

// Stop clears running and channel_connected together
func (r *Record) Stop() {
	r.mu.Lock()
	r.running = false
	r.channelConnected = false
	r.mu.Unlock()
}

// Fail records msg as the last error and appends it to the log
func (r *Record) Fail(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastError = &msg
	r.appendLocked(msg)
}

// Log appends a timestamped line to the operator log
func (r *Record) Log(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(msg)
}

// Logf is Log with fmt.Sprintf formatting
func (r *Record) Logf(format string, args ...interface{}) {
	r.Log(fmt.Sprintf(format, args...))
}

// ClearLogs empties the operator log
func (r *Record) ClearLogs() {
	r.mu.Lock()
	r.logs.Clear()
	r.mu.Unlock()
}

func (r *Record) appendLocked(msg string) {
	r.logs.Append(fmt.Sprintf("[%s] %s", r.now().Format("15:04:05"), msg))
}
