package health

import (
	"context"
	"time"

	"github.com/openidx/connector/internal/status"
)

// Prober is a backend that can verify its own connectivity
type Prober interface {
	TestConnection(ctx context.Context) error
}

// ProbeChecker reports a backend as down when its probe fails and degraded
// when the probe is slow
type ProbeChecker struct {
	name        string
	prober      Prober
	critical    bool
	slowLatency time.Duration
}

// NewDirectoryChecker checks the directory service bind (critical)
func NewDirectoryChecker(p Prober) *ProbeChecker {
	return &ProbeChecker{name: "directory", prober: p, critical: true, slowLatency: time.Second}
}

// NewCalendarChecker checks the calendar service (non-critical)
func NewCalendarChecker(p Prober) *ProbeChecker {
	return &ProbeChecker{name: "calendar", prober: p, critical: false, slowLatency: 2 * time.Second}
}

// Name returns the checker name
func (p *ProbeChecker) Name() string {
	return p.name
}

// IsCritical returns true if this component is critical for readiness
func (p *ProbeChecker) IsCritical() bool {
	return p.critical
}

// Check runs the probe and measures its latency
func (p *ProbeChecker) Check(ctx context.Context) ComponentStatus {
	start := time.Now()
	err := p.prober.TestConnection(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentStatus{
			Status:    "down",
			LatencyMS: float64(latency.Milliseconds()),
			Details:   err.Error(),
			CheckedAt: time.Now().UTC().Format(time.RFC3339),
		}
	}

	status := "up"
	details := ""
	if latency > p.slowLatency {
		status = "degraded"
		details = "high latency"
	}

	return ComponentStatus{
		Status:    status,
		LatencyMS: float64(latency.Milliseconds()),
		Details:   details,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// ChannelChecker reports the control channel from the status record. A
// running connector without a channel is degraded; a stopped one is up.
type ChannelChecker struct {
	snapshot func() status.Snapshot
}

// NewChannelChecker creates a checker reading snapshot
func NewChannelChecker(snapshot func() status.Snapshot) *ChannelChecker {
	return &ChannelChecker{snapshot: snapshot}
}

// Name returns the checker name
func (c *ChannelChecker) Name() string {
	return "control_channel"
}

// IsCritical returns false: the status API must stay ready while stopped
func (c *ChannelChecker) IsCritical() bool {
	return false
}

// Check inspects the channel flags
func (c *ChannelChecker) Check(ctx context.Context) ComponentStatus {
	snap := c.snapshot()
	cs := ComponentStatus{
		Status:    "up",
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}

	switch {
	case !snap.Running:
		cs.Details = "stopped"
	case snap.ChannelConnected:
		cs.Details = "connected"
	default:
		cs.Status = "degraded"
		cs.Details = "disconnected"
		if snap.LastError != nil {
			cs.Details = *snap.LastError
		}
	}
	return cs
}
