package calendar

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openidx/connector/internal/common/resilience"
)

// EWSClient talks to an Exchange Web Services endpoint
type EWSClient struct {
	cfg    Config
	client *resilience.ResilientHTTPClient
	logger *zap.Logger
}

// NewEWSClient creates a new EWS client. Requests go through cb.
func NewEWSClient(cfg Config, cb *resilience.CircuitBreaker, logger *zap.Logger) *EWSClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.SkipTLSVerify},
		},
	}

	return &EWSClient{
		cfg:    cfg,
		client: resilience.NewResilientHTTPClient(httpClient, cb),
		logger: logger.With(zap.String("component", "ews-client")),
	}
}

// TestConnection fetches the calendar folder id as a connectivity check
func (c *EWSClient) TestConnection(ctx context.Context) error {
	if _, err := c.call(ctx, []byte(getFolderRequest), c.cfg.Username, c.cfg.Password); err != nil {
		return err
	}
	c.logger.Info("EWS connection successful", zap.String("url", c.cfg.URL))
	return nil
}

// GetEvents returns the calendar events of q.Mailbox inside the query window
func (c *EWSClient) GetEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	if q.Mailbox == "" {
		return nil, fmt.Errorf("mailbox is required")
	}

	username, password := c.cfg.Username, c.cfg.Password
	if q.Username != "" && q.Password != "" {
		username, password = q.Username, q.Password
	}

	body, err := c.call(ctx, buildFindItem(q.Mailbox, q.Start, q.End), username, password)
	if err != nil {
		return nil, err
	}

	events, err := parseFindItem(body)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Fetched calendar events",
		zap.String("mailbox", q.Mailbox),
		zap.Int("events", len(events)))
	return events, nil
}

// call posts a SOAP envelope and returns the response body of a 2xx reply
func (c *EWSClient) call(ctx context.Context, envelope []byte, username, password string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to build EWS request: %w", err)
	}
	req.SetBasicAuth(username, password)
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	// A 5xx reply comes back with both resp and err set
	resp, err := c.client.Do(req)
	if resp == nil {
		return nil, fmt.Errorf("%w: EWS request failed: %w", ErrCalendarUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read EWS response: %v", ErrCalendarUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("EWS request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 512)))
		return nil, fmt.Errorf("%w: EWS returned %s", ErrCalendarUnavailable, resp.Status)
	}
	return body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
