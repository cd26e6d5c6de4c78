package resilience

import (
	"fmt"
	"net/http"
)

// ResilientHTTPClient sends requests through a circuit breaker
type ResilientHTTPClient struct {
	client *http.Client
	cb     *CircuitBreaker
}

// NewResilientHTTPClient wraps client with cb
func NewResilientHTTPClient(client *http.Client, cb *CircuitBreaker) *ResilientHTTPClient {
	return &ResilientHTTPClient{
		client: client,
		cb:     cb,
	}
}

// Do executes req through the breaker. Transport errors and 5xx replies count
// as failures; 4xx replies (bad credentials, unknown mailbox) do not, since
// they say nothing about backend health. On a 5xx reply both the response and
// an error are returned and the caller owns the body.
func (rc *ResilientHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := rc.cb.Execute(func() error {
		var e error
		resp, e = rc.client.Do(req)
		if e != nil {
			return e
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("server error: HTTP %d", resp.StatusCode)
		}
		return nil
	})
	return resp, err
}

// Breaker returns the underlying circuit breaker
func (rc *ResilientHTTPClient) Breaker() *CircuitBreaker {
	return rc.cb
}
