// Package controller is the HTTP client for the breakpoint-management
// service: register, listBreakpoints (a hanging GET), updateBreakpoint.
//
// register and updateBreakpoint retry with capped exponential backoff
// via github.com/cenkalti/backoff/v4. listBreakpoints is a long-poll and
// is deliberately not retried by this layer — its timeout is the
// server's own successOnTimeout contract, and a non-2xx there is the
// caller's (Debuglet's) cue to re-register.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/liveprobe/agent/internal/types"
)

// RegisterResponse is the register endpoint's response shape.
type RegisterResponse struct {
	Debuggee struct {
		ID         string `json:"id"`
		IsDisabled bool   `json:"isDisabled"`
	} `json:"debuggee"`
	ActivePeriodSec int `json:"activePeriodSec"`
}

// ListBreakpointsResponse is the hanging-GET response shape. A missing
// or invalid payload is treated by the caller as "no breakpoints", not
// as an error.
type ListBreakpointsResponse struct {
	Breakpoints  []*types.Breakpoint `json:"breakpoints"`
	WaitExpired  bool                `json:"waitExpired"`
	Kind         string              `json:"kind"`
}

// Client is the Controller HTTP client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	backoff    func() backoff.BackOff
}

// New builds a Client against baseURL (e.g.
// "https://clouddebugger.googleapis.com/v2/controller").
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		backoff:    newRetryPolicy,
	}
}

func newRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

// Register posts debuggee and retries transport errors, 5xx and 429
// responses with capped exponential backoff. Any other 4xx response is
// returned at once without a retry.
func (c *Client) Register(ctx context.Context, debuggee *types.Debuggee) (*RegisterResponse, error) {
	body, err := json.Marshal(map[string]interface{}{"debuggee": debuggee})
	if err != nil {
		return nil, err
	}

	var out *RegisterResponse
	op := func() error {
		resp, err := c.post(ctx, "/debuggees/register", body)
		if err != nil {
			return err
		}
		var decoded RegisterResponse
		if err := json.Unmarshal(resp, &decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("controller: malformed register response: %w", err))
		}
		out = &decoded
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.backoff(), ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

// ListBreakpoints issues the hanging GET with successOnTimeout=true, so
// a server-side timeout with no new breakpoints comes back as a normal
// 2xx response rather than an error. Not retried: the caller treats any
// error as a cue to re-register.
func (c *Client) ListBreakpoints(ctx context.Context, debuggeeID string) (*ListBreakpointsResponse, error) {
	url := fmt.Sprintf("%s/debuggees/%s/breakpoints?successOnTimeout=true", c.baseURL, debuggeeID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("controller: listBreakpoints: status %d", resp.StatusCode)
	}

	var out ListBreakpointsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Missing/invalid payload is "no breakpoints", not an error.
		return &ListBreakpointsResponse{}, nil
	}
	return &out, nil
}

// UpdateBreakpoint PUTs bp's final state, retrying with capped backoff
// under the same rule as Register (4xx other than 429 is not retried).
// Sent exactly once per breakpoint id by the caller (Debuglet).
func (c *Client) UpdateBreakpoint(ctx context.Context, debuggeeID string, bp *types.Breakpoint) error {
	body, err := json.Marshal(map[string]interface{}{"debuggeeId": debuggeeID, "breakpoint": bp})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("/debuggees/%s/breakpoints/%s", debuggeeID, bp.ID)

	op := func() error {
		_, err := c.put(ctx, url, body)
		return err
	}

	return backoff.Retry(op, backoff.WithContext(c.backoff(), ctx))
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) put(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err // transient: retry
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(fmt.Errorf("controller: %s %s: status %d", method, path, resp.StatusCode))
		}
		return nil, fmt.Errorf("controller: %s %s: status %d", method, path, resp.StatusCode)
	}

	return buf.Bytes(), nil
}
