package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotadominios/fleet-sync/internal/metrics"
)

const defaultTimeout = 10 * time.Second

// caddyfileReadCommand is the only config-read command the agent's
// allowlist accepts, bounded to the first 120 lines.
const caddyfileReadCommand = `sed -n '1,120p' /opt/app/Caddyfile`

type Httper interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client executes authenticated operations against a single vps
// management agent. The timeout is enforced with request cancellation,
// so the in-flight request is aborted, not abandoned.
type Client struct {
	base    string
	token   string
	timeout time.Duration
	http    Httper
	metrics *metrics.Metrics
}

func New(base, token string, timeout time.Duration, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:    base,
		token:   token,
		timeout: timeout,
		http:    &http.Client{},
		metrics: m,
	}
}

// Execute issues one request against the agent and returns the raw
// response body. Failures come back as a classified *Error.
func (c *Client) Execute(ctx context.Context, method, path string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal agent request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cerr := classify(ctx, err)
		c.metrics.IncAgentRequest(false, cerr.Status)
		return nil, cerr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		cerr := classify(ctx, err)
		c.metrics.IncAgentRequest(false, cerr.Status)
		return nil, cerr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.IncAgentRequest(false, resp.StatusCode)
		return nil, &Error{Kind: KindHTTP, Status: resp.StatusCode, Body: string(data)}
	}

	c.metrics.IncAgentRequest(true, resp.StatusCode)
	return data, nil
}

type StatusResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime,omitempty"`
}

type Host struct {
	Hostname   string `json:"hostname"`
	Upstream   string `json:"upstream,omitempty"`
	Configured bool   `json:"configured"`
}

type SyncResult struct {
	Updated []string `json:"updated"`
	Errors  []string `json:"errors"`
}

type RestartResult struct {
	Restarted []string `json:"restarted"`
	Errors    []string `json:"errors"`
}

type ConfigResponse struct {
	Config string `json:"config"`
	Valid  bool   `json:"valid"`
}

type ExecResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.executeJSON(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *Client) Hosts(ctx context.Context) ([]Host, error) {
	var out []Host
	err := c.executeJSON(ctx, http.MethodGet, "/caddy/hosts", nil, &out)
	return out, err
}

// SyncHosts and RestartServices mutate remote state. The agent may
// still apply the change after our timeout fires, so callers must not
// retry these automatically.
func (c *Client) SyncHosts(ctx context.Context, hosts []string) (SyncResult, error) {
	var out SyncResult
	err := c.executeJSON(ctx, http.MethodPost, "/caddy/sync", map[string][]string{"hosts": hosts}, &out)
	return out, err
}

func (c *Client) RestartServices(ctx context.Context, services []string) (RestartResult, error) {
	var out RestartResult
	err := c.executeJSON(ctx, http.MethodPost, "/services/restart", map[string][]string{"services": services}, &out)
	return out, err
}

func (c *Client) GetConfig(ctx context.Context) (ConfigResponse, error) {
	var out ConfigResponse
	err := c.executeJSON(ctx, http.MethodGet, "/caddy/config", nil, &out)
	return out, err
}

func (c *Client) UpdateConfig(ctx context.Context, config string) error {
	var out struct {
		Updated bool `json:"updated"`
	}
	return c.executeJSON(ctx, http.MethodPut, "/caddy/config", map[string]string{"config": config}, &out)
}

func (c *Client) Exec(ctx context.Context, command string) (ExecResult, error) {
	var out ExecResult
	err := c.executeJSON(ctx, http.MethodPost, "/exec-command", map[string]string{"command": command}, &out)
	return out, err
}

// ReadCaddyfile captures the live reverse-proxy configuration text via
// the agent's command endpoint.
func (c *Client) ReadCaddyfile(ctx context.Context) (string, error) {
	res, err := c.Exec(ctx, caddyfileReadCommand)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("agent exec failed: %s", res.Error)
	}
	return res.Output, nil
}

func (c *Client) executeJSON(ctx context.Context, method, path string, body, out any) error {
	data, err := c.Execute(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse agent response for %s: %w", path, err)
	}
	return nil
}
