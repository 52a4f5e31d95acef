package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rotadominios/fleet-sync/internal/metrics"
	"github.com/rotadominios/fleet-sync/internal/store"
)

var ErrNoEndpoint = errors.New("vps has no agent endpoint")

// Registry hands out per-vps clients. Reuse is an optimization only;
// a fresh client for the same vps behaves identically. The registry is
// passed by reference to its consumers, there is no process-global
// instance.
type Registry struct {
	token   string
	timeout time.Duration
	port    int
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[uuid.UUID]*Client
}

func NewRegistry(token string, timeout time.Duration, port int, m *metrics.Metrics) *Registry {
	return &Registry{
		token:   token,
		timeout: timeout,
		port:    port,
		metrics: m,
		clients: make(map[uuid.UUID]*Client),
	}
}

func (r *Registry) For(vps *store.VPSRecord) (*Client, error) {
	endpoint, ok := vps.AgentEndpoint(r.port)
	if !ok {
		return nil, ErrNoEndpoint
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[vps.ID]; ok && c.base == endpoint {
		return c, nil
	}
	c := New(endpoint, r.token, r.timeout, r.metrics)
	r.clients[vps.ID] = c
	return c, nil
}

func (r *Registry) ReadCaddyfile(ctx context.Context, vps *store.VPSRecord) (string, error) {
	c, err := r.For(vps)
	if err != nil {
		return "", err
	}
	return c.ReadCaddyfile(ctx)
}

func (r *Registry) Status(ctx context.Context, vps *store.VPSRecord) (StatusResponse, error) {
	c, err := r.For(vps)
	if err != nil {
		return StatusResponse{}, err
	}
	return c.Status(ctx)
}
