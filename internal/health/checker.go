package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/rotadominios/fleet-sync/internal/agent"
	"github.com/rotadominios/fleet-sync/internal/store"
)

// tunnelCNAMESuffix is the ingress target cloudflared tunnels route
// hostnames through.
const tunnelCNAMESuffix = ".cfargotunnel.com."

// Snapshot is the last-known health of one domain.
type Snapshot struct {
	DNSOk     bool              `json:"dnsOk"`
	TunnelOk  *bool             `json:"tunnelOk,omitempty"`
	AgentOk   *bool             `json:"agentOk,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	CheckedAt time.Time         `json:"checkedAt"`
}

type Checker interface {
	Check(ctx context.Context, d *store.DomainRecord) (Snapshot, error)
}

// AgentProber is the slice of the agent registry the checker needs.
type AgentProber interface {
	Status(ctx context.Context, vps *store.VPSRecord) (agent.StatusResponse, error)
}

// ZoneChecker looks up the authoritative nameservers for a zone. May
// be nil when no provider credential is configured.
type ZoneChecker interface {
	Nameservers(ctx context.Context, zone string) ([]string, error)
}

type checker struct {
	resolver string
	store    store.Store
	agents   AgentProber
	zones    ZoneChecker
}

func NewChecker(resolver string, st store.Store, agents AgentProber, zones ZoneChecker) Checker {
	return &checker{
		resolver: resolver,
		store:    st,
		agents:   agents,
		zones:    zones,
	}
}

// Check performs one health fetch for the domain. A returned error
// marks the fetch as retryable unless it classifies as an
// authentication failure.
func (c *checker) Check(ctx context.Context, d *store.DomainRecord) (Snapshot, error) {
	snap := Snapshot{CheckedAt: time.Now(), Details: map[string]string{}}

	addrs, err := c.lookupA(ctx, d.Hostname)
	if err != nil {
		snap.Details["dns"] = err.Error()
		return snap, fmt.Errorf("dns lookup %s: %w", d.Hostname, err)
	}
	snap.DNSOk = len(addrs) > 0
	if len(addrs) > 0 {
		snap.Details["dns"] = strings.Join(addrs, ",")
	}

	if d.TunnelID != nil && *d.TunnelID != "" {
		routed := c.tunnelRouted(ctx, d.Hostname)
		snap.TunnelOk = &routed
	}

	// Nameserver detail is informational only; a provider lookup
	// failure never fails the poll.
	if c.zones != nil {
		if ns, err := c.zones.Nameservers(ctx, apexZone(d.Hostname)); err == nil && len(ns) > 0 {
			snap.Details["nameservers"] = strings.Join(ns, ",")
		}
	}

	if d.VPSID != nil && c.store != nil && c.agents != nil {
		vps, err := c.store.VPS(ctx, *d.VPSID)
		if err != nil {
			snap.Details["agent"] = err.Error()
			return snap, fmt.Errorf("load vps %s: %w", *d.VPSID, err)
		}
		if vps.HasAddress() {
			status, err := c.agents.Status(ctx, vps)
			ok := err == nil
			snap.AgentOk = &ok
			if err != nil {
				snap.Details["agent"] = err.Error()
				return snap, fmt.Errorf("agent status for vps %s: %w", vps.ID, err)
			}
			snap.Details["agent"] = status.Status
		}
	}

	return snap, nil
}

func (c *checker) lookupA(ctx context.Context, host string) ([]string, error) {
	cli := &dns.Client{Timeout: 5 * time.Second}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	r, _, err := cli.ExchangeContext(ctx, m, c.resolver)
	if err != nil {
		return nil, err
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns rcode %s", dns.RcodeToString[r.Rcode])
	}

	var addrs []string
	for _, ans := range r.Answer {
		if a, ok := ans.(*dns.A); ok {
			addrs = append(addrs, a.A.String())
		}
	}
	return addrs, nil
}

// tunnelRouted reports whether the hostname resolves through a
// cloudflared tunnel CNAME.
func (c *checker) tunnelRouted(ctx context.Context, host string) bool {
	cli := &dns.Client{Timeout: 5 * time.Second}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeCNAME)

	r, _, err := cli.ExchangeContext(ctx, m, c.resolver)
	if err != nil || r.Rcode != dns.RcodeSuccess {
		return false
	}
	for _, ans := range r.Answer {
		if cname, ok := ans.(*dns.CNAME); ok && strings.HasSuffix(cname.Target, tunnelCNAMESuffix) {
			return true
		}
	}
	return false
}

func apexZone(host string) string {
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) < 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
