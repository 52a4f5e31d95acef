package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DomainStatus string

const (
	StatusPending     DomainStatus = "pending"
	StatusPropagating DomainStatus = "propagating"
	StatusLive        DomainStatus = "live"
	StatusError       DomainStatus = "error"
)

// DomainRecord is a routed hostname as the system of record knows it.
// Hostname is the only join key against live vps configuration; the
// reconciliation engine only ever writes the two association fields.
type DomainRecord struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	Hostname  string       `db:"hostname" json:"hostname"`
	VPSID     *uuid.UUID   `db:"vps_id" json:"vps_id"`
	TunnelID  *string      `db:"tunnel_id" json:"tunnel_id"`
	Status    DomainStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

type VPSRecord struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	IPv4       *string    `db:"ipv4" json:"ipv4"`
	AgentURL   *string    `db:"agent_url" json:"agent_url"`
	TunnelID   *string    `db:"tunnel_id" json:"tunnel_id"`
	LastSeenAt *time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

func (v *VPSRecord) HasAddress() bool {
	if v.AgentURL != nil && *v.AgentURL != "" {
		return true
	}
	return v.IPv4 != nil && *v.IPv4 != ""
}

// AgentEndpoint returns the base URL of the vps management agent. An
// explicit agent URL wins, otherwise the well-known agent port on the
// host's IPv4 address.
func (v *VPSRecord) AgentEndpoint(defaultPort int) (string, bool) {
	if v.AgentURL != nil && *v.AgentURL != "" {
		return strings.TrimSuffix(*v.AgentURL, "/"), true
	}
	if v.IPv4 != nil && *v.IPv4 != "" {
		return fmt.Sprintf("http://%s:%d", *v.IPv4, defaultPort), true
	}
	return "", false
}
