package reconcile

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rotadominios/fleet-sync/internal/store"
)

var (
	ErrVPSNotFound    = errors.New("vps not found")
	ErrMissingAddress = errors.New("vps has no address configured")
)

// ConfigFetchError wraps the classified agent failure that prevented
// reading the live configuration. There is no stale-cache fallback for
// this read.
type ConfigFetchError struct {
	VPSID uuid.UUID
	Err   error
}

func (e *ConfigFetchError) Error() string {
	return fmt.Sprintf("fetch config from vps %s: %v", e.VPSID, e.Err)
}

func (e *ConfigFetchError) Unwrap() error { return e.Err }

// SyncReport is the outcome of one reconciliation run. It is a
// snapshot, never persisted.
type SyncReport struct {
	VPSID           uuid.UUID `json:"vps_id"`
	DatabaseDomains []string  `json:"database_domains"`
	VPSDomains      []string  `json:"vps_domains"`

	// DatabaseDomains minus VPSDomains and vice versa.
	MissingInVPS []string `json:"missing_in_vps"`
	MissingInDB  []string `json:"missing_in_db"`

	// Domains assigned to this vps that lack a tunnel id.
	TunnelFixesNeeded []store.DomainRecord `json:"tunnel_id_fixes_needed"`
	// Unassigned domains whose hostname is live-routed on this vps.
	OrphanedDomains []store.DomainRecord `json:"orphaned_domains"`

	// Diagnostic recommendations, or the fixes actually applied when
	// the run was asked to fix.
	Recommendations []string `json:"recommendations"`

	RawConfig string `json:"-"`
}
