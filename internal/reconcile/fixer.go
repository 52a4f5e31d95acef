package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rotadominios/fleet-sync/internal/metrics"
	"github.com/rotadominios/fleet-sync/internal/store"
)

// Fixer is the only part of the reconciliation core allowed to mutate
// the desired-state store, and it only ever writes the vps and tunnel
// association fields. Re-applying an already-applied fix set is a
// no-op that reports zero changes.
type Fixer struct {
	store   store.Store
	metrics *metrics.Metrics
}

func NewFixer(st store.Store, m *metrics.Metrics) *Fixer {
	return &Fixer{store: st, metrics: m}
}

// Apply runs the two corrective batches and returns descriptions of
// the fixes that actually landed. The batches are independent: a
// failure in one is logged and dropped from the result, never raised,
// and never blocks the other. A crash between the batches leaves a
// partially-fixed state that the next run detects and finishes.
func (f *Fixer) Apply(ctx context.Context, vps *store.VPSRecord, report *SyncReport) []string {
	applied := []string{}

	if len(report.TunnelFixesNeeded) > 0 {
		if vps.TunnelID == nil || *vps.TunnelID == "" {
			slog.Debug("skip tunnel backfill, vps has no tunnel", "vps", vps.ID)
		} else {
			n, err := f.store.SetDomainTunnels(ctx, recordIDs(report.TunnelFixesNeeded), *vps.TunnelID)
			if err != nil {
				slog.Error("fail backfill domain tunnel ids", "vps", vps.ID, "error", err)
			} else if n > 0 {
				f.metrics.IncFixesApplied("tunnel", int(n))
				applied = append(applied, fmt.Sprintf("set tunnel %s on %d domain(s)", *vps.TunnelID, n))
			}
		}
	}

	if len(report.OrphanedDomains) > 0 {
		n, err := f.store.AttachDomains(ctx, recordIDs(report.OrphanedDomains), vps.ID, vps.TunnelID)
		if err != nil {
			slog.Error("fail attach orphaned domains", "vps", vps.ID, "error", err)
		} else if n > 0 {
			f.metrics.IncFixesApplied("orphan", int(n))
			applied = append(applied, fmt.Sprintf("attached %d orphaned domain(s) to vps %s", n, vps.ID))
		}
	}

	return applied
}

func recordIDs(records []store.DomainRecord) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
