package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rotadominios/fleet-sync/internal/caddyfile"
	"github.com/rotadominios/fleet-sync/internal/metrics"
	"github.com/rotadominios/fleet-sync/internal/store"
)

// Agents is the slice of the agent registry the engine needs.
type Agents interface {
	ReadCaddyfile(ctx context.Context, vps *store.VPSRecord) (string, error)
}

type Engine interface {
	Reconcile(ctx context.Context, vpsID uuid.UUID, applyFixes bool) (*SyncReport, error)
}

type engine struct {
	store   store.Store
	agents  Agents
	fixer   *Fixer
	metrics *metrics.Metrics
}

func NewEngine(st store.Store, agents Agents, m *metrics.Metrics) Engine {
	return &engine{
		store:   st,
		agents:  agents,
		fixer:   NewFixer(st, m),
		metrics: m,
	}
}

// Reconcile compares the desired state held in the store against the
// live configuration on the vps and, when asked, applies corrective
// writes. Two concurrent fixing runs against the same vps are not
// serialized here; callers own that.
func (e *engine) Reconcile(ctx context.Context, vpsID uuid.UUID, applyFixes bool) (*SyncReport, error) {
	start := time.Now()
	defer func() {
		e.metrics.SetSyncDuration(time.Since(start))
	}()

	vps, err := e.store.VPS(ctx, vpsID)
	if err != nil {
		e.metrics.IncSyncRun(false)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVPSNotFound, vpsID)
		}
		return nil, fmt.Errorf("load vps %s: %w", vpsID, err)
	}
	if !vps.HasAddress() {
		e.metrics.IncSyncRun(false)
		return nil, fmt.Errorf("%w: %s", ErrMissingAddress, vpsID)
	}

	// Assigned domains plus all unassigned ones; the latter are the
	// orphan candidates.
	records, err := e.store.DomainsForReconcile(ctx, vpsID)
	if err != nil {
		e.metrics.IncSyncRun(false)
		return nil, fmt.Errorf("load domains for vps %s: %w", vpsID, err)
	}

	raw, err := e.agents.ReadCaddyfile(ctx, vps)
	if err != nil {
		e.metrics.IncSyncRun(false)
		return nil, &ConfigFetchError{VPSID: vpsID, Err: err}
	}

	vpsDomains := caddyfile.Hostnames(raw)
	report := buildReport(vpsID, records, vpsDomains)
	report.RawConfig = raw

	if applyFixes {
		report.Recommendations = e.fixer.Apply(ctx, vps, report)
	}

	// The config fetch succeeded, so the vps was reachable now; record
	// that regardless of how fix application went.
	if err := e.store.TouchVPSLastSeen(ctx, vpsID, time.Now()); err != nil {
		slog.Warn("fail update vps last seen", "vps", vpsID, "error", err)
	}

	e.metrics.IncSyncRun(true)
	e.metrics.SetReportDomains("database", len(report.DatabaseDomains))
	e.metrics.SetReportDomains("vps", len(report.VPSDomains))
	e.metrics.SetReportDomains("missing_in_vps", len(report.MissingInVPS))
	e.metrics.SetReportDomains("missing_in_db", len(report.MissingInDB))
	slog.Info("reconcile complete",
		"vps", vpsID,
		"database_domains", len(report.DatabaseDomains),
		"vps_domains", len(report.VPSDomains),
		"missing_in_vps", len(report.MissingInVPS),
		"missing_in_db", len(report.MissingInDB),
		"orphans", len(report.OrphanedDomains),
		"apply_fixes", applyFixes)
	return report, nil
}

func buildReport(vpsID uuid.UUID, records []store.DomainRecord, vpsDomains []string) *SyncReport {
	vpsSet := make(map[string]bool, len(vpsDomains))
	for _, h := range vpsDomains {
		vpsSet[h] = true
	}

	dbDomains := []string{}
	dbSet := make(map[string]bool, len(records))
	for _, r := range records {
		if !dbSet[r.Hostname] {
			dbSet[r.Hostname] = true
			dbDomains = append(dbDomains, r.Hostname)
		}
	}

	missingInVPS := []string{}
	for _, h := range dbDomains {
		if !vpsSet[h] {
			missingInVPS = append(missingInVPS, h)
		}
	}
	missingInDB := []string{}
	for _, h := range vpsDomains {
		if !dbSet[h] {
			missingInDB = append(missingInDB, h)
		}
	}

	tunnelFixes := []store.DomainRecord{}
	orphans := []store.DomainRecord{}
	for _, r := range records {
		switch {
		case r.VPSID != nil && *r.VPSID == vpsID && (r.TunnelID == nil || *r.TunnelID == ""):
			tunnelFixes = append(tunnelFixes, r)
		case r.VPSID == nil && vpsSet[r.Hostname]:
			orphans = append(orphans, r)
		}
	}

	report := &SyncReport{
		VPSID:             vpsID,
		DatabaseDomains:   dbDomains,
		VPSDomains:        vpsDomains,
		MissingInVPS:      missingInVPS,
		MissingInDB:       missingInDB,
		TunnelFixesNeeded: tunnelFixes,
		OrphanedDomains:   orphans,
	}
	report.Recommendations = recommendations(report)
	return report
}

// recommendations derives operator-readable strings from the non-empty
// diff categories, in fixed order.
func recommendations(r *SyncReport) []string {
	recs := []string{}
	if len(r.MissingInVPS) > 0 {
		recs = append(recs, fmt.Sprintf("%d domain(s) in the database are not routed on the vps: %s",
			len(r.MissingInVPS), strings.Join(r.MissingInVPS, ", ")))
	}
	if len(r.MissingInDB) > 0 {
		recs = append(recs, fmt.Sprintf("%d domain(s) routed on the vps have no database record: %s",
			len(r.MissingInDB), strings.Join(r.MissingInDB, ", ")))
	}
	if len(r.TunnelFixesNeeded) > 0 {
		recs = append(recs, fmt.Sprintf("%d domain(s) assigned to this vps are missing a tunnel id: %s",
			len(r.TunnelFixesNeeded), strings.Join(hostnames(r.TunnelFixesNeeded), ", ")))
	}
	if len(r.OrphanedDomains) > 0 {
		recs = append(recs, fmt.Sprintf("%d unassigned domain(s) are live-routed on this vps: %s",
			len(r.OrphanedDomains), strings.Join(hostnames(r.OrphanedDomains), ", ")))
	}
	return recs
}

func hostnames(records []store.DomainRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Hostname)
	}
	return out
}
