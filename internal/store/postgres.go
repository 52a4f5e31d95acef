package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rotadominios/fleet-sync/internal/metrics"
)

// Postgres implements Store on the dashboard's relational schema.
// Expected tables (owned and migrated by the dashboard, not here):
//
//	vps_hosts(id uuid pk, name text, ipv4 text, agent_url text,
//	          tunnel_id text, last_seen_at timestamptz,
//	          created_at timestamptz, updated_at timestamptz)
//	domains(id uuid pk, hostname text, vps_id uuid null,
//	        tunnel_id text null, status text,
//	        created_at timestamptz, updated_at timestamptz)
type Postgres struct {
	db      *sqlx.DB
	metrics *metrics.Metrics
}

func NewPostgres(databaseURL string, m *metrics.Metrics) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{db: db, metrics: m}, nil
}

func (p *Postgres) VPS(ctx context.Context, id uuid.UUID) (*VPSRecord, error) {
	var v VPSRecord
	query := `
        SELECT id, name, ipv4, agent_url, tunnel_id, last_seen_at, created_at, updated_at
        FROM vps_hosts
        WHERE id = $1`
	err := p.db.GetContext(ctx, &v, query, id)
	p.metrics.IncStoreRequest("read", err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (p *Postgres) Domain(ctx context.Context, id uuid.UUID) (*DomainRecord, error) {
	var d DomainRecord
	query := `
        SELECT id, hostname, vps_id, tunnel_id, status, created_at, updated_at
        FROM domains
        WHERE id = $1`
	err := p.db.GetContext(ctx, &d, query, id)
	p.metrics.IncStoreRequest("read", err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *Postgres) DomainsForReconcile(ctx context.Context, vpsID uuid.UUID) ([]DomainRecord, error) {
	domains := []DomainRecord{}
	query := `
        SELECT id, hostname, vps_id, tunnel_id, status, created_at, updated_at
        FROM domains
        WHERE vps_id = $1 OR vps_id IS NULL
        ORDER BY hostname`
	err := p.db.SelectContext(ctx, &domains, query, vpsID)
	p.metrics.IncStoreRequest("read", err == nil)
	if err != nil {
		return nil, err
	}
	return domains, nil
}

func (p *Postgres) SetDomainTunnels(ctx context.Context, ids []uuid.UUID, tunnelID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
        UPDATE domains
        SET tunnel_id = $1, updated_at = now()
        WHERE id = ANY($2) AND tunnel_id IS DISTINCT FROM $1`
	res, err := p.db.ExecContext(ctx, query, tunnelID, pq.Array(ids))
	p.metrics.IncStoreRequest("update", err == nil)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) AttachDomains(ctx context.Context, ids []uuid.UUID, vpsID uuid.UUID, tunnelID *string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
        UPDATE domains
        SET vps_id = $1, tunnel_id = $2, updated_at = now()
        WHERE id = ANY($3) AND (vps_id IS DISTINCT FROM $1 OR tunnel_id IS DISTINCT FROM $2)`
	res, err := p.db.ExecContext(ctx, query, vpsID, tunnelID, pq.Array(ids))
	p.metrics.IncStoreRequest("update", err == nil)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) TouchVPSLastSeen(ctx context.Context, id uuid.UUID, seen time.Time) error {
	query := `UPDATE vps_hosts SET last_seen_at = $1, updated_at = now() WHERE id = $2`
	_, err := p.db.ExecContext(ctx, query, seen, id)
	p.metrics.IncStoreRequest("update", err == nil)
	return err
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
