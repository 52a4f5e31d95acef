package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("record not found")

// Store is the desired-state surface consumed by the reconciliation
// engine and the health poller. The batch updates report affected row
// counts so that re-applying an already-applied fix reads as zero.
type Store interface {
	VPS(ctx context.Context, id uuid.UUID) (*VPSRecord, error)
	Domain(ctx context.Context, id uuid.UUID) (*DomainRecord, error)

	// DomainsForReconcile returns domains assigned to the vps together
	// with all unassigned domains. The unassigned rows are the orphan
	// detection candidates; a vps-scoped query alone cannot find them.
	DomainsForReconcile(ctx context.Context, vpsID uuid.UUID) ([]DomainRecord, error)

	SetDomainTunnels(ctx context.Context, ids []uuid.UUID, tunnelID string) (int64, error)
	AttachDomains(ctx context.Context, ids []uuid.UUID, vpsID uuid.UUID, tunnelID *string) (int64, error)
	TouchVPSLastSeen(ctx context.Context, id uuid.UUID, seen time.Time) error

	Close() error
}
