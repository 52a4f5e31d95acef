package health

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/rotadominios/fleet-sync/internal/metrics"
)

const snapshotPrefix = "health:"

// Cache persists last-known health snapshots so a restarted service
// can report something while the first polls are in flight.
type Cache struct {
	db      *badger.DB
	metrics *metrics.Metrics
}

func NewCache(path string, m *metrics.Metrics) (*Cache, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable Badger's internal logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &Cache{db: db, metrics: m}, nil
}

func (c *Cache) Get(domainID uuid.UUID) (Snapshot, bool, error) {
	var snap Snapshot
	found := false

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(domainID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &snap); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	c.metrics.IncCacheRequest("read", err == nil)
	return snap, found, err
}

func (c *Cache) Put(domainID uuid.UUID, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		c.metrics.IncCacheRequest("update", false)
		return err
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(domainID), data)
	})
	c.metrics.IncCacheRequest("update", err == nil)
	return err
}

func (c *Cache) Delete(domainID uuid.UUID) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(domainID))
	})
	c.metrics.IncCacheRequest("delete", err == nil)
	return err
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func snapshotKey(domainID uuid.UUID) []byte {
	return []byte(snapshotPrefix + domainID.String())
}
