package cache

import "time"

// Store defines the metadata cache operations. Consumers should depend on
// this interface rather than the concrete *DB type to facilitate testing
// with mocks.
type Store interface {
	Upsert(rec Record) error
	Get(collectionID, key string) (*Record, error)
	List(q ListQuery) ([]Record, int, error)
	AllKeys(collectionID string) (map[string]struct{}, error)
	FindStale(ttl time.Duration) ([]Record, error)
	Stats(ttl time.Duration) (StalenessStats, error)
	Invalidate(collectionID, key string) error
	InvalidateCollection(collectionID string) (int64, error)
	Delete(collectionID, key string) error
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
