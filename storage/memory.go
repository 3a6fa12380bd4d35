package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quiin/skipd/interfaces"
)

// MemoryStore is an in-process KeyStore. A single mutex guards the record
// table; every operation completes its mutation under the lock, so no
// caller can observe a half-applied write.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[interfaces.KeyID]interfaces.KeyRecord
	log     *slog.Logger

	// now is the clock used for age calculations, injectable for expiry
	// boundary tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	return &MemoryStore{
		records: make(map[interfaces.KeyID]interfaces.KeyRecord),
		log:     log,
		now:     time.Now,
	}
}

// WithClock overrides the store's clock. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Insert stores a record, overwriting any existing record with the same ID.
func (s *MemoryStore) Insert(ctx context.Context, record interfaces.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Material = append([]byte(nil), record.Material...)
	s.records[record.KeyID] = record
	return nil
}

// GetByID returns a copy of the record, or ErrKeyNotFound.
func (s *MemoryStore) GetByID(ctx context.Context, id interfaces.KeyID) (interfaces.KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return interfaces.KeyRecord{}, interfaces.ErrKeyNotFound
	}
	record.Material = append([]byte(nil), record.Material...)
	return record, nil
}

// Delete removes a record. Absent records are not an error.
func (s *MemoryStore) Delete(ctx context.Context, id interfaces.KeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok {
		zeroize(record.Material)
		delete(s.records, id)
	}
	return nil
}

// Take atomically reads and deletes a record under a single lock
// acquisition; a concurrent reader sees either the stored record or
// nothing, never an intermediate state.
func (s *MemoryStore) Take(ctx context.Context, id interfaces.KeyID) (interfaces.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return interfaces.KeyRecord{}, interfaces.ErrKeyNotFound
	}

	out := record
	out.Material = append([]byte(nil), record.Material...)
	zeroize(record.Material)
	delete(s.records, id)
	return out, nil
}

// DeleteOlderThan removes all records created more than age ago.
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-age)
	removed := 0
	for id, record := range s.records {
		if record.CreatedAt.Before(cutoff) {
			zeroize(record.Material)
			delete(s.records, id)
			removed++
		}
	}

	if removed > 0 {
		s.log.Debug("Expired key records removed", "count", removed)
	}
	return removed, nil
}

// FindPendingFor returns copies of all pending records owned by the peer.
func (s *MemoryStore) FindPendingFor(ctx context.Context, peerSystemID string) ([]interfaces.KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []interfaces.KeyRecord
	for _, record := range s.records {
		if record.PendingSync && record.OwnerRemoteSystemID == peerSystemID {
			record.Material = append([]byte(nil), record.Material...)
			pending = append(pending, record)
		}
	}
	return pending, nil
}

// MarkSynced clears the pending-sync flag. Clearing an absent record is a
// no-op: the record may have been zeroized or expired while the push was in
// flight.
func (s *MemoryStore) MarkSynced(ctx context.Context, id interfaces.KeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok {
		record.PendingSync = false
		s.records[id] = record
	}
	return nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
