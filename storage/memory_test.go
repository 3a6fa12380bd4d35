package storage

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quiin/skipd/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore() *MemoryStore {
	return NewMemoryStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newRecord(t *testing.T, owner string, createdAt time.Time) interfaces.KeyRecord {
	t.Helper()

	var id interfaces.KeyID
	_, err := rand.Read(id[:])
	require.NoError(t, err)

	material := make([]byte, 32)
	_, err = rand.Read(material)
	require.NoError(t, err)

	return interfaces.KeyRecord{
		KeyID:               id,
		Material:            material,
		OwnerRemoteSystemID: owner,
		SizeBits:            256,
		CreatedAt:           createdAt,
		PendingSync:         true,
	}
}

func TestInsertGetDelete(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	record := newRecord(t, "KP_Client", time.Now())
	require.NoError(t, s.Insert(ctx, record))

	got, err := s.GetByID(ctx, record.KeyID)
	require.NoError(t, err)
	assert.Equal(t, record.Material, got.Material)
	assert.True(t, got.PendingSync)

	require.NoError(t, s.Delete(ctx, record.KeyID))
	_, err = s.GetByID(ctx, record.KeyID)
	require.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	// Deleting again is a no-op.
	require.NoError(t, s.Delete(ctx, record.KeyID))
}

func TestTakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	record := newRecord(t, "KP_Client", time.Now())
	require.NoError(t, s.Insert(ctx, record))

	got, err := s.Take(ctx, record.KeyID)
	require.NoError(t, err)
	assert.Equal(t, record.Material, got.Material)

	_, err = s.Take(ctx, record.KeyID)
	require.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestGetReturnsCopyOfMaterial(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	record := newRecord(t, "KP_Client", time.Now())
	original := append([]byte(nil), record.Material...)
	require.NoError(t, s.Insert(ctx, record))

	got, err := s.GetByID(ctx, record.KeyID)
	require.NoError(t, err)
	got.Material[0] ^= 0xff

	again, err := s.GetByID(ctx, record.KeyID)
	require.NoError(t, err)
	assert.Equal(t, original, again.Material)
}

func TestDeleteOlderThanBoundary(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	s := testStore().WithClock(func() time.Time { return now })

	expiry := time.Hour
	justInside := newRecord(t, "KP_Client", now.Add(-expiry+time.Second))
	justOutside := newRecord(t, "KP_Client", now.Add(-expiry-time.Second))
	require.NoError(t, s.Insert(ctx, justInside))
	require.NoError(t, s.Insert(ctx, justOutside))

	removed, err := s.DeleteOlderThan(ctx, expiry)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.GetByID(ctx, justInside.KeyID)
	assert.NoError(t, err)
	_, err = s.GetByID(ctx, justOutside.KeyID)
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestFindPendingFor(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	forClient := newRecord(t, "KP_Client", time.Now())
	forOther := newRecord(t, "KP_Other", time.Now())
	synced := newRecord(t, "KP_Client", time.Now())
	synced.PendingSync = false

	require.NoError(t, s.Insert(ctx, forClient))
	require.NoError(t, s.Insert(ctx, forOther))
	require.NoError(t, s.Insert(ctx, synced))

	pending, err := s.FindPendingFor(ctx, "KP_Client")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, forClient.KeyID, pending[0].KeyID)
}

func TestMarkSynced(t *testing.T) {
	ctx := context.Background()
	s := testStore()

	record := newRecord(t, "KP_Client", time.Now())
	require.NoError(t, s.Insert(ctx, record))
	require.NoError(t, s.MarkSynced(ctx, record.KeyID))

	got, err := s.GetByID(ctx, record.KeyID)
	require.NoError(t, err)
	assert.False(t, got.PendingSync)

	pending, err := s.FindPendingFor(ctx, "KP_Client")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Marking an absent record is a no-op: it may have been zeroized while
	// the push was in flight.
	require.NoError(t, s.MarkSynced(ctx, newRecord(t, "KP_Client", time.Now()).KeyID))
}

func TestFactorySchemes(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(slog.New(slog.NewTextHandler(io.Discard, nil)))

	store, err := f.StoreFor(ctx, "mem://")
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, store)

	_, err = f.StoreFor(ctx, "redis://localhost:6379")
	require.Error(t, err)
}
