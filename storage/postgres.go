package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quiin/skipd/interfaces"
)

// Schema is the key record table definition applied by EnsureSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS key_records (
	key_id        TEXT PRIMARY KEY,
	material      BYTEA NOT NULL,
	owner_system  TEXT NOT NULL,
	size_bits     INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	pending_sync  BOOLEAN NOT NULL DEFAULT TRUE,
	received_from TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS key_records_pending_idx
	ON key_records (owner_system) WHERE pending_sync;
CREATE INDEX IF NOT EXISTS key_records_created_idx
	ON key_records (created_at);
`

// PostgresStore is a pgx-backed KeyStore. Row-level atomicity comes from
// single-statement operations; Take uses DELETE ... RETURNING so a
// zeroizing retrieval is one statement.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresStore connects to the database and applies the schema.
func NewPostgresStore(ctx context.Context, connString string, log *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &PostgresStore{pool: pool, log: log}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the key record table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Insert stores a record, overwriting any existing record with the same ID.
func (s *PostgresStore) Insert(ctx context.Context, record interfaces.KeyRecord) error {
	const q = `
INSERT INTO key_records (key_id, material, owner_system, size_bits, created_at, pending_sync, received_from)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (key_id) DO UPDATE SET
	material = EXCLUDED.material,
	owner_system = EXCLUDED.owner_system,
	size_bits = EXCLUDED.size_bits,
	created_at = EXCLUDED.created_at,
	pending_sync = EXCLUDED.pending_sync,
	received_from = EXCLUDED.received_from`
	_, err := s.pool.Exec(ctx, q,
		record.KeyID.String(), record.Material, record.OwnerRemoteSystemID,
		record.SizeBits, record.CreatedAt, record.PendingSync, record.ReceivedFrom)
	if err != nil {
		return fmt.Errorf("failed to insert key record: %w", err)
	}
	return nil
}

// GetByID returns the record, or ErrKeyNotFound.
func (s *PostgresStore) GetByID(ctx context.Context, id interfaces.KeyID) (interfaces.KeyRecord, error) {
	const q = `
SELECT key_id, material, owner_system, size_bits, created_at, pending_sync, received_from
FROM key_records WHERE key_id = $1`
	return s.scanRecord(s.pool.QueryRow(ctx, q, id.String()))
}

// Delete removes a record. Absent records are not an error.
func (s *PostgresStore) Delete(ctx context.Context, id interfaces.KeyID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM key_records WHERE key_id = $1`, id.String()); err != nil {
		return fmt.Errorf("failed to delete key record: %w", err)
	}
	return nil
}

// Take atomically reads and deletes a record in a single statement.
func (s *PostgresStore) Take(ctx context.Context, id interfaces.KeyID) (interfaces.KeyRecord, error) {
	const q = `
DELETE FROM key_records WHERE key_id = $1
RETURNING key_id, material, owner_system, size_bits, created_at, pending_sync, received_from`
	return s.scanRecord(s.pool.QueryRow(ctx, q, id.String()))
}

// DeleteOlderThan removes all records created more than age ago.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM key_records WHERE created_at < now() - $1::interval`,
		fmt.Sprintf("%f seconds", age.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired key records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// FindPendingFor returns all pending records owned by the peer.
func (s *PostgresStore) FindPendingFor(ctx context.Context, peerSystemID string) ([]interfaces.KeyRecord, error) {
	const q = `
SELECT key_id, material, owner_system, size_bits, created_at, pending_sync, received_from
FROM key_records WHERE pending_sync AND owner_system = $1`
	rows, err := s.pool.Query(ctx, q, peerSystemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending key records: %w", err)
	}
	defer rows.Close()

	var pending []interfaces.KeyRecord
	for rows.Next() {
		record, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, record)
	}
	return pending, rows.Err()
}

// MarkSynced clears the pending-sync flag.
func (s *PostgresStore) MarkSynced(ctx context.Context, id interfaces.KeyID) error {
	if _, err := s.pool.Exec(ctx, `UPDATE key_records SET pending_sync = FALSE WHERE key_id = $1`, id.String()); err != nil {
		return fmt.Errorf("failed to mark key record synced: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanRecord(row rowScanner) (interfaces.KeyRecord, error) {
	var (
		record interfaces.KeyRecord
		keyID  string
	)
	err := row.Scan(&keyID, &record.Material, &record.OwnerRemoteSystemID,
		&record.SizeBits, &record.CreatedAt, &record.PendingSync, &record.ReceivedFrom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return interfaces.KeyRecord{}, interfaces.ErrKeyNotFound
		}
		return interfaces.KeyRecord{}, fmt.Errorf("failed to scan key record: %w", err)
	}

	idBytes, err := hex.DecodeString(keyID)
	if err != nil || len(idBytes) != 16 {
		return interfaces.KeyRecord{}, fmt.Errorf("corrupt key_id %q in store", keyID)
	}
	copy(record.KeyID[:], idBytes)
	return record, nil
}
