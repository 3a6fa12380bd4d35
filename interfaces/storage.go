package interfaces

import (
	"context"
	"time"
)

// KeyStore is the durable mapping from key ID to key record.
//
// Implementations must be safe for concurrent use: records are read and
// mutated from the key-sync loop, the heartbeat loop and inbound request
// handlers with no ordering relationship between them. Every method either
// completes its mutation atomically or returns an error with no partial
// write observable.
type KeyStore interface {
	// Insert stores a new record. Inserting an existing key ID overwrites it;
	// sync is idempotent by key ID.
	Insert(ctx context.Context, record KeyRecord) error

	// GetByID returns a copy of the record, or ErrKeyNotFound.
	GetByID(ctx context.Context, id KeyID) (KeyRecord, error)

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, id KeyID) error

	// Take atomically reads and deletes a record, so a zeroizing retrieval is
	// a single observable state transition. Returns ErrKeyNotFound if absent.
	Take(ctx context.Context, id KeyID) (KeyRecord, error)

	// DeleteOlderThan removes every record created more than age ago and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int, error)

	// FindPendingFor returns copies of all records with PendingSync set whose
	// owner matches the given peer system ID.
	FindPendingFor(ctx context.Context, peerSystemID string) ([]KeyRecord, error)

	// MarkSynced clears the pending-sync flag after a confirmed push.
	MarkSynced(ctx context.Context, id KeyID) error
}

// Transport delivers a signed sync message to a peer. Implementations must
// honor the context deadline; the synchronizer bounds every send.
type Transport interface {
	// Send delivers the message and returns nil once the peer acknowledged it
	// at the protocol level. It returns ErrMessageRejected (possibly wrapped)
	// when the peer received the message but rejected it; any other error is
	// a transport failure and eligible for retry.
	Send(ctx context.Context, peer Peer, message *SyncMessage) error
}
