// Package interfaces defines core interfaces and types for the SKIP key
// provider, separating interface definitions from implementations.
//
// The package provides the shared vocabulary of the system:
//
// # Key Storage
//
// KeyStore: the collaborator interface for durable key records. Implementations
// live in the storage package (in-memory and PostgreSQL). The interface carries
// the operations the lifecycle policy and the synchronizer need: insert, point
// lookup, delete, atomic take (read-and-delete for zeroization), range delete
// by age, pending-record drain per peer, and clearing the pending-sync flag.
//
// # Peer Synchronization
//
// Transport: sends a signed SyncMessage to a peer. The HTTP implementation
// lives in api/synchandler; tests substitute in-process transports.
//
// SyncMessage, KeySyncPayload, MessageType, SyncResult: the wire protocol
// between key providers. MessageType is a closed set; unknown values are only
// representable at the deserialization boundary via ParseMessageType.
//
// # Domain Types
//
// KeyID: 128-bit key identifier, hex-encoded on the wire.
// KeyRecord: a stored symmetric key with ownership and sync state.
// Peer: a configured remote key provider and its liveness state.
package interfaces
