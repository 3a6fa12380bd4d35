// Package provider implements the key lifecycle policy of a SKIP key
// provider: generation under size constraints, retrieval with optional
// zeroize-on-read, best-effort expiry sweeps, entropy requests and the
// capability description.
//
// The KeyProvider owns no state of its own beyond configuration; key
// records live in the KeyStore, which is shared with the synchronizer.
// Zeroizing retrieval uses the store's atomic Take operation so a
// concurrent reader can never observe the read and the delete as two
// independent states.
package provider
