// Package skipcrypto protects key material in transit and authenticates
// message origin between key providers.
//
// The package provides two independent mechanisms:
//
//   - A per-node cipher (Codec) that encrypts key material with AES-256-GCM
//     under a key derived from the local system identifier via PBKDF2.
//   - HMAC-SHA256 message signing over a canonical JSON encoding, keyed by
//     the per-peer shared secret.
//
// Note that the cipher key is derived only from the local system ID, not
// from the per-peer shared secret: any party that knows the localSystemID
// string can derive the same cipher key. Confidentiality against third
// parties rests on the transport channel, and message authenticity rests
// on the per-peer HMAC signatures. Deployments that need a cipher key
// decoupled from the system ID can construct the Codec with NewCodecWithKey.
package skipcrypto
