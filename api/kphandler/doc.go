// Package kphandler implements the key provider HTTP surface and a typed
// client for it.
//
// The handler exposes capability discovery, key generation and retrieval,
// entropy requests, and a synchronization status endpoint. All error
// responses are JSON; unknown keys and malformed input answer 400, storage
// failures answer 500, and an unavailable entropy source answers 503.
package kphandler
