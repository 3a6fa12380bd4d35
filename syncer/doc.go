// Package syncer keeps key records consistent across cooperating key
// providers.
//
// A Synchronizer runs two independent periodic loops:
//
//   - The key-sync loop drains pending key records for every peer that is
//     currently online, encrypts and signs each record and pushes it
//     through the Transport. Per-peer attempts within one cycle run
//     concurrently and fail independently; a cycle fully completes before
//     the next one begins.
//   - The heartbeat loop contacts every configured peer regardless of its
//     current status. This asymmetry is intentional: a successful heartbeat
//     is the only path back to online from offline or error.
//
// Inbound messages from peers go through a fixed validation pipeline
// (known sender, HMAC signature, freshness window) before being dispatched
// by type. Validation failures are terminal for the message and are never
// retried; transport failures are retried with bounded linear backoff and
// surface only as peer status changes.
package syncer
