// Package registry holds the configured peer key providers and their
// liveness state.
//
// Peers move through the states unknown -> online -> offline/error and back
// to online on the next successful heartbeat; there is no terminal state.
// Heartbeat outcomes and sync outcomes are the only runtime mutations.
// Adding and removing peers are administrative operations outside the
// synchronizer's loops, and peers are never removed automatically, no
// matter how long they stay offline.
//
// All accessors return copies; callers never hold references into the
// registry's internal peer table.
package registry
