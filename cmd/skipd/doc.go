// Command skipd runs the symmetric key provider service: the key API, the
// peer synchronization loops, and the metrics endpoint. Configuration is
// flag-driven, with SKIPD_* environment variables and an optional env file
// as fallbacks.
package main
