// Package synchandler implements the peer synchronization wire endpoint
// and the HTTP transport used to reach other nodes.
//
// Protocol-level outcomes, including rejections such as an unknown peer or
// a bad signature, always answer HTTP 200 with a {status, message} body.
// Non-200 responses are reserved for transport-level failures, which the
// synchronizer retries; rejections are terminal for the message.
package synchandler
