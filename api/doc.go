/*
Package api groups the HTTP surfaces of the key provider.

It is organized into two subpackages:

1. kphandler - the key provider API (capabilities, keys, entropy) and its typed client
2. synchandler - the peer synchronization wire endpoint and the HTTP transport

Both subpackages expose a RegisterRoutes method for mounting on the
httpserver router, keeping routing decisions with the server and request
semantics with the handlers.
*/
package api
