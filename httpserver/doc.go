/*
Package httpserver hosts the key provider HTTP service.

It mounts the key provider API and the peer synchronization endpoint on a
single listener and adds the operational surface around them:

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

A separate metrics listener serves Prometheus metrics when configured, and
pprof can be mounted under /debug. Unknown routes answer a JSON 404; the
protocol reserves 404 for routing, so a missing key on a known route is a
400 from the handler instead.

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8443",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              5 * time.Second,
		WriteTimeout:             10 * time.Second,
	}

	server, err := httpserver.New(cfg, kpHandler, syncHandler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
