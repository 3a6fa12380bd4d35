// Package metrics exposes Prometheus counters for the key provider and a
// standalone metrics server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// KeysGenerated counts keys issued by the generation endpoint.
	KeysGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skipd_keys_generated_total",
		Help: "Number of symmetric keys generated.",
	})

	// KeysZeroized counts keys destroyed after a single authorized read.
	KeysZeroized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skipd_keys_zeroized_total",
		Help: "Number of keys zeroized after retrieval.",
	})

	// KeysExpired counts keys removed by the expiry sweep.
	KeysExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skipd_keys_expired_total",
		Help: "Number of keys removed by the expiry sweep.",
	})

	// SyncMessagesSent counts outbound sync messages by type and result.
	SyncMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skipd_sync_messages_sent_total",
		Help: "Outbound sync messages by type and result.",
	}, []string{"type", "result"})

	// SyncMessagesReceived counts inbound sync messages by type and result.
	SyncMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skipd_sync_messages_received_total",
		Help: "Inbound sync messages by type and result.",
	}, []string{"type", "result"})

	// PeerStatus reports each peer's liveness state (1 for the current
	// state, 0 otherwise).
	PeerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skipd_peer_status",
		Help: "Peer liveness state by peer and status.",
	}, []string{"peer", "status"})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on the given address.
func New(name, listenAddr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// ObservePeerStatus sets the status gauge for one peer, clearing the other
// states.
func ObservePeerStatus(peer, status string) {
	for _, s := range []string{"unknown", "online", "offline", "error"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		PeerStatus.WithLabelValues(peer, s).Set(v)
	}
}
