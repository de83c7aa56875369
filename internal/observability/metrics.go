package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ensemble/internal/async"
)

// MetricsServer exposes a Prometheus registry over HTTP.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
}

// StartMetricsServer listens on addr and serves gatherer at /metrics. A nil
// gatherer falls back to the default registry.
func StartMetricsServer(addr string, gatherer prometheus.Gatherer, logger *Logger) (*MetricsServer, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &MetricsServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}
	var panics async.PanicLogger
	if logger != nil {
		panics = logger
	}
	async.Go(panics, "metrics server", func() {
		if err := srv.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && logger != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	})
	return srv, nil
}

// Addr reports the bound address.
func (s *MetricsServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
