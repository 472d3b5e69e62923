package server

import (
	"errors"
	"net/http"

	"github.com/ValentinKolb/mcKV/memcached/stats"
)

// newMetricsServer serves the collector in the prometheus text format on /metrics
func newMetricsServer(endpoint string, collector *stats.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		collector.WritePrometheus(w)
	})
	return &http.Server{Addr: endpoint, Handler: mux}
}

func serveMetrics(srv *http.Server) {
	Logger.Infof("serving metrics on http://%s/metrics", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Logger.Errorf("metrics server failed: %v", err)
	}
}
