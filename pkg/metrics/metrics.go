// Package metrics exposes replay progress to Prometheus.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgp_replay_updates_total",
		Help: "records read from the feed, by kind",
	}, []string{"kind"})
	VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgp_replay_verdicts_total",
		Help: "hijack detector verdicts for announcements",
	}, []string{"verdict"})
	MalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bgp_replay_malformed_total",
		Help: "records rejected as malformed",
	})
	LeaksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bgp_replay_leaks_total",
		Help: "route leak patterns observed",
	})
	RoutingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bgp_replay_routing_entries",
		Help: "routes installed in the table",
	})
	PathChanges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bgp_replay_path_changes",
		Help: "announcements that replaced an installed route",
	})
	ReachableAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bgp_replay_reachable_addresses",
		Help: "IPv4 addresses covered by the table",
	})
	FeedTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bgp_replay_feed_time_seconds",
		Help: "timestamp of the last record processed",
	})
)

// Handler returns the metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
