// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RowsProcessed counts normalized rows by entity and outcome.
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afssync",
			Subsystem: "engine",
			Name:      "rows_total",
			Help:      "Rows processed per entity by outcome",
		},
		[]string{"entity", "outcome"},
	)

	// EntitySyncDuration tracks syncEntity duration per phase.
	EntitySyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "afssync",
			Subsystem: "engine",
			Name:      "entity_duration_seconds",
			Help:      "Duration of entity syncs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"entity", "phase"},
	)

	// StagedBatchRows tracks rows per staging insert.
	StagedBatchRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "afssync",
			Subsystem: "writer",
			Name:      "staged_batch_rows",
			Help:      "Rows per staging insert statement",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"table"},
	)

	// MergedRows counts merge results per table.
	MergedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afssync",
			Subsystem: "writer",
			Name:      "merged_rows_total",
			Help:      "Rows inserted or updated by set-based merges",
		},
		[]string{"table", "kind"},
	)

	// RelationWrites counts relation rows added or removed.
	RelationWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afssync",
			Subsystem: "relations",
			Name:      "writes_total",
			Help:      "Relationship rows added or removed",
		},
		[]string{"table", "op"},
	)

	// Orphans counts soft-deactivated records.
	Orphans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afssync",
			Subsystem: "engine",
			Name:      "orphans_total",
			Help:      "Records deactivated because the source no longer had them",
		},
		[]string{"entity"},
	)

	// BusyRejections counts syncs refused because another one was running.
	BusyRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "afssync",
			Subsystem: "engine",
			Name:      "busy_rejections_total",
			Help:      "Sync attempts rejected by the busy guard",
		},
	)
)

// ObserveDuration records the time since start for entity and phase.
func ObserveDuration(entity, phase string, start time.Time) {
	EntitySyncDuration.WithLabelValues(entity, phase).Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
