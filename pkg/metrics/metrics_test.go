package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	RowsProcessed.WithLabelValues("article", "ok").Add(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(RowsProcessed.WithLabelValues("article", "ok")))

	ObserveDuration("article", "total", time.Now().Add(-time.Second))
	assert.Equal(t, 1, testutil.CollectAndCount(EntitySyncDuration))

	BusyRejections.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(BusyRejections))
}
