package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gw31415/rsplug.nvim/internal/metrics"
)

func TestObserveRepoDurationRecordsIntoHistogram(t *testing.T) {
	r := metrics.New()
	r.ObserveRepoDuration("fetch", 250*time.Millisecond)

	count := testutil.CollectAndCount(r.RepoDuration)
	require.Equal(t, 1, count)
}

func TestBuildCacheCountersIncrement(t *testing.T) {
	r := metrics.New()
	r.BuildCacheHits.Inc()
	r.BuildCacheMisses.Inc()
	r.BuildCacheMisses.Inc()

	require.InDelta(t, 1.0, testutil.ToFloat64(r.BuildCacheHits), 0.0001)
	require.InDelta(t, 2.0, testutil.ToFloat64(r.BuildCacheMisses), 0.0001)
}

func TestPluginsByStateLabelsAreIndependent(t *testing.T) {
	r := metrics.New()
	r.PluginsByState.WithLabelValues("done").Set(3)
	r.PluginsByState.WithLabelValues("failed").Set(1)

	require.InDelta(t, 3.0, testutil.ToFloat64(r.PluginsByState.WithLabelValues("done")), 0.0001)
	require.InDelta(t, 1.0, testutil.ToFloat64(r.PluginsByState.WithLabelValues("failed")), 0.0001)
}
