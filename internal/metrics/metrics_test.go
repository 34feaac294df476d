package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve(":0")
	defer func() { _ = Shutdown(srv) }()

	SnapshotsTotal.WithLabelValues("rest").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "snapshots_total" {
			found = true
			break
		}
	}
	assert.True(t, found, "snapshots_total metric not found")
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(StreamFramesTotal.WithLabelValues("ack"))
	StreamFramesTotal.WithLabelValues("ack").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(StreamFramesTotal.WithLabelValues("ack")))
}
