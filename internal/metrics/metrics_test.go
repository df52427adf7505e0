package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOutcome(t *testing.T) {
	r := New()
	r.ObserveOutcome("published", 200*time.Millisecond)
	r.ObserveOutcome("published", 100*time.Millisecond)
	r.ObserveOutcome("failed", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.outcomes.WithLabelValues("published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcomes.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.uploadDuration))
}

func TestObserveRunAndTextfile(t *testing.T) {
	r := New()
	r.ObserveRun(3, time.Unix(1700000000, 0))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.candidates))

	path := filepath.Join(t.TempDir(), "sourcemaps.prom")
	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sourcemap_publisher_candidates 3")
	assert.Contains(t, string(data), "sourcemap_publisher_last_run_timestamp_seconds")
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveOutcome("published", time.Second)
		r.ObserveRun(1, time.Now())
		assert.NoError(t, r.WriteTextfile("ignored"))
	})
}
