package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewImportMetrics(reg)
	require.NoError(t, err)

	m.Outcome("created")
	m.Outcome("created")
	m.Outcome("failed")
	m.Retry()
	m.Batch(120 * time.Millisecond)
	m.Session("royalty_statement")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchDuration))

	t.Run("registering twice reuses collectors", func(t *testing.T) {
		again, err := NewImportMetrics(reg)
		require.NoError(t, err)
		again.Retry()
		assert.Equal(t, 2.0, testutil.ToFloat64(m.retries))
	})
}

func TestImportMetrics_NilIsNoop(t *testing.T) {
	var m *ImportMetrics
	assert.NotPanics(t, func() {
		m.Outcome("created")
		m.Retry()
		m.Batch(time.Second)
		m.Session("x")
	})
}
