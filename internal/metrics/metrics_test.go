package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	m := New()
	m.WritesProcessed.Inc()
	m.QueueSize.Set(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.WritesProcessed))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.QueueSize))

	families, err := m.Registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestWritesProcessedAndFailedCount(t *testing.T) {
	m := New()
	m.WritesProcessed.Inc()
	m.WritesProcessed.Inc()
	m.WritesFailed.Inc()

	assert.Equal(t, float64(2), m.WritesProcessedCount())
	assert.Equal(t, float64(1), m.WritesFailedCount())
}
