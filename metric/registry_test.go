package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyglot-support/flowgraph/errors"
)

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgraph_test_total",
		Help: "test counter",
	})
	require.NoError(t, r.Register("scheduler", "test_total", c))

	assert.True(t, r.Unregister("scheduler", "test_total"))
	assert.False(t, r.Unregister("scheduler", "test_total"))
}

func TestDuplicateRegistration(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowgraph_dup_total",
		Help: "test counter",
	})
	require.NoError(t, r.Register("cache", "dup_total", c))

	err := r.Register("cache", "dup_total", c)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	assert.NotNil(t, r.Handler())
	assert.NotNil(t, r.Prometheus())
}
