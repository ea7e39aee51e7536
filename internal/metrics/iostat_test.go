package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIOStatsCollector(t *testing.T) {
	c, err := NewIOStatsCollector()
	require.NoError(t, err)

	descs := make(chan *prometheus.Desc, 3)
	c.Describe(descs)
	close(descs)
	assert.Len(t, descs, 3)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	var n int
	assert.NotPanics(t, func() { n = testutil.CollectAndCount(c) })
	assert.LessOrEqual(t, n, 3)
}
