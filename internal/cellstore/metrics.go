package cellstore

import (
	"time"

	"github.com/ankur-anand/kvbulk/pkg/umetrics"
	"github.com/uber-go/tally/v4"
)

const (
	OpMutate         = "mutate"
	OpBatch          = "batch"
	OpCheckAndMutate = "check_and_mutate"
	OpBatchGet       = "batch_get"
	OpScan           = "scan"
)

// MetricsTracker records per-operation store metrics for one table.
type MetricsTracker struct {
	opScopes map[string]tally.Scope
}

// NewMetricsTracker creates a MetricsTracker under the "store" scope.
func NewMetricsTracker(backend, table string) *MetricsTracker {
	return NewScopedMetricsTracker(umetrics.GetScope("store"), backend, table)
}

// NewScopedMetricsTracker creates a MetricsTracker using a provided tally.Scope.
func NewScopedMetricsTracker(scope tally.Scope, backend, table string) *MetricsTracker {
	base := scope.Tagged(map[string]string{"backend": backend, "table": table})
	opScopes := make(map[string]tally.Scope, 5)
	for _, op := range []string{OpMutate, OpBatch, OpCheckAndMutate, OpBatchGet, OpScan} {
		opScopes[op] = base.Tagged(map[string]string{"op": op})
	}
	return &MetricsTracker{opScopes: opScopes}
}

// RecordOp logs call count, entries touched, latency and failures.
func (m *MetricsTracker) RecordOp(op string, entries int, start time.Time, err error) {
	s, ok := m.opScopes[op]
	if !ok {
		return
	}
	s.Counter("calls_total").Inc(1)
	s.Counter("entries_total").Inc(int64(entries))
	s.Timer("latency").Record(time.Since(start))
	if err != nil {
		s.Counter("errors_total").Inc(1)
	}
}
