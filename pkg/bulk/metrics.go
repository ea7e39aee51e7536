package bulk

import (
	"time"

	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/ankur-anand/kvbulk/pkg/umetrics"
	"github.com/uber-go/tally/v4"
)

var batchSizeBuckets = tally.MustMakeExponentialValueBuckets(1, 2, 12)

// Metrics records what the sinks and pipelines send to the store. A nil
// *Metrics records nothing.
type Metrics struct {
	root tally.Scope
}

// NewMetrics reports under scope, or under the process-wide "bulk" scope
// when scope is nil.
func NewMetrics(scope tally.Scope) *Metrics {
	if scope == nil {
		scope = umetrics.GetScope("bulk")
	}
	return &Metrics{root: scope}
}

func (m *Metrics) flush(op string, size int, start time.Time, err error) {
	if m == nil {
		return
	}
	s := m.root.Tagged(map[string]string{"op": op})
	s.Counter("flush_total").Inc(1)
	s.Counter("records_total").Inc(int64(size))
	s.Histogram("batch_size", batchSizeBuckets).RecordValue(float64(size))
	s.Timer("flush_latency").Record(time.Since(start))
	if err != nil {
		s.Counter("flush_errors_total").Inc(1)
	}
}

func (m *Metrics) conditional(kind record.Kind, applied bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if applied {
		outcome = "applied"
	}
	m.root.Tagged(map[string]string{"op": kind.String(), "outcome": outcome}).
		Counter("conditional_total").Inc(1)
}

func (m *Metrics) partition(err error) {
	if m == nil {
		return
	}
	m.root.Counter("partitions_total").Inc(1)
	if err != nil {
		m.root.Counter("partition_errors_total").Inc(1)
	}
}
