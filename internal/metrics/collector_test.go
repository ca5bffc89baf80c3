package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_RecordRequest(t *testing.T) {
	t.Parallel()

	collector := NewCollector("test", prometheus.NewRegistry())

	collector.RecordRequest("bits", "stream-elements", OutcomeDispatched)
	collector.RecordRequest("bits", "stream-elements", OutcomeDispatched)
	collector.RecordRequest("manual", "amazon-polly", OutcomeConfiguration)

	assert.InDelta(t, 2, testutil.ToFloat64(collector.requestsTotal.WithLabelValues("bits", "stream-elements", OutcomeDispatched)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(collector.requestsTotal.WithLabelValues("manual", "amazon-polly", OutcomeConfiguration)), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(collector.requestsTotal))
}

func TestCollector_RecordTransition(t *testing.T) {
	t.Parallel()

	collector := NewCollector("test", prometheus.NewRegistry())

	collector.RecordTransition("playing")
	collector.RecordTransition("finished")

	assert.InDelta(t, 1, testutil.ToFloat64(collector.transitionsTotal.WithLabelValues("finished")), 0)
}

func TestCollector_NilIsNoop(t *testing.T) {
	t.Parallel()

	var collector *Collector

	assert.NotPanics(t, func() {
		collector.RecordRequest("manual", "stream-elements", OutcomeDispatched)
		collector.RecordTransition("finished")
	})
}
