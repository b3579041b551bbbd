package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorExposesAllMetrics(t *testing.T) {
	c := New()
	c.SegmentsReceived.Inc()
	c.SegmentsDropped.Add(2)
	c.ConnectionsAccepted.Inc()
	c.ConnectionsActive.Set(3)
	c.BytesDelivered.Add(128)
	c.BytesSent.Add(64)

	ch := make(chan prometheus.Metric, 16)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var got int
	for range ch {
		got++
	}
	if got != 6 {
		t.Errorf("Collect emitted %d metrics, want 6", got)
	}
}

func TestCollectorDescribeMatchesCollect(t *testing.T) {
	c := New()
	descs := make(chan *prometheus.Desc, 16)
	go func() {
		c.Describe(descs)
		close(descs)
	}()
	var got int
	for range descs {
		got++
	}
	if got != 6 {
		t.Errorf("Describe emitted %d descriptors, want 6", got)
	}
}
