package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/photocampus/feedengine/feed"
	"github.com/stretchr/testify/require"
)

type captureStatsd struct {
	statsd.NoOpClient

	mu       sync.Mutex
	gauges   map[string]float64
	counters map[string]int64
	tags     map[string][]string
}

func newCaptureStatsd() *captureStatsd {
	return &captureStatsd{
		gauges:   map[string]float64{},
		counters: map[string]int64{},
		tags:     map[string][]string{},
	}
}

func (c *captureStatsd) Gauge(name string, value float64, tags []string, rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
	return nil
}

func (c *captureStatsd) Incr(name string, tags []string, rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name]++
	c.tags[name] = tags
	return nil
}

func (c *captureStatsd) Count(name string, value int64, tags []string, rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += value
	return nil
}

func (c *captureStatsd) gauge(name string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.gauges[name]
	return v, ok
}

func (c *captureStatsd) counter(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

func TestObserveComputesLatencyAggregates(t *testing.T) {
	capture := newCaptureStatsd()
	r := NewReporter(ReporterConfig{Name: "reporter", LatencyWindow: 10}, capture, nil)

	r.observe(&feed.DistributionResult{ElapsedMs: 100})
	r.observe(&feed.DistributionResult{ElapsedMs: 200, FailedBatches: 2})
	r.observe(&feed.DistributionResult{ElapsedMs: 300, Celebrity: true})

	mean, ok := capture.gauge("feed.distribution.latency_ms.mean")
	require.True(t, ok)
	require.InDelta(t, 200, mean, 1e-9)

	p95, ok := capture.gauge("feed.distribution.latency_ms.p95")
	require.True(t, ok)
	require.InDelta(t, 300, p95, 1e-9)

	require.EqualValues(t, 3, capture.counter("feed.distribution.completed"))
	require.EqualValues(t, 2, capture.counter("feed.distribution.failed_batches"))
	require.Equal(t, []string{"celebrity:true"}, capture.tags["feed.distribution.completed"])
}

func TestObserveKeepsSlidingWindow(t *testing.T) {
	capture := newCaptureStatsd()
	r := NewReporter(ReporterConfig{Name: "reporter", LatencyWindow: 2}, capture, nil)

	r.observe(&feed.DistributionResult{ElapsedMs: 1000})
	r.observe(&feed.DistributionResult{ElapsedMs: 10})
	r.observe(&feed.DistributionResult{ElapsedMs: 20})

	// the 1000ms outlier fell out of the window
	mean, _ := capture.gauge("feed.distribution.latency_ms.mean")
	require.InDelta(t, 15, mean, 1e-9)
}

func TestReporterConsumesResultsFromBus(t *testing.T) {
	bus := feed.NewEventBus()
	capture := newCaptureStatsd()
	r := NewReporter(ReporterConfig{Name: "reporter"}, capture, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		require.NoError(t, r.RunModule(ctx))
	}()

	sink := feed.NewGoChannelEventSink(bus)
	// publish until the subscriber is attached and has consumed one
	require.Eventually(t, func() bool {
		require.NoError(t, sink.Publish(feed.TopicDistributionResult, &feed.DistributionResult{
			PostID: "p1", Recipients: 10, ElapsedMs: 42,
		}))
		return capture.counter("feed.distribution.completed") > 0
	}, 5*time.Second, 50*time.Millisecond)
}
