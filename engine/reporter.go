package engine

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/photocampus/feedengine/feed"
	Logger "github.com/photocampus/feedengine/utils/log"
	"gonum.org/v1/gonum/stat"
)

const (
	defaultLatencyWindow = 100

	ddogDistributionCompleted = "feed.distribution.completed"
	ddogFailedBatches         = "feed.distribution.failed_batches"
	ddogLatencyMean           = "feed.distribution.latency_ms.mean"
	ddogLatencyP95            = "feed.distribution.latency_ms.p95"
)

type ReporterConfig struct {
	Name string
	// Number of recent fan-out runs the latency aggregates cover.
	LatencyWindow int
}

// Reporter listens for distribution results on the event bus and turns
// them into Datadog series: completion counters, failed batch counts and
// aggregate fan-out latency over a sliding window.
type Reporter struct {
	Config ReporterConfig

	Statsd statsd.ClientInterface

	EventBus *gochannel.GoChannel

	mu        sync.Mutex
	latencies []float64
}

func NewReporter(config ReporterConfig, dd statsd.ClientInterface, e *gochannel.GoChannel) *Reporter {
	if config.LatencyWindow <= 0 {
		config.LatencyWindow = defaultLatencyWindow
	}
	if dd == nil {
		dd = &statsd.NoOpClient{}
	}
	return &Reporter{
		Config:   config,
		Statsd:   dd,
		EventBus: e,
	}
}

func (r *Reporter) processDistributionResults(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, err := r.EventBus.Subscribe(ctx, feed.TopicDistributionResult)
	if err != nil {
		return err
	}

	for msg := range messages {
		msg.Ack()

		result := feed.DistributionResult{}
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			Logger.Log.Error("cannot decode distribution result: ", err)
			continue
		}
		r.observe(&result)
	}
	return nil
}

func (r *Reporter) observe(result *feed.DistributionResult) {
	tag := "celebrity:false"
	if result.Celebrity {
		tag = "celebrity:true"
	}
	if err := r.Statsd.Incr(ddogDistributionCompleted, []string{tag}, 1); err != nil {
		Logger.Log.Infoln("cannot report distribution completion")
	}
	if result.FailedBatches > 0 {
		r.Statsd.Count(ddogFailedBatches, int64(result.FailedBatches), nil, 1)
	}

	r.mu.Lock()
	r.latencies = append(r.latencies, float64(result.ElapsedMs))
	if len(r.latencies) > r.Config.LatencyWindow {
		r.latencies = r.latencies[len(r.latencies)-r.Config.LatencyWindow:]
	}
	window := append([]float64{}, r.latencies...)
	r.mu.Unlock()

	sort.Float64s(window)
	r.Statsd.Gauge(ddogLatencyMean, stat.Mean(window, nil), nil, 1)
	r.Statsd.Gauge(ddogLatencyP95, stat.Quantile(0.95, stat.Empirical, window, nil), nil, 1)
}

func (r *Reporter) RunModule(ctx context.Context) error {
	return r.processDistributionResults(ctx)
}

func (r *Reporter) Name() string {
	return r.Config.Name
}

func (r *Reporter) Shutdown() {}
