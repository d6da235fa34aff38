package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Metric represents a single metric measurement
type Metric struct {
	Name      string                 `json:"name"`
	Value     interface{}            `json:"value"`
	Timestamp time.Time              `json:"timestamp"`
	Tags      map[string]string      `json:"tags,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// SystemMetrics contains aggregated system performance metrics
type SystemMetrics struct {
	AvgResponseTime int64       `json:"avg_response_time"`
	P95ResponseTime int64       `json:"p95_response_time"`
	P99ResponseTime int64       `json:"p99_response_time"`
	ResponseTimes   []int64     `json:"response_times"`
	StreamStats     StreamStats `json:"stream_stats"`
	Conversations   int64       `json:"conversations"`
	Timestamp       time.Time   `json:"timestamp"`
}

// StreamStats tracks reply streaming statistics
type StreamStats struct {
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Fragments int64 `json:"fragments"`
	Titles    int64 `json:"titles"`
	Summaries int64 `json:"summaries"`
}

type promMetrics struct {
	streams        *prometheus.CounterVec
	fragments      prometheus.Counter
	streamDuration *prometheus.HistogramVec
	titles         *prometheus.CounterVec
	summaries      *prometheus.CounterVec
	mutations      *prometheus.CounterVec
	conversations  prometheus.Gauge
	httpDuration   prometheus.Histogram
}

// Collector aggregates and provides access to system metrics. Every
// measurement is kept in memory for the JSON metrics endpoint and mirrored
// into a private Prometheus registry.
type Collector struct {
	mu          sync.RWMutex
	metrics     []Metric
	maxMetrics  int
	systemStats *SystemMetrics
	lastUpdate  time.Time

	registry *prometheus.Registry
	prom     promMetrics
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Collector{
		metrics:     make([]Metric, 0, 1000),
		maxMetrics:  1000, // Keep last 1000 metrics
		systemStats: newSystemMetrics(),
		lastUpdate:  time.Now(),
		registry:    reg,
		prom: promMetrics{
			streams: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "chatbae_streams_total",
				Help: "Reply streams by action and state.",
			}, []string{"action", "state"}),
			fragments: factory.NewCounter(prometheus.CounterOpts{
				Name: "chatbae_stream_fragments_total",
				Help: "Reply fragments applied to conversations.",
			}),
			streamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "chatbae_stream_duration_seconds",
				Help:    "Time from request to settled reply.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			}, []string{"action", "outcome"}),
			titles: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "chatbae_titles_total",
				Help: "Title generation attempts by outcome.",
			}, []string{"outcome"}),
			summaries: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "chatbae_summaries_total",
				Help: "Summary requests by outcome.",
			}, []string{"outcome"}),
			mutations: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "chatbae_store_mutations_total",
				Help: "Conversation store mutations by operation.",
			}, []string{"operation"}),
			conversations: factory.NewGauge(prometheus.GaugeOpts{
				Name: "chatbae_conversations",
				Help: "Conversations currently in the store.",
			}),
			httpDuration: factory.NewHistogram(prometheus.HistogramOpts{
				Name:    "chatbae_http_request_duration_seconds",
				Help:    "HTTP API response times.",
				Buckets: prometheus.DefBuckets,
			}),
		},
	}
}

func newSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ResponseTimes: make([]int64, 0, 20),
		Timestamp:     time.Now(),
	}
}

// Registry returns the Prometheus registry the collector mirrors into
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordMetric adds a new metric measurement
func (c *Collector) RecordMetric(metric Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metric.Timestamp = time.Now()
	c.metrics = append(c.metrics, metric)

	// Keep only the most recent metrics
	if len(c.metrics) > c.maxMetrics {
		c.metrics = c.metrics[len(c.metrics)-c.maxMetrics:]
	}

	c.updateSystemStats(metric)
}

// RecordResponseTime records an API response time
func (c *Collector) RecordResponseTime(duration time.Duration) {
	c.prom.httpDuration.Observe(duration.Seconds())
	c.RecordMetric(Metric{
		Name:  "response_time",
		Value: duration.Milliseconds(),
		Tags:  map[string]string{"type": "api"},
	})
}

// RecordStreamStarted counts a reply stream entering the sending phase
func (c *Collector) RecordStreamStarted(action string) {
	c.prom.streams.WithLabelValues(action, "started").Inc()
	c.RecordMetric(Metric{
		Name:  "stream_started",
		Value: 1,
		Tags:  map[string]string{"action": action},
	})
}

// RecordStreamSettled counts a settled reply stream and its duration
func (c *Collector) RecordStreamSettled(action, outcome string, duration time.Duration) {
	c.prom.streams.WithLabelValues(action, outcome).Inc()
	c.prom.streamDuration.WithLabelValues(action, outcome).Observe(duration.Seconds())
	c.RecordMetric(Metric{
		Name:   "stream_settled",
		Value:  duration.Milliseconds(),
		Tags:   map[string]string{"action": action, "outcome": outcome},
		Fields: map[string]interface{}{"duration_ms": duration.Milliseconds()},
	})
}

// RecordFragment counts one applied reply fragment. Fragments are only
// aggregated, not kept individually.
func (c *Collector) RecordFragment() {
	c.prom.fragments.Inc()

	c.mu.Lock()
	c.systemStats.StreamStats.Fragments++
	c.lastUpdate = time.Now()
	c.mu.Unlock()
}

// RecordTitle counts a title generation attempt
func (c *Collector) RecordTitle(outcome string) {
	c.prom.titles.WithLabelValues(outcome).Inc()
	c.RecordMetric(Metric{
		Name:  "title_generated",
		Value: 1,
		Tags:  map[string]string{"outcome": outcome},
	})
}

// RecordSummary counts a summary request
func (c *Collector) RecordSummary(outcome string) {
	c.prom.summaries.WithLabelValues(outcome).Inc()
	c.RecordMetric(Metric{
		Name:  "summary_generated",
		Value: 1,
		Tags:  map[string]string{"outcome": outcome},
	})
}

// RecordMutation counts a store mutation
func (c *Collector) RecordMutation(operation string) {
	c.prom.mutations.WithLabelValues(operation).Inc()
	c.RecordMetric(Metric{
		Name:  "store_mutation",
		Value: 1,
		Tags:  map[string]string{"operation": operation},
	})
}

// SetConversationCount records how many conversations the store holds
func (c *Collector) SetConversationCount(n int) {
	c.prom.conversations.Set(float64(n))

	c.mu.Lock()
	c.systemStats.Conversations = int64(n)
	c.lastUpdate = time.Now()
	c.mu.Unlock()
}

// GetSystemMetrics returns current aggregated system metrics
func (c *Collector) GetSystemMetrics(ctx context.Context) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.systemStats
	return map[string]interface{}{
		"avg_response_time": s.AvgResponseTime,
		"p95_response_time": s.P95ResponseTime,
		"p99_response_time": s.P99ResponseTime,
		"response_times":    append([]int64{}, s.ResponseTimes...),
		"streams": map[string]interface{}{
			"started":   s.StreamStats.Started,
			"succeeded": s.StreamStats.Succeeded,
			"failed":    s.StreamStats.Failed,
			"fragments": s.StreamStats.Fragments,
			"titles":    s.StreamStats.Titles,
			"summaries": s.StreamStats.Summaries,
		},
		"conversations": s.Conversations,
		"timestamp":     s.Timestamp,
	}
}

// Snapshot returns a copy of the aggregated statistics
func (c *Collector) Snapshot() SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := *c.systemStats
	out.ResponseTimes = append([]int64{}, c.systemStats.ResponseTimes...)
	return out
}

// GetMetrics returns recent metrics with optional filtering
func (c *Collector) GetMetrics(ctx context.Context, filter map[string]string, limit int) []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var filtered []Metric

	// Start from the end (most recent)
	for i := len(c.metrics) - 1; i >= 0 && len(filtered) < limit; i-- {
		if matchesFilter(c.metrics[i], filter) {
			filtered = append(filtered, c.metrics[i])
		}
	}

	// Reverse to get chronological order
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}

	return filtered
}

// updateSystemStats aggregates metrics into system statistics
func (c *Collector) updateSystemStats(metric Metric) {
	now := time.Now()

	switch metric.Name {
	case "response_time":
		if ms, ok := metric.Value.(int64); ok {
			// Keep the last 20 response times
			c.systemStats.ResponseTimes = append(c.systemStats.ResponseTimes, ms)
			if len(c.systemStats.ResponseTimes) > 20 {
				c.systemStats.ResponseTimes = c.systemStats.ResponseTimes[1:]
			}
			c.calculateResponseTimeStats()
		}

	case "stream_started":
		c.systemStats.StreamStats.Started++

	case "stream_settled":
		if metric.Tags["outcome"] == OutcomeSuccess {
			c.systemStats.StreamStats.Succeeded++
		} else {
			c.systemStats.StreamStats.Failed++
		}

	case "title_generated":
		if metric.Tags["outcome"] == OutcomeSuccess {
			c.systemStats.StreamStats.Titles++
		}

	case "summary_generated":
		if metric.Tags["outcome"] == OutcomeSuccess {
			c.systemStats.StreamStats.Summaries++
		}
	}

	c.systemStats.Timestamp = now
	c.lastUpdate = now
}

// calculateResponseTimeStats computes avg, p95, p99 from recent response times
func (c *Collector) calculateResponseTimeStats() {
	times := c.systemStats.ResponseTimes
	if len(times) == 0 {
		return
	}

	sorted := make([]int64, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, t := range times {
		sum += t
	}
	c.systemStats.AvgResponseTime = sum / int64(len(times))

	n := len(sorted)
	c.systemStats.P95ResponseTime = sorted[int(float64(n)*0.95)]
	c.systemStats.P99ResponseTime = sorted[int(float64(n)*0.99)]
}

// matchesFilter checks if a metric matches the given filter criteria
func matchesFilter(metric Metric, filter map[string]string) bool {
	if len(filter) == 0 {
		return true
	}

	if name, exists := filter["name"]; exists && metric.Name != name {
		return false
	}

	for key, value := range filter {
		if key == "name" {
			continue
		}
		if tagValue, exists := metric.Tags[key]; !exists || tagValue != value {
			return false
		}
	}

	return true
}

// Reset clears all collected in-memory metrics. Prometheus counters are
// cumulative and are not reset.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics = make([]Metric, 0, c.maxMetrics)
	c.systemStats = newSystemMetrics()
	c.lastUpdate = time.Now()
}

// GetLastUpdateTime returns when metrics were last updated
func (c *Collector) GetLastUpdateTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}
