package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second
)

// PushRegistry implements Registry for push-based metrics collection.
// Metric updates only touch an in-memory buffer; Flush writes the latest
// value of every series to the remote write endpoint in a single request.
type PushRegistry struct {
	url        string
	httpClient *http.Client
	prefix     string
	job        string
	instance   string

	mu     sync.Mutex
	series map[string]*series
}

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint (e.g., "http://localhost:9090").
	URL string
	// Prefix is the metric name prefix. All metric names will be prefixed with this value
	// followed by an underscore.
	Prefix string
	// Job is the job label for all metrics.
	Job string
	// Instance is the instance label for all metrics.
	Instance string
	// Timeout is the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// series is the buffered state of one name+labels combination.
type series struct {
	name   string
	labels map[string]string
	value  float64
	dirty  bool
}

// NewPushRegistry creates a new PushRegistry that pushes metrics to the given URL.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &PushRegistry{
		url:        strings.TrimSuffix(cfg.URL, "/") + "/api/v1/write",
		httpClient: &http.Client{Timeout: timeout},
		prefix:     cfg.Prefix,
		job:        cfg.Job,
		instance:   cfg.Instance,
		series:     make(map[string]*series),
	}
}

// NewGauge creates a new push-based Gauge.
func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return &pushGauge{registry: r, name: opts.Name}, nil
}

// NewGaugeVec creates a new push-based GaugeVec.
func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	return &pushGaugeVec{registry: r, name: opts.Name}, nil
}

// NewCounter creates a new push-based Counter.
func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return &pushCounter{registry: r, name: opts.Name}, nil
}

// NewCounterVec creates a new push-based CounterVec.
func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	return &pushCounterVec{registry: r, name: opts.Name}, nil
}

// Flush writes every series updated since the last successful flush.
// Series that fail to push stay dirty and are retried on the next call.
func (r *PushRegistry) Flush(ctx context.Context) error {
	r.mu.Lock()
	keys := make([]string, 0, len(r.series))
	timeseries := make([]prompb.TimeSeries, 0, len(r.series))
	now := time.Now().UnixMilli()
	for _, key := range slices.Sorted(maps.Keys(r.series)) {
		s := r.series[key]
		if !s.dirty {
			continue
		}
		keys = append(keys, key)
		timeseries = append(timeseries, r.toTimeSeries(s, now))
	}
	r.mu.Unlock()

	if len(timeseries) == 0 {
		return nil
	}

	if err := r.write(ctx, &prompb.WriteRequest{Timeseries: timeseries}); err != nil {
		return err
	}

	r.mu.Lock()
	for _, key := range keys {
		r.series[key].dirty = false
	}
	r.mu.Unlock()
	return nil
}

// set replaces the buffered value of a series.
func (r *PushRegistry) set(name string, labels map[string]string, v float64) {
	r.update(name, labels, func(s *series) { s.value = v })
}

// add increments the buffered value of a series.
func (r *PushRegistry) add(name string, labels map[string]string, v float64) {
	r.update(name, labels, func(s *series) { s.value += v })
}

func (r *PushRegistry) update(name string, labels map[string]string, fn func(*series)) {
	key := name + "{" + labelsToKey(labels) + "}"

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[key]
	if !ok {
		s = &series{name: name, labels: maps.Clone(labels)}
		r.series[key] = s
	}
	fn(s)
	s.dirty = true
}

func (r *PushRegistry) write(ctx context.Context, req *prompb.WriteRequest) error {
	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}

	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// toTimeSeries converts a buffered series to Prometheus TimeSeries format.
func (r *PushRegistry) toTimeSeries(s *series, timestamp int64) prompb.TimeSeries {
	labels := make([]prompb.Label, 0, len(s.labels)+3)

	name := s.name
	if r.prefix != "" {
		name = r.prefix + "_" + name
	}
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})

	if r.job != "" {
		labels = append(labels, prompb.Label{Name: "job", Value: r.job})
	}
	if r.instance != "" {
		labels = append(labels, prompb.Label{Name: "instance", Value: r.instance})
	}

	for _, k := range slices.Sorted(maps.Keys(s.labels)) {
		labels = append(labels, prompb.Label{Name: k, Value: s.labels[k]})
	}

	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: s.value, Timestamp: timestamp}},
	}
}

type pushGauge struct {
	registry *PushRegistry
	name     string
	labels   map[string]string
}

func (g *pushGauge) Set(v float64) {
	g.registry.set(g.name, g.labels, v)
}

type pushGaugeVec struct {
	registry *PushRegistry
	name     string
}

func (g *pushGaugeVec) With(labels prometheus.Labels) Gauge {
	return &pushGauge{registry: g.registry, name: g.name, labels: labels}
}

type pushCounter struct {
	registry *PushRegistry
	name     string
	labels   map[string]string
}

func (c *pushCounter) Inc() {
	c.Add(1)
}

func (c *pushCounter) Add(v float64) {
	if v < 0 {
		panic("counter cannot decrease in value")
	}
	c.registry.add(c.name, c.labels, v)
}

type pushCounterVec struct {
	registry *PushRegistry
	name     string
}

func (c *pushCounterVec) With(labels prometheus.Labels) Counter {
	return &pushCounter{registry: c.registry, name: c.name, labels: labels}
}

// labelsToKey creates a deterministic string key from labels for map lookup.
func labelsToKey(labels map[string]string) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}
