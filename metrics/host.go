package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// HostMetrics holds the instruments recorded by the host runtime.
// All methods are safe to call on a nil receiver.
type HostMetrics struct {
	eventsPublished  CounterVec
	listenerFailures CounterVec
	transitions      CounterVec
	hookFailures     CounterVec
	activities       GaugeVec
	connections      Gauge
	sendFailures     Counter

	openConnections atomic.Int64
}

// NewHostMetrics creates the host instruments in reg.
func NewHostMetrics(reg Registry) (*HostMetrics, error) {
	m := &HostMetrics{}
	var err error

	if m.eventsPublished, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_published_total",
		Help: "Events published on the event bus.",
	}, []string{"topic"}); err != nil {
		return nil, fmt.Errorf("creating events published counter: %w", err)
	}

	if m.listenerFailures, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_listener_failures_total",
		Help: "Listener invocations that returned an error or panicked.",
	}, []string{"topic"}); err != nil {
		return nil, fmt.Errorf("creating listener failures counter: %w", err)
	}

	if m.transitions, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_transitions_total",
		Help: "Lifecycle state transitions.",
	}, []string{"from", "to"}); err != nil {
		return nil, fmt.Errorf("creating transitions counter: %w", err)
	}

	if m.hookFailures, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_hook_failures_total",
		Help: "Lifecycle hooks that failed and moved an activity to the failed state.",
	}, []string{"hook"}); err != nil {
		return nil, fmt.Errorf("creating hook failures counter: %w", err)
	}

	if m.activities, err = reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "activities",
		Help: "Loaded activities by lifecycle state.",
	}, []string{"state"}); err != nil {
		return nil, fmt.Errorf("creating activities gauge: %w", err)
	}

	if m.connections, err = reg.NewGauge(prometheus.GaugeOpts{
		Name: "transport_connections",
		Help: "Open web client connections across all activities.",
	}); err != nil {
		return nil, fmt.Errorf("creating connections gauge: %w", err)
	}

	if m.sendFailures, err = reg.NewCounter(prometheus.CounterOpts{
		Name: "transport_send_failures_total",
		Help: "Sends that failed and pruned a connection.",
	}); err != nil {
		return nil, fmt.Errorf("creating send failures counter: %w", err)
	}

	return m, nil
}

// EventPublished counts one publish on topic.
func (m *HostMetrics) EventPublished(topic string) {
	if m == nil {
		return
	}
	m.eventsPublished.With(prometheus.Labels{"topic": topic}).Inc()
}

// ListenerFailed counts one failed listener invocation on topic.
func (m *HostMetrics) ListenerFailed(topic string) {
	if m == nil {
		return
	}
	m.listenerFailures.With(prometheus.Labels{"topic": topic}).Inc()
}

// Transition counts one lifecycle transition.
func (m *HostMetrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.With(prometheus.Labels{"from": from, "to": to}).Inc()
}

// HookFailed counts one failed lifecycle hook.
func (m *HostMetrics) HookFailed(hook string) {
	if m == nil {
		return
	}
	m.hookFailures.With(prometheus.Labels{"hook": hook}).Inc()
}

// SetActivities records the number of activities in each state.
// States missing from counts are reported as zero.
func (m *HostMetrics) SetActivities(states []string, counts map[string]int) {
	if m == nil {
		return
	}
	for _, s := range states {
		m.activities.With(prometheus.Labels{"state": s}).Set(float64(counts[s]))
	}
}

// ConnectionOpened records a new web client connection.
func (m *HostMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Set(float64(m.openConnections.Add(1)))
}

// ConnectionClosed records a closed web client connection.
func (m *HostMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Set(float64(m.openConnections.Add(-1)))
}

// SendFailed counts one failed send.
func (m *HostMetrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}
