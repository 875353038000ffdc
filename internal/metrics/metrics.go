// Package metrics defines the Prometheus collectors sealroom exports. A nil
// *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "sealroom"

// Metrics groups every collector.
type Metrics struct {
	UnlockAttempts    *prometheus.CounterVec
	EnvelopeOps       *prometheus.CounterVec
	GroupTransitions  *prometheus.CounterVec
	BufferedMessages  prometheus.Gauge
	BufferEvictions   *prometheus.CounterVec
	StateCorruptions  prometheus.Counter
	StateRebuilds     *prometheus.CounterVec
	RelayPosts        *prometheus.CounterVec
	RelayChannelDepth prometheus.Gauge
}

// New creates the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UnlockAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_attempts_total",
			Help:      "Private key unlock attempts by method and result.",
		}, []string{"method", "result"}),
		EnvelopeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelope_operations_total",
			Help:      "Envelope encrypt and decrypt operations by result.",
		}, []string{"op", "result"}),
		GroupTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_transitions_total",
			Help:      "Group epoch transitions by kind.",
		}, []string{"kind"}),
		BufferedMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "group_buffered_messages",
			Help:      "Group messages waiting for their epoch.",
		}),
		BufferEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_buffer_evictions_total",
			Help:      "Buffered group messages dropped, by reason.",
		}, []string{"reason"}),
		StateCorruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_state_corruptions_total",
			Help:      "Persisted group states that failed their checksum.",
		}),
		StateRebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_state_rebuilds_total",
			Help:      "Group state rebuilds from the handshake log, by result.",
		}, []string{"result"}),
		RelayPosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_posts_total",
			Help:      "Relay channel posts by result.",
		}, []string{"result"}),
		RelayChannelDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_stored_messages",
			Help:      "Messages held by the relay across all channels.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.UnlockAttempts,
			m.EnvelopeOps,
			m.GroupTransitions,
			m.BufferedMessages,
			m.BufferEvictions,
			m.StateCorruptions,
			m.StateRebuilds,
			m.RelayPosts,
			m.RelayChannelDepth,
		)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveUnlock counts one unlock attempt.
func (m *Metrics) ObserveUnlock(method string, err error) {
	if m == nil {
		return
	}
	m.UnlockAttempts.WithLabelValues(method, result(err)).Inc()
}

// ObserveEnvelope counts one envelope operation.
func (m *Metrics) ObserveEnvelope(op string, err error) {
	if m == nil {
		return
	}
	m.EnvelopeOps.WithLabelValues(op, result(err)).Inc()
}

// ObserveTransition counts one epoch transition.
func (m *Metrics) ObserveTransition(kind string) {
	if m == nil {
		return
	}
	m.GroupTransitions.WithLabelValues(kind).Inc()
}

// AddBuffered moves the buffered gauge by delta.
func (m *Metrics) AddBuffered(delta int) {
	if m == nil {
		return
	}
	m.BufferedMessages.Add(float64(delta))
}

// ObserveEviction counts one dropped buffered message.
func (m *Metrics) ObserveEviction(reason string) {
	if m == nil {
		return
	}
	m.BufferEvictions.WithLabelValues(reason).Inc()
}

// ObserveCorruption counts one checksum failure.
func (m *Metrics) ObserveCorruption() {
	if m == nil {
		return
	}
	m.StateCorruptions.Inc()
}

// ObserveRebuild counts one rebuild attempt.
func (m *Metrics) ObserveRebuild(err error) {
	if m == nil {
		return
	}
	m.StateRebuilds.WithLabelValues(result(err)).Inc()
}

// ObserveRelayPost counts one relay post; duplicates are reported separately.
func (m *Metrics) ObserveRelayPost(res string) {
	if m == nil {
		return
	}
	m.RelayPosts.WithLabelValues(res).Inc()
}

// SetRelayDepth records the total number of stored relay messages.
func (m *Metrics) SetRelayDepth(n int) {
	if m == nil {
		return
	}
	m.RelayChannelDepth.Set(float64(n))
}
