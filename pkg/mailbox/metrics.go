package mailbox

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultAccepted  = "accepted"
	resultBusy      = "busy"
	resultDelivered = "delivered"
	resultEmpty     = "empty"
	resultEOF       = "eof"
	resultClosed    = "closed"
)

// Metrics are the prometheus collectors of one mailbox. A nil *Metrics
// records nothing.
type Metrics struct {
	Submits     *prometheus.CounterVec
	Receives    *prometheus.CounterVec
	Bytes       *prometheus.CounterVec
	Truncations prometheus.Counter
	Occupied    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmbox",
			Name:      "submits_total",
			Help:      "Submit attempts by result.",
		}, []string{"result"}),
		Receives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmbox",
			Name:      "receives_total",
			Help:      "Receive attempts by result.",
		}, []string{"result"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmbox",
			Name:      "bytes_total",
			Help:      "Payload bytes stored (in) and delivered (out).",
		}, []string{"direction"}),
		Truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shmbox",
			Name:      "truncations_total",
			Help:      "Messages cut to fit the mailbox.",
		}),
		Occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shmbox",
			Name:      "occupied_bytes",
			Help:      "Length of the stored message as last seen by this process.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Submits, m.Receives, m.Bytes, m.Truncations, m.Occupied} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register mailbox metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) submit(result string, n int) {
	if m == nil {
		return
	}
	m.Submits.WithLabelValues(result).Inc()
	if n > 0 {
		m.Bytes.WithLabelValues("in").Add(float64(n))
	}
}

func (m *Metrics) receive(result string, n int) {
	if m == nil {
		return
	}
	m.Receives.WithLabelValues(result).Inc()
	if n > 0 {
		m.Bytes.WithLabelValues("out").Add(float64(n))
	}
}

func (m *Metrics) truncated() {
	if m == nil {
		return
	}
	m.Truncations.Inc()
}

func (m *Metrics) setOccupied(n int) {
	if m == nil {
		return
	}
	m.Occupied.Set(float64(n))
}
