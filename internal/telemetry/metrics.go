package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eventdraw"

// Metrics groups the service level collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	identifyAttempts *prometheus.CounterVec
	identifySteps    *prometheus.CounterVec
	draws            *prometheus.CounterVec
	prizeAdjustments *prometheus.CounterVec
	checkIns         *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		identifyAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identify_attempts_total",
			Help:      "Identification attempts by outcome.",
		}, []string{"kiosk", "outcome"}),

		identifySteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identify_capture_steps_total",
			Help:      "Capture steps by result.",
		}, []string{"kiosk", "result"}),

		draws: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draws_total",
			Help:      "Draw operations by operation and result.",
		}, []string{"op", "result"}),

		prizeAdjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prize_adjustments_total",
			Help:      "Quota ledger adjustments by direction and result.",
		}, []string{"direction", "result"}),

		checkIns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_ins_total",
			Help:      "Check-in commits by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) IdentifyAttempt(kiosk, outcome string) {
	if m == nil {
		return
	}
	m.identifyAttempts.WithLabelValues(kiosk, outcome).Inc()
}

func (m *Metrics) IdentifyStep(kiosk, result string) {
	if m == nil {
		return
	}
	m.identifySteps.WithLabelValues(kiosk, result).Inc()
}

func (m *Metrics) Draw(op string, err error) {
	if m == nil {
		return
	}
	m.draws.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) PrizeAdjustment(delta int, err error) {
	if m == nil {
		return
	}
	dir := "increment"
	if delta < 0 {
		dir = "decrement"
	}
	m.prizeAdjustments.WithLabelValues(dir, result(err)).Inc()
}

func (m *Metrics) CheckIn(err error) {
	if m == nil {
		return
	}
	m.checkIns.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
