package library

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Reasons and outcomes used as label values.
const (
	reasonNoCopies      = "no_copies"
	reasonMemberMissing = "member_missing"
	outcomeClosed       = "closed"
	outcomeNoOpenLoan   = "no_open_loan"
)

// Metrics counts lending outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	loansIssued    prometheus.Counter
	borrowRejected *prometheus.CounterVec
	returns        *prometheus.CounterVec
}

// NewMetrics creates the lending counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		loansIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "library",
			Name:      "loans_issued_total",
			Help:      "Loans created by successful borrow operations.",
		}),
		borrowRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "library",
			Name:      "borrow_rejected_total",
			Help:      "Borrow operations rejected before a loan was recorded.",
		}, []string{"reason"}),
		returns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "library",
			Name:      "returns_total",
			Help:      "Return operations by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.loansIssued, m.borrowRejected, m.returns} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) loanIssued() {
	if m != nil {
		m.loansIssued.Inc()
	}
}

func (m *Metrics) borrowRejectedFor(reason string) {
	if m != nil {
		m.borrowRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) returned(outcome string) {
	if m != nil {
		m.returns.WithLabelValues(outcome).Inc()
	}
}
