package session

import "github.com/prometheus/client_golang/prometheus"

// Failure reasons reported by Metrics.RefreshFailed.
const (
	ReasonInvalidToken = "invalid_token"
	ReasonNotFound     = "not_found"
	ReasonReuse        = "reuse"
	ReasonLostRace     = "lost_race"
	ReasonStorage      = "storage"
)

// Metrics holds session lifecycle counters. A nil *Metrics records nothing.
type Metrics struct {
	created        prometheus.Counter
	rotated        prometheus.Counter
	revoked        prometheus.Counter
	revokedAll     prometheus.Counter
	reuse          prometheus.Counter
	refreshFailure *prometheus.CounterVec
}

// NewMetrics creates the session counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper", Subsystem: "session", Name: "created_total",
			Help: "Sessions created on login.",
		}),
		rotated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper", Subsystem: "session", Name: "rotated_total",
			Help: "Successful refresh token rotations.",
		}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper", Subsystem: "session", Name: "revoked_total",
			Help: "Single-session revocations (logout).",
		}),
		revokedAll: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper", Subsystem: "session", Name: "revoked_all_total",
			Help: "Sessions revoked by revoke-all-for-user.",
		}),
		reuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper", Subsystem: "session", Name: "reuse_detected_total",
			Help: "Rotated-away refresh tokens presented again.",
		}),
		refreshFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper", Subsystem: "session", Name: "refresh_failures_total",
			Help: "Refresh attempts that did not rotate, by reason.",
		}, []string{"reason"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.created, m.rotated, m.revoked, m.revokedAll, m.reuse, m.refreshFailure} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) sessionCreated() {
	if m != nil {
		m.created.Inc()
	}
}

func (m *Metrics) sessionRotated() {
	if m != nil {
		m.rotated.Inc()
	}
}

func (m *Metrics) sessionRevoked() {
	if m != nil {
		m.revoked.Inc()
	}
}

func (m *Metrics) sessionsRevokedAll(n int64) {
	if m != nil && n > 0 {
		m.revokedAll.Add(float64(n))
	}
}

func (m *Metrics) reuseDetected() {
	if m != nil {
		m.reuse.Inc()
	}
}

// RefreshFailed counts a refresh failure by reason.
func (m *Metrics) RefreshFailed(reason string) {
	if m != nil {
		m.refreshFailure.WithLabelValues(reason).Inc()
	}
}
