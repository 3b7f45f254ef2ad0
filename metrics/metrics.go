// Package metrics exposes Prometheus counters for authentication,
// throttling and quota events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters emitted by the engine. All counters are
// monotonic; rates and ratios are derived at query time.
type Metrics struct {
	loginSuccess   prometheus.Counter
	loginFailure   prometheus.Counter
	loginThrottled prometheus.Counter

	refreshSuccess prometheus.Counter
	refreshReplay  prometheus.Counter

	quotaAllowed prometheus.Counter
	quotaDenied  prometheus.Counter

	ipBlocks prometheus.Counter
}

// New registers the counters with reg and returns the set. A nil reg
// falls back to the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		loginSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_login_success_total",
			Help: "Number of successful credential logins.",
		}),
		loginFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_login_failure_total",
			Help: "Number of rejected credential logins.",
		}),
		loginThrottled: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_login_throttled_total",
			Help: "Number of logins rejected before credential checks by IP throttling.",
		}),
		refreshSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_refresh_success_total",
			Help: "Number of successful refresh token rotations.",
		}),
		refreshReplay: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_refresh_replay_total",
			Help: "Number of refresh rotations that lost to a concurrent rotation of the same token.",
		}),
		quotaAllowed: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_quota_allowed_total",
			Help: "Number of quota checks that consumed within the daily limit.",
		}),
		quotaDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_quota_denied_total",
			Help: "Number of quota checks rejected at the daily limit.",
		}),
		ipBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_ip_blocks_total",
			Help: "Number of source addresses placed on the block list.",
		}),
	}
}

func (m *Metrics) LoginSuccess() {
	if m != nil {
		m.loginSuccess.Inc()
	}
}

func (m *Metrics) LoginFailure() {
	if m != nil {
		m.loginFailure.Inc()
	}
}

func (m *Metrics) LoginThrottled() {
	if m != nil {
		m.loginThrottled.Inc()
	}
}

func (m *Metrics) RefreshSuccess() {
	if m != nil {
		m.refreshSuccess.Inc()
	}
}

func (m *Metrics) RefreshReplay() {
	if m != nil {
		m.refreshReplay.Inc()
	}
}

func (m *Metrics) QuotaAllowed() {
	if m != nil {
		m.quotaAllowed.Inc()
	}
}

func (m *Metrics) QuotaDenied() {
	if m != nil {
		m.quotaDenied.Inc()
	}
}

func (m *Metrics) IPBlock() {
	if m != nil {
		m.ipBlocks.Inc()
	}
}
