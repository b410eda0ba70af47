package oauth

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshSuccess = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tadoxd_oauth_refresh_success_total",
			Help: "Successful OAuth refreshes",
		},
	)
	refreshFailure = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tadoxd_oauth_refresh_failure_total",
			Help: "Failed OAuth refreshes",
		},
	)
	tokenValid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tadoxd_oauth_token_valid",
			Help: "OAuth access token validity (1=valid, 0=invalid)",
		},
	)
	remotePersistOK = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tadoxd_oauth_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
	)
	scopeMismatch = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tadoxd_oauth_scope_mismatch_total",
			Help: "Scope mismatches between build and persisted state",
		},
	)
)

// MetricsCollectors returns collectors for the OAuth module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshSuccess,
		refreshFailure,
		tokenValid,
		remotePersistOK,
		scopeMismatch,
	}
}
