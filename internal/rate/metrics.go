package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	remainingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tadoxd_ratelimit_remaining",
		Help: "Remaining daily API calls reported by the vendor",
	})
	quotaLimitGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tadoxd_ratelimit_quota",
		Help: "Daily API call quota reported by the vendor",
	})
	retryAfterGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tadoxd_ratelimit_retry_after_seconds",
		Help: "Cooldown length from the last 429 response",
	})
	lastStatusGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tadoxd_ratelimit_last_status_code",
		Help: "HTTP status of the last vendor API response",
	})
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		remainingGauge,
		quotaLimitGauge,
		retryAfterGauge,
		lastStatusGauge,
	}
}
