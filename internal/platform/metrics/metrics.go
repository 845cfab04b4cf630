package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session-coordination metrics. Collectors are package-level so the SDK can
// increment them without plumbing; Init registers them exactly once for
// processes that expose a /metrics endpoint.
var (
	RefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebridge_refresh_total",
			Help: "Session refresh attempts by trigger and result.",
		},
		[]string{"trigger", "result"},
	)

	RefreshDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ebridge_refresh_deduped_total",
		Help: "Refresh calls coalesced into an already in-flight refresh.",
	})

	GatewayRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ebridge_gateway_retries_total",
		Help: "Requests retried after a successful reactive refresh.",
	})

	SessionTeardowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebridge_session_teardowns_total",
			Help: "Local session teardowns by cause.",
		},
		[]string{"cause"},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RefreshTotal, RefreshDeduped, GatewayRetries, SessionTeardowns)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
