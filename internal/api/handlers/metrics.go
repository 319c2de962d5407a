package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the delivery pipeline. Denial reasons are exported
// here and in the audit trail only; the network caller never sees them.
type Metrics struct {
	Deliveries   *prometheus.CounterVec
	Denials      *prometheus.CounterVec
	TokensMinted prometheus.Counter
	TokensBurned prometheus.Counter
	RateLimited  prometheus.Counter
	DecoyHits    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubarmour_deliveries_total",
			Help: "Successful payload deliveries by route.",
		}, []string{"route"}),
		Denials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubarmour_denials_total",
			Help: "Denied requests by reason.",
		}, []string{"reason"}),
		TokensMinted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubarmour_tokens_minted_total",
			Help: "Exchange tokens minted.",
		}),
		TokensBurned: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubarmour_tokens_burned_total",
			Help: "Exchange tokens burned successfully.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubarmour_rate_limited_total",
			Help: "Requests dropped by the rate limiter.",
		}),
		DecoyHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "pubarmour_decoy_hits_total",
			Help: "Requests that hit a decoy route.",
		}),
	}
}
