package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msggw_messages_total",
			Help: "Messages lifecycle counter by stage and channel",
		},
		[]string{"stage", "channel"}, // pending|sending|sent|delivered|failed|retry , sms|mms|email
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "msggw_queue_depth",
			Help: "Approximate unacknowledged entries per delivery queue",
		},
		[]string{"queue"},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msggw_webhook_events_total",
			Help: "Inbound provider webhook results",
		},
		[]string{"provider", "result"}, // inbound|status|duplicate|invalid|unknown
	)

	BreakerOpensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msggw_breaker_opens_total",
			Help: "Circuit breaker open events per provider",
		},
		[]string{"provider"},
	)

	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msggw_ratelimit_rejected_total",
			Help: "Requests rejected by admission control per endpoint",
		},
		[]string{"endpoint"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		MessagesTotal,
		QueueDepth,
		WebhookEventsTotal,
		BreakerOpensTotal,
		RateLimitRejectedTotal,
	)
}
