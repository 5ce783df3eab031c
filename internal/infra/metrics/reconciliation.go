package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookOutcomesTotal,
		redemptionsTotal,
		sessionValidationsTotal,
	)
}

var (
	webhookOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guest_webhook_outcomes_total",
			Help: "Webhook reconciliation outcomes.",
		},
		[]string{"outcome"},
	)

	redemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guest_redemptions_total",
			Help: "Redemption attempts by result.",
		},
		[]string{"result"},
	)

	sessionValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guest_session_validations_total",
			Help: "Session validations by verdict.",
		},
		[]string{"valid"},
	)
)

func IncWebhookOutcome(outcome string) {
	webhookOutcomesTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncRedemption(result string) {
	redemptionsTotal.WithLabelValues(norm(result)).Inc()
}

func IncSessionValidation(valid bool) {
	if valid {
		sessionValidationsTotal.WithLabelValues("true").Inc()
	} else {
		sessionValidationsTotal.WithLabelValues("false").Inc()
	}
}
