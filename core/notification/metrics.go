package notification

import "github.com/prometheus/client_golang/prometheus"

var (
	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kickoff_notification_checks_total",
		Help: "Fixture checks by outcome.",
	}, []string{"outcome"})

	dispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kickoff_notifications_dispatched_total",
		Help: "Notification kinds dispatched (marker written, deliveries enqueued).",
	}, []string{"kind"})

	sentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kickoff_notifications_sent_total",
		Help: "Notifications delivered to subscribers.",
	}, []string{"channel", "kind"})

	failedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kickoff_notifications_failed_total",
		Help: "Notification deliveries that failed and will be retried.",
	}, []string{"channel", "kind"})
)

func init() {
	prometheus.MustRegister(checksTotal, dispatchedTotal, sentTotal, failedTotal)
}
