// Package metrics holds the Prometheus collectors for the alerting core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	alertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertcore",
			Name:      "alerts_created_total",
			Help:      "Alerts created, partitioned by severity.",
		},
		[]string{"severity"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertcore",
			Name:      "state_transitions_total",
			Help:      "Committed lifecycle transitions, partitioned by target state.",
		},
		[]string{"to_state"},
	)

	slaBreachesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertcore",
			Name:      "sla_breaches_total",
			Help:      "SLA breaches recorded, partitioned by kind (tta or ttr).",
		},
		[]string{"kind"},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertcore",
			Name:      "escalations_total",
			Help:      "Tier advancements committed by the escalation driver.",
		},
		[]string{"severity"},
	)

	intentsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertcore",
			Name:      "notification_intents_total",
			Help:      "Notification intents emitted, partitioned by channel.",
		},
		[]string{"channel"},
	)

	groupsAbsorbedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "alertcore",
			Name:      "group_absorbed_alerts_total",
			Help:      "Alerts absorbed into an existing active group.",
		},
	)
)

// Register attaches all alertcore collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		alertsCreatedTotal,
		transitionsTotal,
		slaBreachesTotal,
		escalationsTotal,
		intentsEmittedTotal,
		groupsAbsorbedTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAlertCreated counts one alert ingress.
func ObserveAlertCreated(severity string) { alertsCreatedTotal.WithLabelValues(severity).Inc() }

// ObserveTransition counts one committed transition.
func ObserveTransition(toState string) { transitionsTotal.WithLabelValues(toState).Inc() }

// ObserveSLABreach counts one breach ("tta" or "ttr").
func ObserveSLABreach(kind string) { slaBreachesTotal.WithLabelValues(kind).Inc() }

// ObserveEscalation counts one tier advancement.
func ObserveEscalation(severity string) { escalationsTotal.WithLabelValues(severity).Inc() }

// ObserveIntent counts one emitted notification intent.
func ObserveIntent(channel string) { intentsEmittedTotal.WithLabelValues(channel).Inc() }

// ObserveGroupAbsorb counts one alert absorbed into an active group.
func ObserveGroupAbsorb() { groupsAbsorbedTotal.Inc() }
