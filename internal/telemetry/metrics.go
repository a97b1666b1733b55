/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MonitorTicksTotal counts training monitor tick sweeps.
	MonitorTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilotwatch_monitor_ticks_total",
		Help: "Number of training monitor tick sweeps.",
	})

	// SkillsCompletedTotal counts queue entries retired as completed.
	SkillsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilotwatch_skills_completed_total",
		Help: "Number of queued skills retired as completed.",
	})

	// QueueImportsTotal counts snapshot imports by outcome.
	QueueImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pilotwatch_queue_imports_total",
		Help: "Number of queue snapshot imports.",
	}, []string{"status"})

	// UpstreamErrorsTotal counts failed calls to the game API.
	UpstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pilotwatch_upstream_errors_total",
		Help: "Number of failed upstream game API calls.",
	}, []string{"op"})

	// AlertsSentTotal counts per-skill completion alerts dispatched.
	AlertsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilotwatch_alerts_sent_total",
		Help: "Number of skill completion alerts dispatched.",
	})

	// AlertFailuresTotal counts alert deliveries that errored.
	AlertFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilotwatch_alert_failures_total",
		Help: "Number of skill completion alerts that failed to deliver.",
	})

	// MonitoredQueues tracks the number of queues attached to the monitor.
	MonitoredQueues = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pilotwatch_monitored_queues",
		Help: "Number of training queues currently attached to the monitor.",
	})

	// WebhookDeliveriesTotal counts webhook posts by outcome.
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pilotwatch_webhook_deliveries_total",
		Help: "Number of webhook delivery attempts.",
	}, []string{"status"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
