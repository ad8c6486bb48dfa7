package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	ticks          prometheus.Counter
	observations   *prometheus.CounterVec
	earlyWarnings  prometheus.Counter
	actions        *prometheus.CounterVec
	gateRejections prometheus.Counter
	evolutions     prometheus.Counter
	bestFitness    prometheus.Gauge
	activeActions  prometheus.Gauge

	handler http.Handler
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &metrics{
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "swarmshield_ticks_total",
			Help: "Completed pipeline ticks.",
		}),
		observations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmshield_observations_total",
			Help: "Scored observations by attack type.",
		}, []string{"attack_type"}),
		earlyWarnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "swarmshield_early_warnings_total",
			Help: "Sources that entered the early-warning state.",
		}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmshield_actions_total",
			Help: "Enforcement actions by kind and status.",
		}, []string{"kind", "status"}),
		gateRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "swarmshield_gate_rejections_total",
			Help: "Predictive requests declined by the safety gate.",
		}),
		evolutions: factory.NewCounter(prometheus.CounterOpts{
			Name: "swarmshield_evolutions_total",
			Help: "Completed threshold evolution runs.",
		}),
		bestFitness: factory.NewGauge(prometheus.GaugeOpts{
			Name: "swarmshield_best_fitness",
			Help: "Fitness of the most recently evolved threshold set.",
		}),
		activeActions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "swarmshield_active_actions",
			Help: "Actions currently active on the enforcement surface.",
		}),
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}
