/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes Prometheus instrumentation for evaluation runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Global metrics with consistent dimensions
	pairingCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosseval_pairings_total",
			Help: "Total number of evaluation pairings processed",
		},
		[]string{"layer", "outcome"},
	)

	repairCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosseval_repairs_total",
			Help: "Total number of responses needing structured-output repair",
		},
		[]string{"layer", "stage"},
	)

	retryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosseval_retries_total",
			Help: "Total number of pairing retries after unparseable responses",
		},
		[]string{"layer"},
	)

	filteredCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosseval_filtered_total",
			Help: "Total number of records flagged by the anomaly filter",
		},
		[]string{"reason"},
	)

	spendGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crosseval_spend_usd",
			Help: "Cumulative dollar spend of the current run",
		},
	)
)

// Pairing outcomes.
const (
	OutcomeRecorded = "recorded"
	OutcomeRepaired = "repaired"
	OutcomeFailed   = "failed"
)

// RecordPairing counts a completed pairing for the given layer.
func RecordPairing(layer, outcome string) {
	pairingCounter.WithLabelValues(layer, outcome).Inc()
}

// RecordRepair counts a response that needed repair at the given stage.
func RecordRepair(layer, stage string) {
	repairCounter.WithLabelValues(layer, stage).Inc()
}

// RecordRetry counts a pairing retry.
func RecordRetry(layer string) {
	retryCounter.WithLabelValues(layer).Inc()
}

// RecordFiltered counts a record flagged by the anomaly filter.
func RecordFiltered(reason string) {
	filteredCounter.WithLabelValues(reason).Inc()
}

// SetSpend updates the cumulative spend gauge.
func SetSpend(usd float64) {
	spendGauge.Set(usd)
}
