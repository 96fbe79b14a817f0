/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package config

import "fmt"

// Settings is the env-driven runtime configuration of a run.
type Settings struct {
	// APIKey authenticates against the gateway.
	APIKey string `env:"OPENROUTER_API_KEY"`

	// SelfProbeRate is the probability of substituting the evaluator's own
	// response for a pairing.
	SelfProbeRate float64 `env:"SELF_PROBE_RATE, default=0.20"`

	// RetryBound is how many times a pairing is re-asked after an
	// unparseable response.
	RetryBound int `env:"RETRY_BOUND, default=2"`

	// Concurrency bounds in-flight model calls.
	Concurrency int `env:"CONCURRENCY, default=4"`

	// BudgetUSD is the run's spend ceiling in dollars; 0 disables it.
	BudgetUSD float64 `env:"BUDGET_USD, default=0"`

	// AnomalyThreshold is the single-field outlier gap in score points.
	AnomalyThreshold float64 `env:"ANOMALY_THRESHOLD, default=8.0"`

	// DisagreementThreshold is the consensus deviation beyond which a
	// record is flagged.
	DisagreementThreshold float64 `env:"DISAGREEMENT_THRESHOLD, default=2.0"`

	// ModelsPath, TasksDir, CriteriaPath and ResponsesDir locate the
	// static inputs; empty CriteriaPath uses the built-in rubric.
	ModelsPath   string `env:"MODELS_PATH, default=config/models.yaml"`
	TasksDir     string `env:"TASKS_DIR, default=tasks"`
	CriteriaPath string `env:"CRITERIA_PATH"`
	ResponsesDir string `env:"RESPONSES_DIR, default=results/raw"`

	// OutputDir receives the serialized records, bias metrics and report.
	OutputDir string `env:"OUTPUT_DIR, default=results"`

	// Domain restricts the run to one task domain when non-empty.
	Domain string `env:"DOMAIN"`

	// MetricsPort serves Prometheus metrics when positive.
	MetricsPort int `env:"METRICS_PORT, default=0"`
}

// Validate checks the runtime settings.
func (s Settings) Validate() error {
	if s.SelfProbeRate < 0 || s.SelfProbeRate > 1 {
		return fmt.Errorf("self-probe rate must be in [0,1], got %v", s.SelfProbeRate)
	}
	if s.RetryBound < 0 {
		return fmt.Errorf("retry bound cannot be negative, got %d", s.RetryBound)
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", s.Concurrency)
	}
	if s.BudgetUSD < 0 {
		return fmt.Errorf("budget cannot be negative, got %v", s.BudgetUSD)
	}
	if s.AnomalyThreshold <= 0 {
		return fmt.Errorf("anomaly threshold must be positive, got %v", s.AnomalyThreshold)
	}
	if s.DisagreementThreshold <= 0 {
		return fmt.Errorf("disagreement threshold must be positive, got %v", s.DisagreementThreshold)
	}
	return nil
}
