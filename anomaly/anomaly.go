/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package anomaly flags corrupted or implausible evaluation records, the
// signature left behind when a partially repaired payload slips through
// with plausible-looking but fabricated score patterns. Flagged records
// stay in the store for audit; they just stop counting.
package anomaly

import (
	"context"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/crosseval/metrics"
	"chainguard.dev/crosseval/record"
)

// Exclusion reasons.
const (
	// ReasonAllZero marks records scoring zero on every criterion, a
	// total parse failure that slipped through as numbers.
	ReasonAllZero = "all_zero"
	// ReasonUniformFill marks records where every criterion carries the
	// same non-zero score, a default-fill signature.
	ReasonUniformFill = "uniform_fill"
	// ReasonSingleFieldOutlier marks records where a zero sits below an
	// otherwise tight high cluster, the signature of one field lost
	// during repair.
	ReasonSingleFieldOutlier = "single_field_outlier"
	// ReasonEmptyRationale marks high-scoring records with no reasoning,
	// strengths, or weaknesses to back them.
	ReasonEmptyRationale = "empty_rationale"
)

// DefaultThreshold is the minimum non-zero score for the single-field
// outlier heuristic: a zero only looks anomalous when the remaining
// scores cluster at least this high.
const DefaultThreshold = 8.0

// Filter applies the exclusion heuristics to cross-evaluation records.
type Filter struct {
	threshold float64
}

// NewFilter creates a filter with the given outlier threshold; values of
// zero or less fall back to DefaultThreshold.
func NewFilter(threshold float64) *Filter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Filter{threshold: threshold}
}

// Flag returns the exclusion reason for a record, or "" when the record
// looks legitimate. Self-probe records are inspected like any other: a
// corrupted probe corrupts self-bias detection just the same.
func (f *Filter) Flag(e *record.EvaluationRecord) string {
	values := e.Scores.Values()

	allZero := true
	uniform := true
	zeroCount := 0
	minNonZero := -1.0
	var sum float64
	for _, v := range values {
		sum += v
		if v != 0 {
			allZero = false
			if minNonZero < 0 || v < minNonZero {
				minNonZero = v
			}
		} else {
			zeroCount++
		}
		if v != values[0] {
			uniform = false
		}
	}

	switch {
	case allZero:
		return ReasonAllZero
	case uniform:
		return ReasonUniformFill
	case zeroCount >= 1 && minNonZero >= f.threshold:
		return ReasonSingleFieldOutlier
	}

	mean := sum / float64(len(values))
	if mean >= 8.0 && e.Reasoning == "" && len(e.Strengths) == 0 && len(e.Weaknesses) == 0 {
		return ReasonEmptyRationale
	}
	return ""
}

// Apply flags every anomalous evaluation in the store and returns how many
// records were excluded.
func (f *Filter) Apply(ctx context.Context, store *record.Store) (int, error) {
	log := clog.FromContext(ctx)
	excluded := 0
	for i, e := range store.Evaluations() {
		if e.Excluded {
			continue
		}
		reason := f.Flag(&e)
		if reason == "" {
			continue
		}
		if err := store.Exclude(i, reason); err != nil {
			return excluded, err
		}
		excluded++
		metrics.RecordFiltered(reason)
		log.With("task", e.TaskID).
			With("evaluator", e.Evaluator).
			With("subject", e.Subject).
			With("reason", reason).
			Warn("Excluded anomalous evaluation")
	}
	if excluded > 0 {
		log.With("excluded", excluded).Info("Anomaly filter pass complete")
	}
	return excluded, nil
}
