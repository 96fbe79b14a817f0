/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package record

import (
	"time"
)

// Cross-evaluation criteria, in canonical order.
const (
	CriterionAccuracy           = "accuracy"
	CriterionCompleteness       = "completeness"
	CriterionLogicalConsistency = "logical_consistency"
	CriterionClarity            = "clarity"
	CriterionOriginality        = "originality"
)

// Meta-evaluation criteria, in canonical order.
const (
	CriterionFairness    = "fairness"
	CriterionSpecificity = "specificity"
	CriterionCoverage    = "coverage"
	CriterionCalibration = "calibration"
)

// CrossCriteria lists the Layer-1 scoring criteria in canonical order.
var CrossCriteria = []string{
	CriterionAccuracy,
	CriterionCompleteness,
	CriterionLogicalConsistency,
	CriterionClarity,
	CriterionOriginality,
}

// MetaCriteria lists the Layer-2 scoring criteria in canonical order.
var MetaCriteria = []string{
	CriterionFairness,
	CriterionSpecificity,
	CriterionCoverage,
	CriterionCalibration,
}

// Status reflects how a record's structured payload was obtained.
type Status string

const (
	// StatusValid means the payload parsed strictly on the first attempt.
	StatusValid Status = "valid"
	// StatusRepaired means one or more repair stages were needed and some
	// fields may have been defaulted; see DefaultedFields.
	StatusRepaired Status = "repaired"
)

// ModelResponse is a model's answer to a task, produced once by the upstream
// executor. Read-only input to this engine.
type ModelResponse struct {
	TaskID           string  `json:"task_id"`
	Model            string  `json:"model_key"`
	ModelID          string  `json:"model_id"`
	Response         string  `json:"response"`
	PromptTokens     int64   `json:"prompt_tokens,omitempty"`
	CompletionTokens int64   `json:"completion_tokens,omitempty"`
	LatencyMS        float64 `json:"latency_ms,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Scores holds the per-criterion scores of a cross-evaluation, each in [0,10].
type Scores struct {
	Accuracy           float64 `json:"accuracy"`
	Completeness       float64 `json:"completeness"`
	LogicalConsistency float64 `json:"logical_consistency"`
	Clarity            float64 `json:"clarity"`
	Originality        float64 `json:"originality"`
}

// Values returns the scores in canonical criterion order.
func (s Scores) Values() []float64 {
	return []float64{s.Accuracy, s.Completeness, s.LogicalConsistency, s.Clarity, s.Originality}
}

// ByCriterion returns the score for the named criterion.
func (s Scores) ByCriterion(name string) (float64, bool) {
	switch name {
	case CriterionAccuracy:
		return s.Accuracy, true
	case CriterionCompleteness:
		return s.Completeness, true
	case CriterionLogicalConsistency:
		return s.LogicalConsistency, true
	case CriterionClarity:
		return s.Clarity, true
	case CriterionOriginality:
		return s.Originality, true
	}
	return 0, false
}

// Mean returns the unweighted mean across all five criteria.
func (s Scores) Mean() float64 {
	vals := s.Values()
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// MetaScores holds the per-criterion scores of a meta-evaluation.
type MetaScores struct {
	Fairness    float64 `json:"fairness"`
	Specificity float64 `json:"specificity"`
	Coverage    float64 `json:"coverage"`
	Calibration float64 `json:"calibration"`
}

// Values returns the scores in canonical criterion order.
func (s MetaScores) Values() []float64 {
	return []float64{s.Fairness, s.Specificity, s.Coverage, s.Calibration}
}

// Mean returns the unweighted mean across all four criteria.
func (s MetaScores) Mean() float64 {
	vals := s.Values()
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// EvaluationRecord is a single accepted Layer-1 cross-evaluation.
// Immutable once appended to the store; anomaly filtering sets Excluded
// rather than removing the record.
type EvaluationRecord struct {
	TaskID     string `json:"task_id"`
	Evaluator  string `json:"evaluator"`
	Subject    string `json:"subject"`
	BlindLabel string `json:"blind_label"`

	Scores     Scores   `json:"scores"`
	Strengths  []string `json:"strengths,omitempty"`
	Weaknesses []string `json:"weaknesses,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`

	// SelfProbe marks records where the evaluator's own response was
	// substituted under the subject's blind label. Probe records are
	// excluded from "scores given to others" but feed self-bias detection.
	SelfProbe bool `json:"self_probe"`

	Status          Status   `json:"status"`
	DefaultedFields []string `json:"defaulted_fields,omitempty"`

	// Excluded is set post hoc by the anomaly filter; the record is kept
	// for audit but contributes to no aggregate.
	Excluded        bool   `json:"excluded,omitempty"`
	ExclusionReason string `json:"exclusion_reason,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Countable reports whether the record may contribute to aggregates at all.
func (e *EvaluationRecord) Countable() bool {
	return !e.Excluded
}

// MetaEvaluationRecord is a single accepted Layer-2 meta-evaluation. The
// (Evaluator, Subject) pair references the Layer-1 evaluation being judged.
type MetaEvaluationRecord struct {
	TaskID        string `json:"task_id"`
	MetaEvaluator string `json:"meta_evaluator"`
	Evaluator     string `json:"evaluator"`
	Subject       string `json:"subject"`

	Scores         MetaScores `json:"scores"`
	DetectedBiases []string   `json:"detected_biases,omitempty"`
	MissedPoints   []string   `json:"missed_points,omitempty"`
	Reasoning      string     `json:"reasoning,omitempty"`

	Status          Status   `json:"status"`
	DefaultedFields []string `json:"defaulted_fields,omitempty"`

	Excluded        bool   `json:"excluded,omitempty"`
	ExclusionReason string `json:"exclusion_reason,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Layer identifies which evaluation layer a pairing belongs to.
type Layer string

const (
	// Layer1 is blind cross-evaluation of responses.
	Layer1 Layer = "cross"
	// Layer2 is meta-evaluation of Layer-1 evaluations.
	Layer2 Layer = "meta"
)

// PairingFailure records a pairing that exhausted its retries without
// producing a record. Failures are recorded as missing data, never
// fabricated.
type PairingFailure struct {
	Layer     Layer     `json:"layer"`
	TaskID    string    `json:"task_id"`
	Evaluator string    `json:"evaluator"`
	Subject   string    `json:"subject"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
