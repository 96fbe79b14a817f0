/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"chainguard.dev/crosseval/bias"
	"chainguard.dev/crosseval/profile"
	"chainguard.dev/crosseval/record"
)

func testOutput(t *testing.T) *Output {
	t.Helper()
	store := record.NewStore()
	store.AddEvaluation(record.EvaluationRecord{
		TaskID: "t1", Evaluator: "alpha", Subject: "beta",
		Scores: record.Scores{Accuracy: 8, Completeness: 7, LogicalConsistency: 8, Clarity: 7, Originality: 6},
		Status: record.StatusValid,
	})
	store.AddEvaluation(record.EvaluationRecord{
		TaskID: "t1", Evaluator: "beta", Subject: "alpha",
		Scores: record.Scores{Accuracy: 10, Completeness: 10, LogicalConsistency: 10, Clarity: 10},
		Status: record.StatusRepaired,
	})
	if err := store.Exclude(1, "single_field_outlier"); err != nil {
		t.Fatal(err)
	}
	store.AddMetaEvaluation(record.MetaEvaluationRecord{
		TaskID: "t1", MetaEvaluator: "beta", Evaluator: "alpha", Subject: "beta",
		Scores: record.MetaScores{Fairness: 7, Specificity: 6, Coverage: 7, Calibration: 8},
		Status: record.StatusValid,
	})

	selfBias := 1.5
	biasReport := &bias.Report{
		Profiles: map[string]*bias.Profile{
			"alpha": {Evaluator: "alpha", SelfBias: &selfBias, Harshness: -0.3, Consistency: 0.8, MetaReliability: 7.2},
			"beta":  {Evaluator: "beta", Harshness: 0.3, Consistency: 1.1, MetaReliability: 6.9},
		},
	}
	profileReport := &profile.Report{
		Profiles: map[string]*profile.ModelProfile{
			"beta": {
				Model: "beta",
				Domains: map[string]*profile.DomainProfile{
					"math": {
						Domain: "math",
						CorrectedScores: map[string]float64{
							record.CriterionAccuracy: 8.1, record.CriterionCompleteness: 7.0,
							record.CriterionLogicalConsistency: 8.0, record.CriterionClarity: 7.0,
							record.CriterionOriginality: 6.2,
						},
						WeightedScore: 7.5,
					},
				},
				OverallScore: 7.5,
			},
		},
		Rankings: map[string][]string{"overall": {"beta"}, "math": {"beta"}},
		Insights: []string{"Overall top performer: beta (score: 7.5/10)"},
	}
	return Build(store, biasReport, profileReport, 1.39, true)
}

func TestBuildOutputShape(t *testing.T) {
	out := testOutput(t)

	if out.Counts.Evaluations != 2 {
		t.Errorf("Counts.Evaluations = %d, want 2", out.Counts.Evaluations)
	}
	if !out.Incomplete {
		t.Error("Incomplete = false, want true")
	}
	ds, ok := out.Scores["beta"]["math"]
	if !ok {
		t.Fatal("missing beta/math domain scores")
	}
	if ds.Weighted != 7.5 {
		t.Errorf("Weighted = %v, want 7.5", ds.Weighted)
	}
	if got := out.Bias["alpha"]; got.SelfBias == nil || *got.SelfBias != 1.5 {
		t.Errorf("alpha SelfBias = %v, want 1.5", got.SelfBias)
	}
}

func TestWriteJSONPreservesNulls(t *testing.T) {
	var buf bytes.Buffer
	if err := testOutput(t).WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	biasMap := decoded["bias"].(map[string]any)
	beta := biasMap["beta"].(map[string]any)
	if v, present := beta["self_bias"]; !present || v != nil {
		t.Errorf("beta.self_bias = %v (present=%v), want explicit null", v, present)
	}
	if v, present := beta["series_bias"]; !present || v != nil {
		t.Errorf("beta.series_bias = %v (present=%v), want explicit null", v, present)
	}
	alpha := biasMap["alpha"].(map[string]any)
	if v := alpha["self_bias"]; v != 1.5 {
		t.Errorf("alpha.self_bias = %v, want 1.5", v)
	}
}

func TestOutputCarriesRecordSets(t *testing.T) {
	var buf bytes.Buffer
	if err := testOutput(t).WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Evaluations     []record.EvaluationRecord     `json:"evaluations"`
		MetaEvaluations []record.MetaEvaluationRecord `json:"meta_evaluations"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Evaluations) != 2 {
		t.Fatalf("serialized evaluations = %d, want 2", len(decoded.Evaluations))
	}
	// The excluded record survives serialization with its flag and reason.
	var excluded *record.EvaluationRecord
	for i := range decoded.Evaluations {
		if decoded.Evaluations[i].Excluded {
			excluded = &decoded.Evaluations[i]
		}
	}
	if excluded == nil {
		t.Fatal("no excluded evaluation in serialized output")
	}
	if excluded.ExclusionReason != "single_field_outlier" {
		t.Errorf("ExclusionReason = %q, want single_field_outlier", excluded.ExclusionReason)
	}
	if len(decoded.MetaEvaluations) != 1 {
		t.Fatalf("serialized meta-evaluations = %d, want 1", len(decoded.MetaEvaluations))
	}
	if m := decoded.MetaEvaluations[0]; m.MetaEvaluator != "beta" || m.Scores.Calibration != 8 {
		t.Errorf("meta record = %+v", m)
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := testOutput(t).WriteSummary(&buf); err != nil {
		t.Fatal(err)
	}
	text := buf.String()

	for _, want := range []string{
		"# Cross-Evaluation Run Summary",
		"budget exhausted",
		"Evaluations recorded",
		"n/a", // beta's nil self bias
		"+1.50",
		"## Overall ranking",
		"1. beta",
		"Overall top performer",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}
