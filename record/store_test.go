/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package record

import (
	"sync"
	"testing"
)

func TestStoreConcurrentAppend(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	const workers = 50
	const perWorker = 20

	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for range perWorker {
				store.AddEvaluation(EvaluationRecord{
					TaskID:    "task",
					Evaluator: "eval",
					Subject:   "subj",
					Status:    StatusValid,
				})
				_ = w
			}
		}(w)
	}
	wg.Wait()

	if got := len(store.Evaluations()); got != workers*perWorker {
		t.Errorf("Expected %d evaluations, got %d", workers*perWorker, got)
	}
}

func TestStoreExcludeIsFlagNotDeletion(t *testing.T) {
	store := NewStore()
	store.AddEvaluation(EvaluationRecord{TaskID: "t1", Evaluator: "a", Subject: "b", Status: StatusValid})
	store.AddEvaluation(EvaluationRecord{TaskID: "t1", Evaluator: "b", Subject: "a", Status: StatusRepaired})

	if err := store.Exclude(1, "single_field_outlier"); err != nil {
		t.Fatalf("Exclude failed: %v", err)
	}

	evals := store.Evaluations()
	if len(evals) != 2 {
		t.Fatalf("Exclusion must not delete records, got %d", len(evals))
	}
	if !evals[1].Excluded || evals[1].ExclusionReason != "single_field_outlier" {
		t.Errorf("Expected record 1 flagged with reason, got %+v", evals[1])
	}
	if evals[0].Excluded {
		t.Error("Record 0 should not be flagged")
	}

	counts := store.Counts()
	if counts.Excluded != 1 || counts.Repaired != 1 || counts.Evaluations != 2 {
		t.Errorf("Unexpected counts: %+v", counts)
	}
}

func TestStoreExcludeOutOfRange(t *testing.T) {
	store := NewStore()
	if err := store.Exclude(0, "reason"); err == nil {
		t.Error("Expected error for out-of-range index")
	}
}

func TestStoreSnapshotsAreCopies(t *testing.T) {
	store := NewStore()
	store.AddEvaluation(EvaluationRecord{TaskID: "t1"})

	snap := store.Evaluations()
	snap[0].TaskID = "mutated"

	if got := store.Evaluations()[0].TaskID; got != "t1" {
		t.Errorf("Snapshot mutation leaked into store: %q", got)
	}
}

func TestScoresMean(t *testing.T) {
	s := Scores{Accuracy: 8, Completeness: 7, LogicalConsistency: 9, Clarity: 6, Originality: 5}
	if got := s.Mean(); got != 7.0 {
		t.Errorf("Mean: got %f, wanted 7.0", got)
	}
}

func TestScoresByCriterion(t *testing.T) {
	s := Scores{Accuracy: 1, Completeness: 2, LogicalConsistency: 3, Clarity: 4, Originality: 5}
	for i, name := range CrossCriteria {
		v, ok := s.ByCriterion(name)
		if !ok {
			t.Fatalf("Unknown criterion %q", name)
		}
		if v != float64(i+1) {
			t.Errorf("Criterion %q: got %f, wanted %d", name, v, i+1)
		}
	}
	if _, ok := s.ByCriterion("bogus"); ok {
		t.Error("Expected false for unknown criterion")
	}
}
