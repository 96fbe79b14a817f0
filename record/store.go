/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package record

import (
	"fmt"
	"sync"
)

// Store is the append-only accumulator for records produced by concurrent
// orchestrator workers. Appends are mutex-guarded so no update is lost;
// snapshots return copies so callers can't mutate accepted records.
type Store struct {
	mu       sync.Mutex
	evals    []EvaluationRecord
	metas    []MetaEvaluationRecord
	failures []PairingFailure
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// AddEvaluation appends an accepted Layer-1 record.
func (s *Store) AddEvaluation(rec EvaluationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals = append(s.evals, rec)
}

// AddMetaEvaluation appends an accepted Layer-2 record.
func (s *Store) AddMetaEvaluation(rec MetaEvaluationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas = append(s.metas, rec)
}

// AddFailure records a pairing that produced no record.
func (s *Store) AddFailure(f PairingFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
}

// Evaluations returns a copy of all accepted Layer-1 records, including
// excluded ones.
func (s *Store) Evaluations() []EvaluationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EvaluationRecord, len(s.evals))
	copy(out, s.evals)
	return out
}

// MetaEvaluations returns a copy of all accepted Layer-2 records.
func (s *Store) MetaEvaluations() []MetaEvaluationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MetaEvaluationRecord, len(s.metas))
	copy(out, s.metas)
	return out
}

// Failures returns a copy of all recorded pairing failures.
func (s *Store) Failures() []PairingFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PairingFailure, len(s.failures))
	copy(out, s.failures)
	return out
}

// Exclude flags the i-th Layer-1 record with the given reason. The record is
// retained; exclusion is a logical flag, not a deletion.
func (s *Store) Exclude(i int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.evals) {
		return fmt.Errorf("evaluation index %d out of range [0,%d)", i, len(s.evals))
	}
	s.evals[i].Excluded = true
	s.evals[i].ExclusionReason = reason
	return nil
}

// Counts summarizes the store for audit output.
type Counts struct {
	Evaluations     int `json:"evaluations"`
	Repaired        int `json:"repaired"`
	Excluded        int `json:"excluded"`
	SelfProbes      int `json:"self_probes"`
	MetaEvaluations int `json:"meta_evaluations"`
	Failures        int `json:"failures"`
}

// Counts returns summary counts over everything accumulated so far.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Counts{
		Evaluations:     len(s.evals),
		MetaEvaluations: len(s.metas),
		Failures:        len(s.failures),
	}
	for i := range s.evals {
		if s.evals[i].Status == StatusRepaired {
			c.Repaired++
		}
		if s.evals[i].Excluded {
			c.Excluded++
		}
		if s.evals[i].SelfProbe {
			c.SelfProbes++
		}
	}
	return c
}
