/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"chainguard.dev/crosseval/record"
)

// weightTolerance bounds floating point drift in a weight group's sum.
const weightTolerance = 1e-6

// Criterion is one scoring dimension with its rubric text and weight.
type Criterion struct {
	Description string  `yaml:"description"`
	Weight      float64 `yaml:"weight"`
}

// Criteria holds both scoring rubrics: the cross-evaluation criteria used
// in Layer 1 and the meta criteria used in Layer 2.
type Criteria struct {
	Cross map[string]Criterion `yaml:"cross_evaluation"`
	Meta  map[string]Criterion `yaml:"meta_evaluation"`
}

// Validate checks that both criterion groups cover exactly the canonical
// criteria and that each group's weights sum to 1.0. Called before any
// model call is dispatched; a bad weight table fails the whole run.
func (c Criteria) Validate() error {
	if err := validateGroup("cross_evaluation", c.Cross, record.CrossCriteria); err != nil {
		return err
	}
	return validateGroup("meta_evaluation", c.Meta, record.MetaCriteria)
}

func validateGroup(name string, group map[string]Criterion, want []string) error {
	if len(group) != len(want) {
		return fmt.Errorf("%s: expected %d criteria, got %d", name, len(want), len(group))
	}
	var sum float64
	for _, criterion := range want {
		c, ok := group[criterion]
		if !ok {
			return fmt.Errorf("%s: missing criterion %q", name, criterion)
		}
		if c.Weight <= 0 {
			return fmt.Errorf("%s: criterion %q weight must be positive, got %v", name, criterion, c.Weight)
		}
		sum += c.Weight
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%s: weights sum to %v, want 1.0", name, sum)
	}
	return nil
}

// CrossWeights returns the Layer-1 weights keyed by criterion.
func (c Criteria) CrossWeights() map[string]float64 {
	weights := make(map[string]float64, len(c.Cross))
	for name, criterion := range c.Cross {
		weights[name] = criterion.Weight
	}
	return weights
}

// DefaultCriteria returns the built-in rubric used when no criteria file
// is configured.
func DefaultCriteria() Criteria {
	return Criteria{
		Cross: map[string]Criterion{
			record.CriterionAccuracy:           {Description: "Factual correctness of the response", Weight: 0.25},
			record.CriterionCompleteness:       {Description: "Coverage of all aspects of the task", Weight: 0.20},
			record.CriterionLogicalConsistency: {Description: "Internal coherence of the argument", Weight: 0.25},
			record.CriterionClarity:            {Description: "Readability and structure", Weight: 0.15},
			record.CriterionOriginality:        {Description: "Insight beyond the obvious answer", Weight: 0.15},
		},
		Meta: map[string]Criterion{
			record.CriterionFairness:    {Description: "Whether the evaluation is free of favoritism", Weight: 0.30},
			record.CriterionSpecificity: {Description: "Whether critique points to concrete passages", Weight: 0.25},
			record.CriterionCoverage:    {Description: "Whether all important aspects were assessed", Weight: 0.25},
			record.CriterionCalibration: {Description: "Whether scores match the stated reasoning", Weight: 0.20},
		},
	}
}

// LoadCriteria reads the criteria file and validates it.
func LoadCriteria(path string) (Criteria, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Criteria{}, fmt.Errorf("reading criteria config: %w", err)
	}
	var c Criteria
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Criteria{}, fmt.Errorf("parsing criteria config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Criteria{}, fmt.Errorf("criteria config %s: %w", path, err)
	}
	return c, nil
}
