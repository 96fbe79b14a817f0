/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package bias derives per-evaluator bias metrics from the recorded
// evaluations. Profiles are pure functions of the record set: rebuilt from
// scratch on every call, never mutated incrementally.
package bias

import (
	"context"
	"math"
	"sort"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/crosseval/record"
)

// Profile holds the bias metrics of one evaluator.
type Profile struct {
	Evaluator string `json:"evaluator"`

	// SelfBias is mean(self-probe scores) minus mean(genuine scores the
	// evaluator gave others). Nil when the evaluator has no probe or no
	// genuine records.
	SelfBias *float64 `json:"self_bias"`

	// SeriesBias is mean(scores given to same-provider peers) minus
	// mean(scores given to cross-provider peers). Nil when the evaluator
	// lacks peers on either side.
	SeriesBias *float64 `json:"series_bias"`

	// Harshness is mean(scores the evaluator gave) minus the global mean
	// of all given scores. Negative means lenient.
	Harshness float64 `json:"harshness"`

	// Consistency is the standard deviation of the evaluator's deviations
	// from the per-(task, subject) consensus of the other evaluators.
	// Lower means closer agreement with peers.
	Consistency float64 `json:"consistency"`

	// MetaReliability is the mean meta score other participants gave the
	// evaluator's Layer-1 evaluations.
	MetaReliability float64 `json:"meta_reliability"`

	// SampleCount is the number of countable genuine records behind the
	// aggregate metrics.
	SampleCount int `json:"sample_count"`
}

// Report maps evaluator to bias profile.
type Report struct {
	Profiles map[string]*Profile `json:"profiles"`
	// GlobalMean is the mean of all countable genuine scores across all
	// evaluators, the harshness baseline.
	GlobalMean float64 `json:"global_mean"`
}

// Detect builds the bias report from the store. The providers map gives
// each participant's model series for series-bias grouping; unknown
// participants count as cross-provider.
func Detect(ctx context.Context, store *record.Store, providers map[string]string) *Report {
	evals := store.Evaluations()
	metas := store.MetaEvaluations()

	// Countable genuine records per evaluator; probes tracked separately.
	genuine := make(map[string][]record.EvaluationRecord)
	probes := make(map[string][]record.EvaluationRecord)
	evaluators := make(map[string]bool)
	for _, e := range evals {
		if !e.Countable() {
			continue
		}
		evaluators[e.Evaluator] = true
		if e.SelfProbe {
			probes[e.Evaluator] = append(probes[e.Evaluator], e)
		} else {
			genuine[e.Evaluator] = append(genuine[e.Evaluator], e)
		}
	}

	var global []float64
	for _, recs := range genuine {
		for _, e := range recs {
			global = append(global, e.Scores.Mean())
		}
	}
	globalMean := mean(global)

	report := &Report{
		Profiles:   make(map[string]*Profile, len(evaluators)),
		GlobalMean: globalMean,
	}

	names := make([]string, 0, len(evaluators))
	for m := range evaluators {
		names = append(names, m)
	}
	sort.Strings(names)

	log := clog.FromContext(ctx)
	for _, m := range names {
		p := &Profile{
			Evaluator:   m,
			SampleCount: len(genuine[m]),
		}
		p.SelfBias = selfBias(probes[m], genuine[m])
		p.SeriesBias = seriesBias(m, genuine[m], providers)
		p.Harshness = harshness(genuine[m], globalMean)
		p.Consistency = consistency(m, evals)
		p.MetaReliability = metaReliability(m, metas)
		report.Profiles[m] = p

		log.With("evaluator", m).
			With("harshness", p.Harshness).
			With("consistency", p.Consistency).
			With("samples", p.SampleCount).
			Debug("Built bias profile")
	}
	return report
}

// selfBias compares how an evaluator scored its own (blind) response with
// how it scored genuine other-subject responses.
func selfBias(probes, genuine []record.EvaluationRecord) *float64 {
	if len(probes) == 0 || len(genuine) == 0 {
		return nil
	}
	var probeMeans, genuineMeans []float64
	for _, e := range probes {
		probeMeans = append(probeMeans, e.Scores.Mean())
	}
	for _, e := range genuine {
		genuineMeans = append(genuineMeans, e.Scores.Mean())
	}
	v := mean(probeMeans) - mean(genuineMeans)
	return &v
}

// seriesBias compares scores given to same-provider peers against scores
// given to cross-provider peers. Degenerate splits yield nil, not zero:
// an absent measurement must stay distinguishable from a neutral one.
func seriesBias(evaluator string, genuine []record.EvaluationRecord, providers map[string]string) *float64 {
	own, ok := providers[evaluator]
	if !ok || own == "" {
		return nil
	}
	var same, cross []float64
	for _, e := range genuine {
		subject, ok := providers[e.Subject]
		if !ok || subject == "" {
			cross = append(cross, e.Scores.Mean())
			continue
		}
		if subject == own {
			same = append(same, e.Scores.Mean())
		} else {
			cross = append(cross, e.Scores.Mean())
		}
	}
	if len(same) == 0 || len(cross) == 0 {
		return nil
	}
	v := mean(same) - mean(cross)
	return &v
}

func harshness(genuine []record.EvaluationRecord, globalMean float64) float64 {
	if len(genuine) == 0 {
		return 0
	}
	var means []float64
	for _, e := range genuine {
		means = append(means, e.Scores.Mean())
	}
	return mean(means) - globalMean
}

// consistency measures how far an evaluator strays from the consensus of
// the other evaluators of the same (task, subject).
func consistency(evaluator string, evals []record.EvaluationRecord) float64 {
	type cell struct{ task, subject string }
	peers := make(map[cell][]float64)
	own := make(map[cell]float64)
	for _, e := range evals {
		if !e.Countable() || e.SelfProbe {
			continue
		}
		c := cell{e.TaskID, e.Subject}
		if e.Evaluator == evaluator {
			own[c] = e.Scores.Mean()
		} else {
			peers[c] = append(peers[c], e.Scores.Mean())
		}
	}

	var deviations []float64
	for c, score := range own {
		consensus, ok := peers[c]
		if !ok || len(consensus) == 0 {
			continue
		}
		deviations = append(deviations, score-mean(consensus))
	}
	if len(deviations) == 0 {
		return 0
	}
	return stddev(deviations)
}

// metaReliability averages the meta scores other participants gave the
// evaluator's Layer-1 work.
func metaReliability(evaluator string, metas []record.MetaEvaluationRecord) float64 {
	var means []float64
	for _, m := range metas {
		if m.Excluded || m.Evaluator != evaluator {
			continue
		}
		means = append(means, m.Scores.Mean())
	}
	return mean(means)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := mean(vals)
	var ss float64
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)))
}
