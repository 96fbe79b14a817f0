/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package profile aggregates evaluation records into bias-corrected
// per-model performance profiles: weighted domain scores, rankings,
// disagreement analysis, and narrative strengths/weaknesses.
package profile

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/crosseval/bias"
	"chainguard.dev/crosseval/record"
)

// DefaultDisagreementThreshold is the consensus deviation beyond which a
// single evaluation is flagged.
const DefaultDisagreementThreshold = 2.0

// DomainProfile holds one model's scores within one task domain.
type DomainProfile struct {
	Domain string `json:"domain"`
	// RawScores averages the uncorrected received scores per criterion.
	RawScores map[string]float64 `json:"raw_scores"`
	// CorrectedScores subtract each giving evaluator's harshness from its
	// scores before averaging, clamped to [0,10].
	CorrectedScores map[string]float64 `json:"corrected_scores"`
	// WeightedScore combines the corrected criterion averages with the
	// configured weights.
	WeightedScore float64 `json:"weighted_score"`
	SampleCount   int     `json:"sample_count"`
}

// ModelProfile is one model's complete performance profile.
type ModelProfile struct {
	Model       string                    `json:"model"`
	DisplayName string                    `json:"display_name,omitempty"`
	Domains     map[string]*DomainProfile `json:"domains"`
	// OverallScore is the mean of the weighted domain scores.
	OverallScore float64  `json:"overall_score"`
	Strengths    []string `json:"strengths,omitempty"`
	Weaknesses   []string `json:"weaknesses,omitempty"`
	// EvaluatorReliability carries the model's meta-reliability from the
	// bias report, for the combined report.
	EvaluatorReliability float64 `json:"evaluator_reliability"`
}

// Direction tags which side of the consensus a flagged evaluation sits on.
type Direction string

const (
	DirectionLenient Direction = "lenient"
	DirectionHarsh   Direction = "harsh"
)

// FlaggedEvaluation is a single evaluation that strayed from consensus.
type FlaggedEvaluation struct {
	TaskID    string    `json:"task_id"`
	Evaluator string    `json:"evaluator"`
	Subject   string    `json:"subject"`
	Score     float64   `json:"score"`
	Consensus float64   `json:"consensus"`
	Deviation float64   `json:"deviation"`
	Direction Direction `json:"direction"`
}

// Disagreement is a (task, subject) cell where evaluators spread apart.
type Disagreement struct {
	TaskID          string              `json:"task_id"`
	Subject         string              `json:"subject"`
	EvaluatorScores map[string]float64  `json:"evaluator_scores"`
	Spread          float64             `json:"spread"`
	StdDev          float64             `json:"std_dev"`
	Flagged         []FlaggedEvaluation `json:"flagged,omitempty"`
}

// Report is the full profiling output.
type Report struct {
	Profiles map[string]*ModelProfile `json:"profiles"`
	// Rankings maps domain (plus "overall") to model keys, best first.
	Rankings      map[string][]string `json:"rankings"`
	Disagreements []Disagreement      `json:"disagreements,omitempty"`
	Insights      []string            `json:"insights,omitempty"`
}

// Builder turns records plus a bias report into performance profiles.
type Builder struct {
	weights      map[string]float64
	domains      map[string]string // task id -> domain
	displayNames map[string]string
	disagreement float64
}

// NewBuilder creates a builder. weights maps the cross criteria to weights
// summing to 1.0; taskDomains maps task id to domain; displayNames is
// optional. A non-positive disagreementThreshold falls back to the default.
func NewBuilder(weights map[string]float64, taskDomains, displayNames map[string]string, disagreementThreshold float64) (*Builder, error) {
	var sum float64
	for _, c := range record.CrossCriteria {
		w, ok := weights[c]
		if !ok {
			return nil, fmt.Errorf("missing weight for criterion %q", c)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return nil, fmt.Errorf("criterion weights sum to %v, want 1.0", sum)
	}
	if disagreementThreshold <= 0 {
		disagreementThreshold = DefaultDisagreementThreshold
	}
	return &Builder{
		weights:      weights,
		domains:      taskDomains,
		displayNames: displayNames,
		disagreement: disagreementThreshold,
	}, nil
}

// Build derives the performance report. Only countable genuine records
// contribute; probes and excluded records are invisible here.
func (b *Builder) Build(ctx context.Context, store *record.Store, biasReport *bias.Report) *Report {
	var usable []record.EvaluationRecord
	for _, e := range store.Evaluations() {
		if !e.Countable() || e.SelfProbe {
			continue
		}
		usable = append(usable, e)
	}

	harshnessOf := func(evaluator string) float64 {
		if biasReport == nil {
			return 0
		}
		if p, ok := biasReport.Profiles[evaluator]; ok {
			return p.Harshness
		}
		return 0
	}

	// (subject, domain) -> criterion -> received scores, raw and corrected.
	type cell struct{ subject, domain string }
	raw := make(map[cell]map[string][]float64)
	corrected := make(map[cell]map[string][]float64)
	counts := make(map[cell]int)
	subjects := make(map[string]bool)
	for _, e := range usable {
		domain := b.domains[e.TaskID]
		if domain == "" {
			domain = "unknown"
		}
		c := cell{e.Subject, domain}
		if raw[c] == nil {
			raw[c] = make(map[string][]float64)
			corrected[c] = make(map[string][]float64)
		}
		h := harshnessOf(e.Evaluator)
		for _, criterion := range record.CrossCriteria {
			v, _ := e.Scores.ByCriterion(criterion)
			raw[c][criterion] = append(raw[c][criterion], v)
			corrected[c][criterion] = append(corrected[c][criterion], clamp(v-h))
		}
		counts[c]++
		subjects[e.Subject] = true
	}

	report := &Report{
		Profiles: make(map[string]*ModelProfile),
		Rankings: make(map[string][]string),
	}

	for subject := range subjects {
		mp := &ModelProfile{
			Model:       subject,
			DisplayName: b.displayNames[subject],
			Domains:     make(map[string]*DomainProfile),
		}
		if biasReport != nil {
			if p, ok := biasReport.Profiles[subject]; ok {
				mp.EvaluatorReliability = p.MetaReliability
			}
		}

		var weighted []float64
		for c := range raw {
			if c.subject != subject {
				continue
			}
			dp := &DomainProfile{
				Domain:          c.domain,
				RawScores:       make(map[string]float64),
				CorrectedScores: make(map[string]float64),
				SampleCount:     counts[c],
			}
			for _, criterion := range record.CrossCriteria {
				dp.RawScores[criterion] = mean(raw[c][criterion])
				dp.CorrectedScores[criterion] = mean(corrected[c][criterion])
				dp.WeightedScore += dp.CorrectedScores[criterion] * b.weights[criterion]
			}
			mp.Domains[c.domain] = dp
			weighted = append(weighted, dp.WeightedScore)
		}
		mp.OverallScore = mean(weighted)
		mp.Strengths, mp.Weaknesses = narrate(mp)
		report.Profiles[subject] = mp
	}

	report.Rankings = rank(report.Profiles)
	report.Disagreements = b.findDisagreements(usable, harshnessOf)
	report.Insights = insights(report)

	clog.FromContext(ctx).
		With("models", len(report.Profiles)).
		With("disagreements", len(report.Disagreements)).
		Info("Built performance profiles")
	return report
}

// findDisagreements groups corrected per-record means by (task, subject)
// and flags evaluations that stray from the consensus of the rest.
func (b *Builder) findDisagreements(usable []record.EvaluationRecord, harshnessOf func(string) float64) []Disagreement {
	type cell struct{ task, subject string }
	grouped := make(map[cell]map[string]float64)
	for _, e := range usable {
		c := cell{e.TaskID, e.Subject}
		if grouped[c] == nil {
			grouped[c] = make(map[string]float64)
		}
		grouped[c][e.Evaluator] = clamp(e.Scores.Mean() - harshnessOf(e.Evaluator))
	}

	var out []Disagreement
	for c, byEvaluator := range grouped {
		if len(byEvaluator) < 2 {
			continue
		}
		var scores []float64
		for _, s := range byEvaluator {
			scores = append(scores, s)
		}
		lo, hi := scores[0], scores[0]
		for _, s := range scores[1:] {
			lo = math.Min(lo, s)
			hi = math.Max(hi, s)
		}

		var flagged []FlaggedEvaluation
		for evaluator, score := range byEvaluator {
			var others []float64
			for e2, s2 := range byEvaluator {
				if e2 != evaluator {
					others = append(others, s2)
				}
			}
			consensus := mean(others)
			deviation := score - consensus
			if math.Abs(deviation) <= b.disagreement {
				continue
			}
			direction := DirectionHarsh
			if deviation > 0 {
				direction = DirectionLenient
			}
			flagged = append(flagged, FlaggedEvaluation{
				TaskID:    c.task,
				Evaluator: evaluator,
				Subject:   c.subject,
				Score:     score,
				Consensus: consensus,
				Deviation: deviation,
				Direction: direction,
			})
		}
		if hi-lo <= b.disagreement && len(flagged) == 0 {
			continue
		}
		sort.Slice(flagged, func(i, j int) bool {
			return math.Abs(flagged[i].Deviation) > math.Abs(flagged[j].Deviation)
		})
		out = append(out, Disagreement{
			TaskID:          c.task,
			Subject:         c.subject,
			EvaluatorScores: byEvaluator,
			Spread:          hi - lo,
			StdDev:          stddev(scores),
			Flagged:         flagged,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spread != out[j].Spread {
			return out[i].Spread > out[j].Spread
		}
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].Subject < out[j].Subject
	})
	if len(out) > 20 {
		out = out[:20]
	}
	return out
}

// narrate extracts top strengths and weaknesses from a profile: domain
// extremes and criterion extremes across domains, capped at five each.
func narrate(mp *ModelProfile) (strengths, weaknesses []string) {
	type ds struct {
		domain string
		score  float64
	}
	var domains []ds
	for domain, dp := range mp.Domains {
		domains = append(domains, ds{domain, dp.WeightedScore})
	}
	if len(domains) == 0 {
		return nil, nil
	}
	sort.Slice(domains, func(i, j int) bool {
		if domains[i].score != domains[j].score {
			return domains[i].score > domains[j].score
		}
		return domains[i].domain < domains[j].domain
	})
	for _, d := range domains[:min(2, len(domains))] {
		if d.score >= 6.0 {
			strengths = append(strengths, fmt.Sprintf("Strong in %s (score: %.1f)", d.domain, d.score))
		}
	}
	for _, d := range domains[max(0, len(domains)-2):] {
		if d.score < 6.0 {
			weaknesses = append(weaknesses, fmt.Sprintf("Weak in %s (score: %.1f)", d.domain, d.score))
		}
	}

	for _, criterion := range record.CrossCriteria {
		var vals []float64
		for _, dp := range mp.Domains {
			vals = append(vals, dp.CorrectedScores[criterion])
		}
		avg := mean(vals)
		if avg >= 8.0 {
			strengths = append(strengths, fmt.Sprintf("Excellent %s (%.1f/10)", criterion, avg))
		} else if avg < 5.0 {
			weaknesses = append(weaknesses, fmt.Sprintf("Low %s (%.1f/10)", criterion, avg))
		}
	}
	if len(strengths) > 5 {
		strengths = strengths[:5]
	}
	if len(weaknesses) > 5 {
		weaknesses = weaknesses[:5]
	}
	return strengths, weaknesses
}

// rank orders models per domain and overall, best first, ties broken by
// model key for determinism.
func rank(profiles map[string]*ModelProfile) map[string][]string {
	rankings := make(map[string][]string)
	domains := make(map[string]bool)
	for _, mp := range profiles {
		for domain := range mp.Domains {
			domains[domain] = true
		}
	}

	for domain := range domains {
		type ms struct {
			model string
			score float64
		}
		var scored []ms
		for model, mp := range profiles {
			if dp, ok := mp.Domains[domain]; ok {
				scored = append(scored, ms{model, dp.WeightedScore})
			}
		}
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].score != scored[j].score {
				return scored[i].score > scored[j].score
			}
			return scored[i].model < scored[j].model
		})
		ranked := make([]string, len(scored))
		for i, s := range scored {
			ranked[i] = s.model
		}
		rankings[domain] = ranked
	}

	type ms struct {
		model string
		score float64
	}
	var overall []ms
	for model, mp := range profiles {
		overall = append(overall, ms{model, mp.OverallScore})
	}
	sort.Slice(overall, func(i, j int) bool {
		if overall[i].score != overall[j].score {
			return overall[i].score > overall[j].score
		}
		return overall[i].model < overall[j].model
	})
	ranked := make([]string, len(overall))
	for i, s := range overall {
		ranked[i] = s.model
	}
	rankings["overall"] = ranked
	return rankings
}

// insights produces the short human-readable headline list.
func insights(r *Report) []string {
	var out []string
	overall := r.Rankings["overall"]
	if len(overall) > 0 {
		top := r.Profiles[overall[0]]
		name := top.DisplayName
		if name == "" {
			name = top.Model
		}
		out = append(out, fmt.Sprintf("Overall top performer: %s (score: %.1f/10)", name, top.OverallScore))
	}

	var domains []string
	for domain := range r.Rankings {
		if domain != "overall" {
			domains = append(domains, domain)
		}
	}
	sort.Strings(domains)
	for _, domain := range domains {
		ranked := r.Rankings[domain]
		if len(ranked) == 0 {
			continue
		}
		leader := r.Profiles[ranked[0]]
		if dp, ok := leader.Domains[domain]; ok {
			name := leader.DisplayName
			if name == "" {
				name = leader.Model
			}
			out = append(out, fmt.Sprintf("%s leader: %s (%.1f/10)", domain, name, dp.WeightedScore))
		}
	}
	if len(r.Disagreements) > 0 {
		out = append(out, fmt.Sprintf("%d evaluator disagreement case(s) detected", len(r.Disagreements)))
	}
	return out
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(10, v))
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
