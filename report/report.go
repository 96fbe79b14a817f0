/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package report renders an evaluation run into a human-readable markdown
// summary and a machine-readable JSON document.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"chainguard.dev/crosseval/bias"
	"chainguard.dev/crosseval/profile"
	"chainguard.dev/crosseval/record"
)

// DomainScores is one model's scores within one domain in the serialized
// output: corrected per-criterion averages plus the weighted composite.
type DomainScores struct {
	Criteria map[string]float64 `json:"criteria"`
	Weighted float64            `json:"weighted"`
}

// BiasMetrics is the serialized bias profile of one evaluator. The
// nullable fields stay nullable: a missing measurement is not a zero.
type BiasMetrics struct {
	SelfBias        *float64 `json:"self_bias"`
	SeriesBias      *float64 `json:"series_bias"`
	Harshness       float64  `json:"harshness"`
	Consistency     float64  `json:"consistency"`
	MetaReliability float64  `json:"meta_reliability"`
}

// Output is the complete serialized run result.
type Output struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Counts      record.Counts `json:"counts"`
	SpendUSD    float64       `json:"spend_usd"`
	// Incomplete marks runs the budget cut short.
	Incomplete bool `json:"incomplete,omitempty"`

	// Scores maps model -> domain -> corrected scores.
	Scores map[string]map[string]DomainScores `json:"scores"`
	// Bias maps evaluator -> bias metrics.
	Bias map[string]BiasMetrics `json:"bias"`

	Rankings      map[string][]string     `json:"rankings"`
	Insights      []string                `json:"insights,omitempty"`
	Disagreements []profile.Disagreement  `json:"disagreements,omitempty"`
	Failures      []record.PairingFailure `json:"failures,omitempty"`

	// The full record sets, exclusion flags included, so a run can be
	// audited or re-aggregated from its output alone.
	Evaluations     []record.EvaluationRecord     `json:"evaluations"`
	MetaEvaluations []record.MetaEvaluationRecord `json:"meta_evaluations"`
}

// Build assembles the serialized output from the run's artifacts.
func Build(store *record.Store, biasReport *bias.Report, profileReport *profile.Report, spendUSD float64, incomplete bool) *Output {
	out := &Output{
		GeneratedAt: time.Now().UTC(),
		Counts:      store.Counts(),
		SpendUSD:    spendUSD,
		Incomplete:  incomplete,
		Scores:      make(map[string]map[string]DomainScores),
		Bias:        make(map[string]BiasMetrics),
		Failures:    store.Failures(),

		Evaluations:     store.Evaluations(),
		MetaEvaluations: store.MetaEvaluations(),
	}
	if profileReport != nil {
		for model, mp := range profileReport.Profiles {
			domains := make(map[string]DomainScores, len(mp.Domains))
			for domain, dp := range mp.Domains {
				criteria := make(map[string]float64, len(dp.CorrectedScores))
				for c, v := range dp.CorrectedScores {
					criteria[c] = v
				}
				domains[domain] = DomainScores{Criteria: criteria, Weighted: dp.WeightedScore}
			}
			out.Scores[model] = domains
		}
		out.Rankings = profileReport.Rankings
		out.Insights = profileReport.Insights
		out.Disagreements = profileReport.Disagreements
	}
	if biasReport != nil {
		for evaluator, p := range biasReport.Profiles {
			out.Bias[evaluator] = BiasMetrics{
				SelfBias:        p.SelfBias,
				SeriesBias:      p.SeriesBias,
				Harshness:       p.Harshness,
				Consistency:     p.Consistency,
				MetaReliability: p.MetaReliability,
			}
		}
	}
	return out
}

// WriteJSON serializes the output as indented JSON.
func (o *Output) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(o)
}

// WriteSummary renders the markdown run summary: audit counts, the bias
// table, per-domain weighted scores, rankings, and insights.
func (o *Output) WriteSummary(w io.Writer) error {
	fmt.Fprintf(w, "# Cross-Evaluation Run Summary\n\n")
	if o.Incomplete {
		fmt.Fprintf(w, "**Run incomplete: budget exhausted before all pairings dispatched.**\n\n")
	}

	fmt.Fprintf(w, "## Audit\n\n")
	audit := newMarkdownTable([]string{"Metric", "Count"}, w)
	rows := [][]string{
		{"Evaluations recorded", fmt.Sprintf("%d", o.Counts.Evaluations)},
		{"Repaired payloads", fmt.Sprintf("%d", o.Counts.Repaired)},
		{"Excluded by anomaly filter", fmt.Sprintf("%d", o.Counts.Excluded)},
		{"Self probes", fmt.Sprintf("%d", o.Counts.SelfProbes)},
		{"Meta-evaluations recorded", fmt.Sprintf("%d", o.Counts.MetaEvaluations)},
		{"Failed pairings", fmt.Sprintf("%d", o.Counts.Failures)},
		{"Spend (USD)", fmt.Sprintf("%.4f", o.SpendUSD)},
	}
	for _, row := range rows {
		_ = audit.Append(row)
	}
	if err := audit.Render(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n## Bias metrics\n\n")
	biasTable := newMarkdownTable([]string{"Evaluator", "Self bias", "Series bias", "Harshness", "Consistency", "Meta reliability"}, w)
	for _, evaluator := range sortedKeys(o.Bias) {
		b := o.Bias[evaluator]
		_ = biasTable.Append([]string{
			evaluator,
			formatNullable(b.SelfBias),
			formatNullable(b.SeriesBias),
			fmt.Sprintf("%+.2f", b.Harshness),
			fmt.Sprintf("%.2f", b.Consistency),
			fmt.Sprintf("%.2f", b.MetaReliability),
		})
	}
	if err := biasTable.Render(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n## Scores by domain\n\n")
	scoreTable := newMarkdownTable([]string{"Model", "Domain", "Weighted score", "Criteria"}, w)
	for _, model := range sortedKeys(o.Scores) {
		for _, domain := range sortedKeys(o.Scores[model]) {
			ds := o.Scores[model][domain]
			_ = scoreTable.Append([]string{
				model,
				domain,
				fmt.Sprintf("%.2f", ds.Weighted),
				formatCriteria(ds.Criteria),
			})
		}
	}
	if err := scoreTable.Render(); err != nil {
		return err
	}

	if ranked, ok := o.Rankings["overall"]; ok && len(ranked) > 0 {
		fmt.Fprintf(w, "\n## Overall ranking\n\n")
		for i, model := range ranked {
			fmt.Fprintf(w, "%d. %s\n", i+1, model)
		}
	}

	if len(o.Insights) > 0 {
		fmt.Fprintf(w, "\n## Insights\n\n")
		for _, insight := range o.Insights {
			fmt.Fprintf(w, "- %s\n", insight)
		}
	}
	return nil
}

func formatNullable(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f", *v)
}

func formatCriteria(criteria map[string]float64) string {
	var parts []string
	for _, c := range record.CrossCriteria {
		if v, ok := criteria[c]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.1f", c, v))
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
