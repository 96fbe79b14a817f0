/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repair

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// Status tags the outcome of a pipeline run.
type Status int

const (
	// Valid means every expected field parsed cleanly and in range.
	Valid Status = iota
	// PartiallyRepaired means the payload was recovered but one or more
	// fields were defaulted; see Result.DefaultedFields.
	PartiallyRepaired
	// Failed means no numeric field could be recovered at all.
	Failed
)

// String implements fmt.Stringer for log output.
func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case PartiallyRepaired:
		return "partially_repaired"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Payload is the structured record recovered from model output.
type Payload struct {
	Scores         map[string]float64 `json:"scores"`
	Strengths      []string           `json:"strengths,omitempty"`
	Weaknesses     []string           `json:"weaknesses,omitempty"`
	DetectedBiases []string           `json:"detected_biases,omitempty"`
	MissedPoints   []string           `json:"missed_points,omitempty"`
	Reasoning      string             `json:"reasoning,omitempty"`
}

// Result is the tagged outcome of a pipeline run.
type Result struct {
	Status Status
	// Stage is the 1-based stage that produced the payload; 0 when failed.
	Stage int
	// Payload is nil when Status is Failed.
	Payload *Payload
	// DefaultedFields lists score fields that were set to the sentinel
	// zero during repair, sorted. Empty for Valid results.
	DefaultedFields []string
	// Err carries the terminal failure reason when Status is Failed.
	Err error
}

// wire mirrors the JSON structure evaluators are instructed to return. The
// same shape serves both layers; unused list fields stay empty.
type wire struct {
	Scores         map[string]float64 `json:"scores"`
	Strengths      []string           `json:"strengths"`
	Weaknesses     []string           `json:"weaknesses"`
	DetectedBiases []string           `json:"detected_biases"`
	MissedPoints   []string           `json:"missed_points"`
	Reasoning      string             `json:"reasoning"`
}

// Pipeline validates and repairs payloads for a fixed set of numeric score
// fields. Safe for concurrent use.
type Pipeline struct {
	fields   []string
	patterns map[string]*regexp.Regexp
}

// New creates a pipeline expecting the given score fields.
func New(fields ...string) (*Pipeline, error) {
	if len(fields) == 0 {
		return nil, errors.New("at least one score field is required")
	}
	patterns := make(map[string]*regexp.Regexp, len(fields))
	for _, f := range fields {
		// Matches `"accuracy": 8`, `accuracy = 8.5`, `"accuracy": "7"`.
		patterns[f] = regexp.MustCompile(`(?i)"?` + regexp.QuoteMeta(f) + `"?\s*[:=]\s*"?(-?\d+(?:\.\d+)?)"?`)
	}
	return &Pipeline{fields: append([]string(nil), fields...), patterns: patterns}, nil
}

// MustNew is New for package-level pipeline declarations.
func MustNew(fields ...string) *Pipeline {
	p, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return p
}

// Fields returns the expected score field names.
func (p *Pipeline) Fields() []string {
	return append([]string(nil), p.fields...)
}

// Run converts raw model output into a Result.
func (p *Pipeline) Run(raw string) Result {
	// Stage 1: strict parse of the exact schema.
	if w, err := parse(raw); err == nil {
		if res, ok := p.assemble(w, 1); ok {
			return res
		}
	}

	// Stage 2: strip fencing and surrounding prose, retry strict parse.
	cleaned := extractObject(stripFences(raw))
	if w, err := parse(cleaned); err == nil {
		if res, ok := p.assemble(w, 2); ok {
			return res
		}
	}

	// Stage 3: heuristic bracket/quote balancing.
	if w, err := parse(balance(cleaned)); err == nil {
		if res, ok := p.assemble(w, 3); ok {
			return res
		}
	}

	// Stage 4: best-effort field-by-field pattern extraction.
	if res, ok := p.extractFields(raw); ok {
		return res
	}

	// Stage 5: terminal failure; the caller retries the whole call.
	return Result{
		Status: Failed,
		Err:    errors.New("no recoverable score fields in response"),
	}
}

// parse unmarshals text into the wire schema.
func parse(text string) (*wire, error) {
	var w wire
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// assemble validates a parsed wire payload against the expected fields.
// Reports ok=false when not a single expected field is usable, which sends
// the pipeline on to later stages.
func (p *Pipeline) assemble(w *wire, stage int) (Result, bool) {
	scores := make(map[string]float64, len(p.fields))
	var defaulted []string
	for _, f := range p.fields {
		v, present := w.Scores[f]
		if !present || v < 0 || v > 10 {
			// Sentinel: the field is recorded as defaulted, never
			// silently coerced into a plausible score.
			scores[f] = 0
			defaulted = append(defaulted, f)
			continue
		}
		scores[f] = v
	}
	if len(defaulted) == len(p.fields) {
		return Result{}, false
	}

	payload := &Payload{
		Scores:         scores,
		Strengths:      w.Strengths,
		Weaknesses:     w.Weaknesses,
		DetectedBiases: w.DetectedBiases,
		MissedPoints:   w.MissedPoints,
		Reasoning:      w.Reasoning,
	}
	if len(defaulted) == 0 {
		return Result{Status: Valid, Stage: stage, Payload: payload}, true
	}
	sort.Strings(defaulted)
	return Result{
		Status:          PartiallyRepaired,
		Stage:           stage,
		Payload:         payload,
		DefaultedFields: defaulted,
	}, true
}

// extractFields scans the raw text for the known numeric field names,
// assembling a partial record from whatever it finds.
func (p *Pipeline) extractFields(raw string) (Result, bool) {
	scores := make(map[string]float64, len(p.fields))
	var defaulted []string
	found := 0
	for _, f := range p.fields {
		m := p.patterns[f].FindStringSubmatch(raw)
		if m == nil {
			scores[f] = 0
			defaulted = append(defaulted, f)
			continue
		}
		var v float64
		if _, err := fmt.Sscanf(m[1], "%f", &v); err != nil || v < 0 || v > 10 {
			scores[f] = 0
			defaulted = append(defaulted, f)
			continue
		}
		scores[f] = v
		found++
	}
	if found == 0 {
		return Result{}, false
	}
	sort.Strings(defaulted)
	status := PartiallyRepaired
	if len(defaulted) == 0 {
		// All fields matched, but text-level extraction still counts as
		// a repair: the structure around the scores was unrecoverable.
		status = PartiallyRepaired
	}
	return Result{
		Status:          status,
		Stage:           4,
		Payload:         &Payload{Scores: scores},
		DefaultedFields: defaulted,
	}, true
}
