/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"chainguard.dev/crosseval/config"
	"chainguard.dev/crosseval/prompt"
	"chainguard.dev/crosseval/record"
	"chainguard.dev/crosseval/schema"
)

// crossReply is the reply shape demanded of Layer-1 evaluators; its
// reflected schema rides along in the system prompt.
type crossReply struct {
	Scores     crossReplyScores `json:"scores" jsonschema:"required"`
	Strengths  []string         `json:"strengths" jsonschema:"required"`
	Weaknesses []string         `json:"weaknesses" jsonschema:"required"`
	Reasoning  string           `json:"reasoning" jsonschema:"required"`
}

type crossReplyScores struct {
	Accuracy           float64 `json:"accuracy" jsonschema:"required,minimum=0,maximum=10"`
	Completeness       float64 `json:"completeness" jsonschema:"required,minimum=0,maximum=10"`
	LogicalConsistency float64 `json:"logical_consistency" jsonschema:"required,minimum=0,maximum=10"`
	Clarity            float64 `json:"clarity" jsonschema:"required,minimum=0,maximum=10"`
	Originality        float64 `json:"originality" jsonschema:"required,minimum=0,maximum=10"`
}

// metaReply is the Layer-2 counterpart.
type metaReply struct {
	Scores         metaReplyScores `json:"scores" jsonschema:"required"`
	DetectedBiases []string        `json:"detected_biases" jsonschema:"required"`
	MissedPoints   []string        `json:"missed_points" jsonschema:"required"`
	Reasoning      string          `json:"reasoning" jsonschema:"required"`
}

type metaReplyScores struct {
	Fairness    float64 `json:"fairness" jsonschema:"required,minimum=0,maximum=10"`
	Specificity float64 `json:"specificity" jsonschema:"required,minimum=0,maximum=10"`
	Coverage    float64 `json:"coverage" jsonschema:"required,minimum=0,maximum=10"`
	Calibration float64 `json:"calibration" jsonschema:"required,minimum=0,maximum=10"`
}

// crossSystemPrompt demands JSON-only output for Layer-1 calls, carrying
// the schema the repair pipeline parses against.
var crossSystemPrompt = "You are an expert AI evaluator. Assess responses " +
	"objectively. Always respond with valid JSON only - no markdown, no " +
	"explanation outside the JSON object.\n\n" +
	"Your reply must conform to this JSON schema:\n" +
	schema.MustJSON[crossReply]()

// metaSystemPrompt plays the same role for Layer-2 calls.
var metaSystemPrompt = "You are an expert meta-evaluator assessing the " +
	"quality of AI evaluations. Always respond with valid JSON only - no " +
	"markdown, no explanation outside the JSON object.\n\n" +
	"Your reply must conform to this JSON schema:\n" +
	schema.MustJSON[metaReply]()

// formatReminder is appended to the prompt when a previous attempt came
// back unparseable.
const formatReminder = "IMPORTANT: Your previous response was not valid JSON. " +
	"Please respond with ONLY a single JSON object. " +
	"Do not include any text before or after the JSON. " +
	"Ensure all strings are properly terminated with closing quotes."

var crossTemplate = prompt.MustNew(`You are an expert evaluator assessing the quality of an AI model's response.
You must evaluate the response objectively and provide structured scores.

## Original Task
{{task}}

## Response from {{label}}
{{response}}

## Evaluation Criteria
{{criteria}}

## Instructions
Evaluate the response above and return your assessment as JSON with this exact structure:
{
  "scores": {
    "accuracy": <0-10>,
    "completeness": <0-10>,
    "logical_consistency": <0-10>,
    "clarity": <0-10>,
    "originality": <0-10>
  },
  "strengths": ["<strength 1>", "<strength 2>", ...],
  "weaknesses": ["<weakness 1>", "<weakness 2>", ...],
  "reasoning": "<detailed explanation of your evaluation>"
}

Be fair, specific, and evidence-based. Reference specific parts of the response to justify scores.`)

var metaTemplate = prompt.MustNew(`You are a meta-evaluator assessing the QUALITY of an AI evaluation.
Your job is to evaluate how well another AI model evaluated a response.

## Original Task
{{task}}

## Response That Was Evaluated
{{response}}

## The Evaluation Being Assessed
{{evaluation}}

## Meta-Evaluation Criteria
{{criteria}}

## Instructions
Assess the quality of the evaluation above. Consider:

1. Fairness: Does the evaluator show bias? Are scores justified by evidence?
2. Specificity: Does the evaluator reference specific parts of the response?
3. Coverage: Did the evaluator catch all important strengths and weaknesses?
4. Calibration: Are the scores reasonable given the response quality?

Return your assessment as JSON:
{
  "scores": {
    "fairness": <0-10>,
    "specificity": <0-10>,
    "coverage": <0-10>,
    "calibration": <0-10>
  },
  "detected_biases": ["<bias 1>", "<bias 2>", ...],
  "missed_points": ["<point the evaluator missed>", ...],
  "reasoning": "<detailed analysis of the evaluation quality>"
}`)

// describeCriteria renders a criterion group as an indented list in
// canonical order.
func describeCriteria(group map[string]config.Criterion, order []string) string {
	var sb strings.Builder
	for _, name := range order {
		c, ok := group[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "  - %s: %s (weight: %v)\n", name, c.Description, c.Weight)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildCrossPrompt renders the Layer-1 evaluation prompt for one pairing.
func buildCrossPrompt(criteria config.Criteria, taskPrompt, blindLabel, responseText string) (string, error) {
	p, err := crossTemplate.BindText("task", taskPrompt)
	if err != nil {
		return "", err
	}
	if p, err = p.BindText("label", blindLabel); err != nil {
		return "", err
	}
	if p, err = p.BindText("response", responseText); err != nil {
		return "", err
	}
	if p, err = p.BindText("criteria", describeCriteria(criteria.Cross, record.CrossCriteria)); err != nil {
		return "", err
	}
	return p.Build()
}

// evaluationSummary is the JSON digest of a Layer-1 record shown to meta
// evaluators. The evaluator's identity stays hidden.
type evaluationSummary struct {
	Scores     record.Scores `json:"scores"`
	Strengths  []string      `json:"strengths"`
	Weaknesses []string      `json:"weaknesses"`
	Reasoning  string        `json:"reasoning"`
}

// buildMetaPrompt renders the Layer-2 prompt judging one Layer-1 record.
func buildMetaPrompt(criteria config.Criteria, taskPrompt, responseText string, eval *record.EvaluationRecord) (string, error) {
	p, err := metaTemplate.BindText("task", taskPrompt)
	if err != nil {
		return "", err
	}
	if p, err = p.BindText("response", responseText); err != nil {
		return "", err
	}
	summary := evaluationSummary{
		Scores:     eval.Scores,
		Strengths:  eval.Strengths,
		Weaknesses: eval.Weaknesses,
		Reasoning:  eval.Reasoning,
	}
	if p, err = p.BindJSON("evaluation", summary); err != nil {
		return "", err
	}
	if p, err = p.BindText("criteria", describeCriteria(criteria.Meta, record.MetaCriteria)); err != nil {
		return "", err
	}
	return p.Build()
}

// sortedKeys returns map keys in sorted order for deterministic pairing
// enumeration.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
