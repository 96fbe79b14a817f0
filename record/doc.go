/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package record defines the data model for the cross-evaluation engine and
// the append-only store that accumulates results from concurrent workers.
//
// The central types are:
//   - ModelResponse: a model's answer to a task, produced upstream and
//     treated as immutable input.
//   - EvaluationRecord: one blind grading of a response by an evaluator
//     (Layer 1), including the per-criterion scores and validity status.
//   - MetaEvaluationRecord: one grading of an evaluation's quality by a
//     third model (Layer 2).
//
// Records are immutable once accepted. Downstream exclusion (anomaly
// filtering) is expressed as a flag plus reason code on the stored record,
// never as a deletion, so attempted/filtered/failed counts stay auditable.
package record
