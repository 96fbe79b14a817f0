/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package repair converts raw model output into a validated scored payload,
// or fails explicitly. Models emit malformed structured output at a
// double-digit rate, so parsing is staged: each stage is attempted only when
// the prior one fails, and the outcome is a tagged result distinguishing
// fully valid payloads, partially repaired payloads (with the list of fields
// that had to be defaulted), and terminal failures.
//
// Stages:
//  1. Strict parse of the expected schema, exact fields, scores in [0,10].
//  2. Strip markdown fences and surrounding prose, reparse.
//  3. Heuristic balancing: drop trailing commas, close unterminated strings
//     and unclosed braces/brackets, reparse. Fields that remain unresolvable
//     become sentinel "missing" entries, never silent zeros.
//  4. Best-effort pattern extraction of the known numeric field names.
//  5. Nothing numeric recoverable: terminal failure, which triggers the
//     orchestrator's call-level retry rather than further repair.
//
// The pipeline is pure and stateless per call; a strictly valid payload
// passes stage 1 untouched (the repair stages are no-ops on valid input).
package repair
