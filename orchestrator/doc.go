/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package orchestrator drives the two evaluation layers over a fixed set
// of participant models.
//
// Layer 1 (cross-evaluation) enumerates every (task, evaluator, subject)
// pairing with evaluator != subject. Each evaluator sees responses under
// blind labels resolved per (evaluator, task) session, so the same
// participant carries different labels for different evaluators. A
// configurable fraction of pairings are self probes: the evaluator's own
// response is substituted under the subject's label, which later lets the
// bias detector measure whether models favor their own writing.
//
// Layer 2 (meta-evaluation) has every other participant judge the quality
// of each recorded Layer-1 evaluation on fairness, specificity, coverage,
// and calibration.
//
// Each pairing runs a small retry loop: when a model's response defeats
// the repair pipeline entirely, the call is re-asked with an explicit
// format reminder, up to the retry bound. Pairings that exhaust their
// retries are recorded as failures; missing data is never fabricated.
// Dispatch is bounded by an errgroup limit and gated on the spend ledger,
// which is checked before each call and charged after it completes.
package orchestrator
