/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package transport defines the boundary between the evaluation engine and
// whatever service answers model calls, plus the spend ledger that bounds a
// run's cost. Concrete backends live in subpackages.
package transport

import "context"

// Request is a single model call.
type Request struct {
	// Model is the provider-qualified model identifier.
	Model string
	// System is the system prompt, empty when the model takes none.
	System string
	// Prompt is the user message.
	Prompt string
	// MaxTokens caps the completion length; 0 uses the backend default.
	MaxTokens int
	// Temperature is passed through when non-nil.
	Temperature *float64
}

// Usage reports what a completed call consumed.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	// CostUSD is the dollar cost of the call.
	CostUSD float64
}

// Response is a completed model call.
type Response struct {
	Text  string
	Usage Usage
}

// Caller answers model calls. Implementations must be safe for concurrent
// use; the engine fans calls out across evaluator pairings.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, req Request) (*Response, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
