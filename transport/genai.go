/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// GenAI provides OpenTelemetry metrics for model calls: token usage and
// dollar spend, dimensioned by model. Uses graceful degradation: if a
// counter fails to initialize, a no-op counter is used instead of failing.
type GenAI struct {
	meter            metric.Meter
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	spend            metric.Float64Counter
}

// NewGenAI creates a GenAI metrics instance with the specified meter name.
// The meter name should be unified across all callers, with the model name
// serving as a dimension on the recorded metrics.
func NewGenAI(meterName string) *GenAI {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	promptTokens, err := meter.Int64Counter("genai.token.prompt",
		metric.WithDescription("The number of prompt tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create prompt tokens counter, metrics will be disabled", "error", err, "meter", meterName)
		promptTokens = noop.Int64Counter{}
	}

	completionTokens, err := meter.Int64Counter("genai.token.completion",
		metric.WithDescription("The number of completion tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create completion tokens counter, metrics will be disabled", "error", err, "meter", meterName)
		completionTokens = noop.Int64Counter{}
	}

	spend, err := meter.Float64Counter("genai.spend",
		metric.WithDescription("The dollar cost of model calls"),
		metric.WithUnit("{usd}"))
	if err != nil {
		slog.Warn("Failed to create spend counter, metrics will be disabled", "error", err, "meter", meterName)
		spend = noop.Float64Counter{}
	}

	return &GenAI{
		meter:            meter,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
		spend:            spend,
	}
}

// RecordUsage records the token and dollar usage of a completed call.
func (m *GenAI) RecordUsage(ctx context.Context, model string, usage Usage, attrs ...attribute.KeyValue) {
	baseAttrs := append([]attribute.KeyValue{
		attribute.String("model", model),
	}, attrs...)

	m.promptTokens.Add(ctx, usage.PromptTokens, metric.WithAttributes(baseAttrs...))
	m.completionTokens.Add(ctx, usage.CompletionTokens, metric.WithAttributes(baseAttrs...))
	m.spend.Add(ctx, usage.CostUSD, metric.WithAttributes(baseAttrs...))
}
