/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package openrouter implements the transport.Caller interface against the
// OpenRouter gateway, which exposes an OpenAI-compatible chat completions
// API for models from many providers.
package openrouter

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"chainguard.dev/crosseval/transport"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Pricing is a model's per-million-token prices in dollars. The gateway
// does not return cost in the usage block of the compatibility API, so
// cost is computed client-side from token counts.
type Pricing struct {
	PromptUSDPerMTok     float64 `yaml:"prompt_usd_per_mtok"`
	CompletionUSDPerMTok float64 `yaml:"completion_usd_per_mtok"`
}

// Cost returns the dollar cost of a call with the given token counts.
func (p Pricing) Cost(promptTokens, completionTokens int64) float64 {
	return float64(promptTokens)*p.PromptUSDPerMTok/1e6 +
		float64(completionTokens)*p.CompletionUSDPerMTok/1e6
}

// Client calls models through the OpenRouter gateway. It satisfies
// transport.Caller and is safe for concurrent use.
type Client struct {
	api         openai.Client
	baseURL     string
	prices      map[string]Pricing
	retryConfig RetryConfig
	genai       *transport.GenAI
}

// Option is a functional option for configuring the client.
type Option func(*Client) error

// WithBaseURL overrides the gateway endpoint, typically for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) error {
		if url == "" {
			return errors.New("base URL cannot be empty")
		}
		c.baseURL = url
		return nil
	}
}

// WithPricing registers per-model prices used to compute call cost.
// Calls to models without a registered price report zero cost.
func WithPricing(prices map[string]Pricing) Option {
	return func(c *Client) error {
		for model, p := range prices {
			if p.PromptUSDPerMTok < 0 || p.CompletionUSDPerMTok < 0 {
				return fmt.Errorf("negative price for model %q", model)
			}
		}
		c.prices = prices
		return nil
	}
}

// WithRetryConfig sets the retry configuration for transient gateway
// errors. If not set, a default configuration is used.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.retryConfig = cfg
		return nil
	}
}

// WithMetrics attaches token and spend metrics to the client.
func WithMetrics(genai *transport.GenAI) Option {
	return func(c *Client) error {
		if genai == nil {
			return errors.New("metrics instance cannot be nil")
		}
		c.genai = genai
		return nil
	}
}

// New creates a gateway client with the given API key.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		retryConfig: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	// The SDK's built-in retry is disabled so backoff policy lives in one
	// place, under this package's RetryConfig.
	c.api = openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(c.baseURL),
		option.WithMaxRetries(0),
	)
	return c, nil
}

// Call implements transport.Caller.
func (c *Client) Call(ctx context.Context, req transport.Request) (*transport.Response, error) {
	if req.Model == "" {
		return nil, errors.New("model is required")
	}
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
	}
	if req.System != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.System))
	}
	params.Messages = append(params.Messages, openai.UserMessage(req.Prompt))
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	completion, err := retryWithBackoff(ctx, c.retryConfig, "chat completion",
		func() (*openai.ChatCompletion, error) {
			return c.api.Chat.Completions.New(ctx, params)
		})
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", req.Model, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("calling %s: empty choices in completion", req.Model)
	}

	usage := transport.Usage{
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
	}
	if p, ok := c.prices[req.Model]; ok {
		usage.CostUSD = p.Cost(usage.PromptTokens, usage.CompletionTokens)
	}

	clog.FromContext(ctx).With("model", req.Model).
		With("prompt_tokens", usage.PromptTokens).
		With("completion_tokens", usage.CompletionTokens).
		With("cost_usd", usage.CostUSD).
		Debug("Completed model call")

	if c.genai != nil {
		c.genai.RecordUsage(ctx, req.Model, usage)
	}

	return &transport.Response{
		Text:  completion.Choices[0].Message.Content,
		Usage: usage,
	}, nil
}
