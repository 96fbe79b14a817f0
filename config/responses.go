/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"chainguard.dev/crosseval/record"
)

// rawResult mirrors the upstream executor's persisted per-call result.
type rawResult struct {
	TaskID   string `json:"task_id"`
	ModelKey string `json:"model_key"`
	ModelID  string `json:"model_id"`
	Response string `json:"response"`
	Usage    struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error"`
}

// LoadResponses reads the upstream executor's output directory, one JSON
// file per task mapping model key to the model's raw result. Responses with
// an upstream error keep their empty text; the engine treats them as
// missing data rather than dropping the participant.
func LoadResponses(dir string) ([]record.ModelResponse, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no response files under %s", dir)
	}
	sort.Strings(files)

	var responses []record.ModelResponse
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading responses: %w", err)
		}
		var byModel map[string]rawResult
		if err := json.Unmarshal(data, &byModel); err != nil {
			return nil, fmt.Errorf("parsing responses %s: %w", file, err)
		}
		keys := make([]string, 0, len(byModel))
		for k := range byModel {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			raw := byModel[key]
			if raw.TaskID == "" {
				return nil, fmt.Errorf("responses %s: entry %q has no task_id", file, key)
			}
			responses = append(responses, record.ModelResponse{
				TaskID:           raw.TaskID,
				Model:            key,
				ModelID:          raw.ModelID,
				Response:         raw.Response,
				PromptTokens:     raw.Usage.PromptTokens,
				CompletionTokens: raw.Usage.CompletionTokens,
				LatencyMS:        raw.LatencyMS,
				Error:            raw.Error,
			})
		}
	}
	return responses, nil
}
