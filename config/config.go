/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the static inputs of an evaluation run: model
// definitions, task files, criterion weights, upstream model responses, and
// env-driven runtime settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"chainguard.dev/crosseval/transport/openrouter"
)

// Model describes one participant model.
type Model struct {
	// ID is the provider-qualified model identifier sent to the gateway.
	ID string `yaml:"id"`
	// DisplayName is used in reports.
	DisplayName string `yaml:"display_name"`
	// Provider groups models into series for series-bias detection,
	// e.g. "openai", "anthropic". Empty means unknown.
	Provider string `yaml:"provider"`
	// MaxTokens caps completion length for this model's calls.
	MaxTokens int `yaml:"max_tokens"`
	// Pricing computes per-call dollar cost.
	Pricing openrouter.Pricing `yaml:"pricing"`
}

// Validate checks the model definition.
func (m Model) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("model id is required")
	}
	if m.MaxTokens < 0 {
		return fmt.Errorf("model %q: max_tokens cannot be negative", m.ID)
	}
	return nil
}

type modelsFile struct {
	Models map[string]Model `yaml:"models"`
}

// LoadModels reads the model configuration keyed by model name.
func LoadModels(path string) (map[string]Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model config: %w", err)
	}
	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing model config %s: %w", path, err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("no models defined in %s", path)
	}
	for key, m := range f.Models {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("model %q: %w", key, err)
		}
	}
	return f.Models, nil
}

// ModelKeys returns the model keys in sorted order for deterministic
// iteration.
func ModelKeys(models map[string]Model) []string {
	keys := make([]string, 0, len(models))
	for k := range models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PriceTable builds the gateway pricing table from model definitions,
// keyed by provider-qualified model ID.
func PriceTable(models map[string]Model) map[string]openrouter.Pricing {
	prices := make(map[string]openrouter.Pricing, len(models))
	for _, m := range models {
		prices[m.ID] = m.Pricing
	}
	return prices
}

// Task is one evaluation task.
type Task struct {
	ID              string   `yaml:"id"`
	Domain          string   `yaml:"domain"`
	Difficulty      string   `yaml:"difficulty"`
	Prompt          string   `yaml:"prompt"`
	ExpectedAspects []string `yaml:"expected_aspects"`
}

// Validate checks the task definition.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Domain == "" {
		return fmt.Errorf("task %q: domain is required", t.ID)
	}
	if t.Prompt == "" {
		return fmt.Errorf("task %q: prompt is required", t.ID)
	}
	return nil
}

// LoadTasks reads task YAML files from per-domain subdirectories of root.
// When domain is non-empty only that subdirectory is read. Tasks come back
// sorted by domain then id.
func LoadTasks(root, domain string) ([]Task, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading tasks directory: %w", err)
	}

	var domains []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if domain != "" && e.Name() != domain {
			continue
		}
		domains = append(domains, e.Name())
	}
	sort.Strings(domains)

	var tasks []Task
	for _, d := range domains {
		files, err := filepath.Glob(filepath.Join(root, d, "*.yaml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("reading task file: %w", err)
			}
			var t Task
			if err := yaml.Unmarshal(data, &t); err != nil {
				return nil, fmt.Errorf("parsing task file %s: %w", file, err)
			}
			if t.Difficulty == "" {
				t.Difficulty = "medium"
			}
			if err := t.Validate(); err != nil {
				return nil, fmt.Errorf("task file %s: %w", file, err)
			}
			tasks = append(tasks, t)
		}
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks found under %s", root)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Domain != tasks[j].Domain {
			return tasks[i].Domain < tasks[j].Domain
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}
