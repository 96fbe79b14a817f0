/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"chainguard.dev/crosseval/config"
	"chainguard.dev/crosseval/record"
	"chainguard.dev/crosseval/transport"
)

// validPayload satisfies both the cross and meta schemas in one response.
const validPayload = `{
  "scores": {
    "accuracy": 7, "completeness": 6, "logical_consistency": 8,
    "clarity": 7, "originality": 5,
    "fairness": 7, "specificity": 6, "coverage": 7, "calibration": 8
  },
  "strengths": ["clear structure"],
  "weaknesses": ["thin examples"],
  "reasoning": "solid work overall"
}`

type fakeCaller struct {
	mu       sync.Mutex
	requests []transport.Request
	respond  func(n int, req transport.Request) (*transport.Response, error)
}

func (f *fakeCaller) Call(_ context.Context, req transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(n, req)
	}
	return &transport.Response{Text: validPayload}, nil
}

func (f *fakeCaller) captured() []transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Request(nil), f.requests...)
}

func testModels(keys ...string) map[string]config.Model {
	models := make(map[string]config.Model, len(keys))
	for _, k := range keys {
		models[k] = config.Model{ID: "prov/" + k, DisplayName: k, MaxTokens: 2048}
	}
	return models
}

func testInputs(nTasks int, keys ...string) ([]config.Task, []record.ModelResponse) {
	var tasks []config.Task
	var responses []record.ModelResponse
	for i := range nTasks {
		id := fmt.Sprintf("task_%02d", i)
		tasks = append(tasks, config.Task{ID: id, Domain: "general", Prompt: "explain something hard"})
		for _, k := range keys {
			responses = append(responses, record.ModelResponse{
				TaskID:   id,
				Model:    k,
				Response: "answer from " + k + " for " + id,
			})
		}
	}
	return tasks, responses
}

func newTestOrchestrator(t *testing.T, caller transport.Caller, store *record.Store, models map[string]config.Model, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithRand(rand.New(rand.NewSource(42)))}, opts...)
	o, err := New(caller, store, models, config.DefaultCriteria(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestRunLayer1EnumeratesAllPairings(t *testing.T) {
	caller := &fakeCaller{}
	store := record.NewStore()
	models := testModels("alpha", "beta", "gamma")
	tasks, responses := testInputs(2, "alpha", "beta", "gamma")

	o := newTestOrchestrator(t, caller, store, models, WithSelfProbeRate(0))
	if err := o.RunLayer1(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}

	evals := store.Evaluations()
	// 2 tasks x 3 evaluators x 2 subjects each.
	if len(evals) != 12 {
		t.Fatalf("len(evals) = %d, want 12", len(evals))
	}
	for _, e := range evals {
		if e.Evaluator == e.Subject {
			t.Errorf("evaluator %q judged itself", e.Evaluator)
		}
		if !strings.HasPrefix(e.BlindLabel, "Model ") {
			t.Errorf("BlindLabel = %q, want blind label", e.BlindLabel)
		}
		if e.Status != record.StatusValid {
			t.Errorf("Status = %q, want valid", e.Status)
		}
		if e.Scores.Accuracy != 7 || e.Scores.Originality != 5 {
			t.Errorf("Scores = %+v", e.Scores)
		}
	}
	if failures := store.Failures(); len(failures) != 0 {
		t.Errorf("Failures = %v, want none", failures)
	}
}

func TestPromptsUseBlindLabels(t *testing.T) {
	caller := &fakeCaller{}
	store := record.NewStore()
	models := testModels("alpha", "beta")
	tasks, responses := testInputs(1, "alpha", "beta")

	o := newTestOrchestrator(t, caller, store, models, WithSelfProbeRate(0))
	if err := o.RunLayer1(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}

	for _, req := range caller.captured() {
		if strings.Contains(req.Prompt, "## Response from Model ") {
			continue
		}
		t.Errorf("prompt missing blind label header:\n%s", req.Prompt)
	}
}

func TestSystemPromptsCarryReplySchema(t *testing.T) {
	// The reflected schema must cover exactly the criteria the repair
	// pipeline parses for, with the 0-10 bounds inlined.
	for _, c := range record.CrossCriteria {
		if !strings.Contains(crossSystemPrompt, `"`+c+`"`) {
			t.Errorf("cross system prompt schema missing %q", c)
		}
	}
	for _, c := range record.MetaCriteria {
		if !strings.Contains(metaSystemPrompt, `"`+c+`"`) {
			t.Errorf("meta system prompt schema missing %q", c)
		}
	}
	for _, sys := range []string{crossSystemPrompt, metaSystemPrompt} {
		for _, frag := range []string{`"maximum": 10`, `"minimum": 0`, `"required"`} {
			if !strings.Contains(sys, frag) {
				t.Errorf("system prompt schema missing %q:\n%s", frag, sys)
			}
		}
	}
}

func TestSelfProbeRateConverges(t *testing.T) {
	caller := &fakeCaller{}
	store := record.NewStore()
	keys := []string{"a", "b", "c", "d", "e"}
	models := testModels(keys...)
	tasks, responses := testInputs(20, keys...)

	o := newTestOrchestrator(t, caller, store, models, WithSelfProbeRate(0.20), WithConcurrency(8))
	if err := o.RunLayer1(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}

	evals := store.Evaluations()
	if len(evals) != 20*5*4 {
		t.Fatalf("len(evals) = %d, want 400", len(evals))
	}
	probes := 0
	for _, e := range evals {
		if e.SelfProbe {
			probes++
		}
	}
	rate := float64(probes) / float64(len(evals))
	if math.Abs(rate-0.20) > 0.06 {
		t.Errorf("aggregate probe rate = %v (%d/%d), want ~0.20", rate, probes, len(evals))
	}
}

func TestNoProbeWhenOwnResponseEmpty(t *testing.T) {
	caller := &fakeCaller{}
	store := record.NewStore()
	models := testModels("alpha", "beta")
	tasks := []config.Task{{ID: "t1", Domain: "general", Prompt: "p"}}
	responses := []record.ModelResponse{
		{TaskID: "t1", Model: "alpha", Response: ""}, // upstream failure
		{TaskID: "t1", Model: "beta", Response: "beta answer"},
	}

	// Probe rate 1.0 would force probes everywhere they are possible.
	o := newTestOrchestrator(t, caller, store, models, WithSelfProbeRate(1.0))
	if err := o.RunLayer1(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}

	for _, e := range store.Evaluations() {
		if e.Evaluator == "alpha" && e.SelfProbe {
			t.Error("probe injected for evaluator with empty own response")
		}
		if e.Evaluator == "beta" && !e.SelfProbe {
			t.Error("probe not injected at rate 1.0 with non-empty own response")
		}
	}
}

func TestRetryAppendsFormatReminder(t *testing.T) {
	caller := &fakeCaller{}
	caller.respond = func(n int, req transport.Request) (*transport.Response, error) {
		if strings.Contains(req.Prompt, "previous response was not valid JSON") {
			return &transport.Response{Text: validPayload}, nil
		}
		return &transport.Response{Text: "I refuse to answer in JSON."}, nil
	}
	store := record.NewStore()
	models := testModels("alpha", "beta")
	tasks, responses := testInputs(1, "alpha", "beta")

	o := newTestOrchestrator(t, caller, store, models, WithSelfProbeRate(0), WithConcurrency(1), WithRetryBound(2))
	if err := o.RunLayer1(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}

	if got := len(store.Evaluations()); got != 2 {
		t.Fatalf("len(evals) = %d, want 2 after retry recovery", got)
	}
	if got := len(store.Failures()); got != 0 {
		t.Errorf("Failures = %d, want 0", got)
	}
	// Each pairing: one garbage response, one retry with the reminder.
	if got := len(caller.captured()); got != 4 {
		t.Errorf("calls = %d, want 4", got)
	}
}

func TestExhaustedRetriesRecordFailureNotRecord(t *testing.T) {
	caller := &fakeCaller{}
	caller.respond = func(n int, req transport.Request) (*transport.Response, error) {
		return &transport.Response{Text: "still not JSON"}, nil
	}
	store := record.NewStore()
	models := testModels("alpha", "beta")
	tasks, responses := testInputs(1, "alpha", "beta")

	o := newTestOrchestrator(t, caller, store, models, WithSelfProbeRate(0), WithConcurrency(1), WithRetryBound(2))
	if err := o.RunLayer1(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}

	if got := len(store.Evaluations()); got != 0 {
		t.Fatalf("len(evals) = %d, want 0: no record may be fabricated", got)
	}
	failures := store.Failures()
	if len(failures) != 2 {
		t.Fatalf("len(failures) = %d, want 2", len(failures))
	}
	for _, f := range failures {
		if f.Layer != record.Layer1 {
			t.Errorf("failure layer = %q, want cross", f.Layer)
		}
		if !strings.Contains(f.Reason, "no parseable response") {
			t.Errorf("failure reason = %q", f.Reason)
		}
	}
	// 1 + 2 retries per pairing.
	if got := len(caller.captured()); got != 6 {
		t.Errorf("calls = %d, want 6", got)
	}
}

func TestTransientCallErrorRetriedWithinBound(t *testing.T) {
	// The first call of each pairing fails at the transport level; the
	// re-ask must recover without losing the pairing.
	var mu sync.Mutex
	failed := map[string]bool{}
	caller := &fakeCaller{}
	caller.respond = func(n int, req transport.Request) (*transport.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if !failed[req.Prompt] {
			failed[req.Prompt] = true
			return nil, errors.New("connection reset")
		}
		return &transport.Response{Text: validPayload}, nil
	}
	store := record.NewStore()
	models := testModels("alpha", "beta")
	tasks, responses := testInputs(1, "alpha", "beta")

	o := newTestOrchestrator(t, caller, store, models, WithSelfProbeRate(0), WithConcurrency(1), WithRetryBound(2))
	if err := o.RunLayer1(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}
	if got := len(store.Evaluations()); got != 2 {
		t.Fatalf("len(evals) = %d, want 2 after transient-error recovery", got)
	}
	if got := len(store.Failures()); got != 0 {
		t.Errorf("failures = %d, want 0", got)
	}
	// One failed call plus one successful re-ask per pairing.
	if got := len(caller.captured()); got != 4 {
		t.Errorf("calls = %d, want 4", got)
	}
	// Call failures re-ask with the prompt unchanged.
	for _, req := range caller.captured() {
		if strings.Contains(req.Prompt, "previous response was not valid JSON") {
			t.Errorf("format reminder appended after a call error:\n%s", req.Prompt)
		}
	}
}

func TestPersistentCallErrorExhaustsRetryBound(t *testing.T) {
	caller := &fakeCaller{}
	caller.respond = func(n int, req transport.Request) (*transport.Response, error) {
		return nil, errors.New("gateway unavailable")
	}
	store := record.NewStore()
	models := testModels("alpha", "beta")
	tasks, responses := testInputs(1, "alpha", "beta")

	o := newTestOrchestrator(t, caller, store, models, WithSelfProbeRate(0), WithConcurrency(1), WithRetryBound(2))
	if err := o.RunLayer1(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}
	if got := len(store.Evaluations()); got != 0 {
		t.Fatalf("len(evals) = %d, want 0", got)
	}
	failures := store.Failures()
	if len(failures) != 2 {
		t.Fatalf("len(failures) = %d, want 2", len(failures))
	}
	for _, f := range failures {
		if !strings.Contains(f.Reason, "gateway unavailable") {
			t.Errorf("failure reason = %q", f.Reason)
		}
	}
	// 1 + 2 retries per pairing.
	if got := len(caller.captured()); got != 6 {
		t.Errorf("calls = %d, want 6", got)
	}
}

func TestBudgetStopsDispatchWithOvershoot(t *testing.T) {
	caller := &fakeCaller{}
	caller.respond = func(n int, req transport.Request) (*transport.Response, error) {
		return &transport.Response{
			Text:  validPayload,
			Usage: transport.Usage{CostUSD: 0.40},
		}, nil
	}
	store := record.NewStore()
	models := testModels("alpha", "beta", "gamma")
	tasks, responses := testInputs(1, "alpha", "beta", "gamma")

	ledger := transport.NewLedger(1.00)
	o := newTestOrchestrator(t, caller, store, models,
		WithSelfProbeRate(0), WithConcurrency(1), WithLedger(ledger))

	err := o.RunLayer1(t.Context(), tasks, responses)
	if !errors.Is(err, ErrBudgetStopped) {
		t.Fatalf("RunLayer1() = %v, want ErrBudgetStopped", err)
	}

	// Spend before each dispatch: 0, 0.40, 0.80 admitted; 1.20 refused.
	if got := len(store.Evaluations()); got != 3 {
		t.Errorf("len(evals) = %d, want 3", got)
	}
	if got := len(caller.captured()); got != 3 {
		t.Errorf("calls = %d, want 3: fourth must not dispatch", got)
	}
	if got := ledger.Spent(); math.Abs(got-1.20) > 1e-9 {
		t.Errorf("Spent() = %v, want 1.20 overshoot recorded", got)
	}
	// The refused pairings are recorded as failures, not dropped silently.
	if got := len(store.Failures()); got != 3 {
		t.Errorf("failures = %d, want 3", got)
	}
}

func TestRunLayer2(t *testing.T) {
	caller := &fakeCaller{}
	store := record.NewStore()
	models := testModels("alpha", "beta", "gamma")
	tasks, responses := testInputs(1, "alpha", "beta", "gamma")

	o := newTestOrchestrator(t, caller, store, models, WithSelfProbeRate(0))
	if err := o.RunLayer1(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}
	layer1 := len(store.Evaluations())
	if layer1 != 6 {
		t.Fatalf("layer1 records = %d, want 6", layer1)
	}

	if err := o.RunLayer2(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}
	metas := store.MetaEvaluations()
	// Each of the 6 evaluations judged by the 2 non-author participants.
	if len(metas) != 12 {
		t.Fatalf("len(metas) = %d, want 12", len(metas))
	}
	for _, m := range metas {
		if m.MetaEvaluator == m.Evaluator {
			t.Errorf("meta evaluator %q judged its own evaluation", m.MetaEvaluator)
		}
		if m.Scores.Fairness != 7 || m.Scores.Calibration != 8 {
			t.Errorf("meta scores = %+v", m.Scores)
		}
	}
}

func TestRepairedResponseTaggedRepaired(t *testing.T) {
	caller := &fakeCaller{}
	caller.respond = func(n int, req transport.Request) (*transport.Response, error) {
		return &transport.Response{Text: "```json\n" + validPayload + "\n```"}, nil
	}
	store := record.NewStore()
	models := testModels("alpha", "beta")
	tasks, responses := testInputs(1, "alpha", "beta")

	o := newTestOrchestrator(t, caller, store, models, WithSelfProbeRate(0))
	if err := o.RunLayer1(t.Context(), tasks, responses); err != nil {
		t.Fatal(err)
	}
	for _, e := range store.Evaluations() {
		if e.Status != record.StatusRepaired {
			t.Errorf("Status = %q, want repaired for fenced response", e.Status)
		}
	}
}
