/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs a full blind cross-evaluation: Layer-1 cross grading,
// anomaly filtering, Layer-2 meta grading, bias detection, profiling, and
// report generation.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"

	"chainguard.dev/crosseval/anomaly"
	"chainguard.dev/crosseval/bias"
	"chainguard.dev/crosseval/config"
	"chainguard.dev/crosseval/orchestrator"
	"chainguard.dev/crosseval/profile"
	"chainguard.dev/crosseval/record"
	"chainguard.dev/crosseval/report"
	"chainguard.dev/crosseval/transport"
	"chainguard.dev/crosseval/transport/openrouter"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var settings config.Settings
	if err := envconfig.Process(ctx, &settings); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}
	if err := settings.Validate(); err != nil {
		clog.FatalContextf(ctx, "invalid config: %v", err)
	}
	if settings.APIKey == "" {
		clog.FatalContextf(ctx, "OPENROUTER_API_KEY is required")
	}

	if settings.MetricsPort > 0 {
		go serveMetrics(ctx, settings.MetricsPort)
	}

	models, err := config.LoadModels(settings.ModelsPath)
	if err != nil {
		clog.FatalContextf(ctx, "loading models: %v", err)
	}
	tasks, err := config.LoadTasks(settings.TasksDir, settings.Domain)
	if err != nil {
		clog.FatalContextf(ctx, "loading tasks: %v", err)
	}
	criteria := config.DefaultCriteria()
	if settings.CriteriaPath != "" {
		// A bad weight table must fail here, before any model call.
		if criteria, err = config.LoadCriteria(settings.CriteriaPath); err != nil {
			clog.FatalContextf(ctx, "loading criteria: %v", err)
		}
	}
	responses, err := config.LoadResponses(settings.ResponsesDir)
	if err != nil {
		clog.FatalContextf(ctx, "loading responses: %v", err)
	}

	clog.InfoContextf(ctx, "Loaded %d models, %d tasks, %d responses", len(models), len(tasks), len(responses))

	caller, err := openrouter.New(settings.APIKey,
		openrouter.WithPricing(config.PriceTable(models)),
		openrouter.WithMetrics(transport.NewGenAI("chainguard.dev/crosseval")),
	)
	if err != nil {
		clog.FatalContextf(ctx, "creating gateway client: %v", err)
	}

	store := record.NewStore()
	ledger := transport.NewLedger(settings.BudgetUSD)
	orch, err := orchestrator.New(caller, store, models, criteria,
		orchestrator.WithSelfProbeRate(settings.SelfProbeRate),
		orchestrator.WithRetryBound(settings.RetryBound),
		orchestrator.WithConcurrency(settings.Concurrency),
		orchestrator.WithLedger(ledger),
		orchestrator.WithRand(rand.New(rand.NewSource(time.Now().UnixNano()))),
	)
	if err != nil {
		clog.FatalContextf(ctx, "creating orchestrator: %v", err)
	}

	incomplete := false
	if err := orch.RunLayer1(ctx, tasks, responses); err != nil {
		if !errors.Is(err, orchestrator.ErrBudgetStopped) {
			clog.FatalContextf(ctx, "cross-evaluation layer: %v", err)
		}
		incomplete = true
	}

	filter := anomaly.NewFilter(settings.AnomalyThreshold)
	if _, err := filter.Apply(ctx, store); err != nil {
		clog.FatalContextf(ctx, "anomaly filter: %v", err)
	}

	if !incomplete {
		if err := orch.RunLayer2(ctx, tasks, responses); err != nil {
			if !errors.Is(err, orchestrator.ErrBudgetStopped) {
				clog.FatalContextf(ctx, "meta-evaluation layer: %v", err)
			}
			incomplete = true
		}
	}

	providers := make(map[string]string, len(models))
	displayNames := make(map[string]string, len(models))
	for key, m := range models {
		providers[key] = m.Provider
		displayNames[key] = m.DisplayName
	}
	biasReport := bias.Detect(ctx, store, providers)

	taskDomains := make(map[string]string, len(tasks))
	for _, t := range tasks {
		taskDomains[t.ID] = t.Domain
	}
	builder, err := profile.NewBuilder(criteria.CrossWeights(), taskDomains, displayNames, settings.DisagreementThreshold)
	if err != nil {
		clog.FatalContextf(ctx, "creating profiler: %v", err)
	}
	profileReport := builder.Build(ctx, store, biasReport)

	out := report.Build(store, biasReport, profileReport, ledger.Spent(), incomplete)
	if err := writeOutputs(settings.OutputDir, out); err != nil {
		clog.FatalContextf(ctx, "writing outputs: %v", err)
	}

	counts := store.Counts()
	clog.InfoContextf(ctx, "Run complete: %d evaluations (%d repaired, %d excluded, %d probes), %d meta-evaluations, %d failures, $%.4f spent",
		counts.Evaluations, counts.Repaired, counts.Excluded, counts.SelfProbes,
		counts.MetaEvaluations, counts.Failures, ledger.Spent())
}

// writeOutputs persists the JSON document and the markdown summary.
func writeOutputs(dir string, out *report.Output) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	jsonFile, err := os.Create(filepath.Join(dir, "crosseval.json"))
	if err != nil {
		return err
	}
	defer jsonFile.Close()
	if err := out.WriteJSON(jsonFile); err != nil {
		return fmt.Errorf("writing JSON output: %w", err)
	}

	mdFile, err := os.Create(filepath.Join(dir, "crosseval.md"))
	if err != nil {
		return err
	}
	defer mdFile.Close()
	if err := out.WriteSummary(mdFile); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}

func serveMetrics(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	clog.InfoContextf(ctx, "Serving metrics on :%d", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		clog.ErrorContextf(ctx, "metrics server: %v", err)
	}
}
