/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/crosseval/anonymizer"
	"chainguard.dev/crosseval/config"
	"chainguard.dev/crosseval/metrics"
	"chainguard.dev/crosseval/record"
	"chainguard.dev/crosseval/repair"
	"chainguard.dev/crosseval/transport"
)

// Rand supplies the randomness for probe injection and label shuffling.
// *math/rand.Rand satisfies it; tests seed their own.
type Rand interface {
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

// Orchestrator drives both evaluation layers over a fixed participant set.
type Orchestrator struct {
	caller   transport.Caller
	store    *record.Store
	ledger   *transport.Ledger
	anon     *anonymizer.Anonymizer
	models   map[string]config.Model
	criteria config.Criteria

	probeRate   float64
	retryBound  int
	concurrency int
	temperature float64

	mu  sync.Mutex
	rng Rand

	crossRepair *repair.Pipeline
	metaRepair  *repair.Pipeline

	now func() time.Time
}

// Option is a functional option for configuring the orchestrator.
type Option func(*Orchestrator) error

// WithSelfProbeRate sets the probability of substituting the evaluator's
// own response for a pairing.
func WithSelfProbeRate(rate float64) Option {
	return func(o *Orchestrator) error {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("self-probe rate must be in [0,1], got %v", rate)
		}
		o.probeRate = rate
		return nil
	}
}

// WithRetryBound sets how many times an unparseable response is re-asked.
func WithRetryBound(n int) Option {
	return func(o *Orchestrator) error {
		if n < 0 {
			return fmt.Errorf("retry bound cannot be negative, got %d", n)
		}
		o.retryBound = n
		return nil
	}
}

// WithConcurrency bounds in-flight model calls.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return fmt.Errorf("concurrency must be at least 1, got %d", n)
		}
		o.concurrency = n
		return nil
	}
}

// WithLedger attaches a spend ledger; without one the run is unbudgeted.
func WithLedger(l *transport.Ledger) Option {
	return func(o *Orchestrator) error {
		if l == nil {
			return errors.New("ledger cannot be nil")
		}
		o.ledger = l
		return nil
	}
}

// WithRand injects the randomness source for probe decisions and label
// shuffles.
func WithRand(rng Rand) Option {
	return func(o *Orchestrator) error {
		if rng == nil {
			return errors.New("rand source cannot be nil")
		}
		o.rng = rng
		o.anon = anonymizer.New(rng)
		return nil
	}
}

// New creates an orchestrator over the given caller, store and participant
// models.
func New(caller transport.Caller, store *record.Store, models map[string]config.Model, criteria config.Criteria, opts ...Option) (*Orchestrator, error) {
	if caller == nil {
		return nil, errors.New("caller is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if len(models) < 2 {
		return nil, fmt.Errorf("at least two participant models are required, got %d", len(models))
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		caller:      caller,
		store:       store,
		ledger:      transport.NewLedger(0),
		models:      models,
		criteria:    criteria,
		probeRate:   0.20,
		retryBound:  2,
		concurrency: 4,
		temperature: 0.3,
		crossRepair: repair.MustNew(record.CrossCriteria...),
		metaRepair:  repair.MustNew(record.MetaCriteria...),
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.anon == nil {
		return nil, errors.New("a rand source is required; use WithRand")
	}
	return o, nil
}

// pairing is one unit of Layer-1 work: evaluator judges the text presented
// under the subject's blind label.
type pairing struct {
	task       config.Task
	evaluator  string
	subject    string
	blindLabel string
	// text is what the evaluator actually sees: the subject's response,
	// or the evaluator's own response when probe is set.
	text  string
	probe bool
}

// ErrBudgetStopped reports that the run stopped dispatching because the
// ledger refused admission; recorded results remain usable.
var ErrBudgetStopped = errors.New("run stopped early: budget exhausted")

// RunLayer1 enumerates all (task, evaluator, subject) pairings with
// evaluator != subject, injects self probes, and records the outcomes.
// Returns ErrBudgetStopped when the ledger cut the run short.
func (o *Orchestrator) RunLayer1(ctx context.Context, tasks []config.Task, responses []record.ModelResponse) error {
	log := clog.FromContext(ctx)

	byTask := make(map[string]map[string]string) // task -> model -> response text
	for _, r := range responses {
		if byTask[r.TaskID] == nil {
			byTask[r.TaskID] = make(map[string]string)
		}
		byTask[r.TaskID][r.Model] = r.Response
	}

	pairings, err := o.enumerate(tasks, byTask)
	if err != nil {
		return err
	}
	log.With("pairings", len(pairings)).
		With("models", len(o.models)).
		With("tasks", len(tasks)).
		Info("Starting cross-evaluation layer")

	budgetStopped := o.dispatch(ctx, record.Layer1, pairings, func(ctx context.Context, p pairing) error {
		return o.evaluatePairing(ctx, p)
	})
	if budgetStopped {
		return ErrBudgetStopped
	}
	return nil
}

// enumerate builds the Layer-1 pairing list. Probe decisions are drawn
// serially here so a seeded source reproduces the same plan.
func (o *Orchestrator) enumerate(tasks []config.Task, byTask map[string]map[string]string) ([]pairing, error) {
	var pairings []pairing
	keys := sortedKeys(o.models)
	for _, task := range tasks {
		texts := byTask[task.ID]
		var participants []string
		for _, m := range keys {
			if _, ok := texts[m]; ok {
				participants = append(participants, m)
			}
		}
		if len(participants) < 2 {
			continue
		}
		for _, evaluator := range participants {
			labels, err := o.anon.Resolve(evaluator, task.ID, participants)
			if err != nil {
				return nil, fmt.Errorf("resolving labels for %s on %s: %w", evaluator, task.ID, err)
			}
			own := texts[evaluator]
			for _, subject := range participants {
				if subject == evaluator {
					continue
				}
				p := pairing{
					task:       task,
					evaluator:  evaluator,
					subject:    subject,
					blindLabel: labels[subject],
					text:       texts[subject],
				}
				// A probe substitutes the evaluator's own answer under
				// the subject's label; the label and subject are not
				// changed, so the evaluator cannot tell.
				if own != "" && o.roll() < o.probeRate {
					p.text = own
					p.probe = true
				}
				pairings = append(pairings, p)
			}
		}
	}
	return pairings, nil
}

func (o *Orchestrator) roll() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Float64()
}

// dispatch fans work out with bounded parallelism, checking the budget
// before each unit. Reports whether the budget stopped any dispatch.
func (o *Orchestrator) dispatch(ctx context.Context, layer record.Layer, pairings []pairing, work func(context.Context, pairing) error) bool {
	var stopped sync.Once
	var budgetStopped bool

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, p := range pairings {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.ledger.Allow(); err != nil {
				stopped.Do(func() {
					budgetStopped = true
					clog.FromContext(ctx).With("spent", o.ledger.Spent()).
						With("ceiling", o.ledger.Ceiling()).
						Warn("Budget exhausted, halting new dispatch")
				})
				o.store.AddFailure(record.PairingFailure{
					Layer:     layer,
					TaskID:    p.task.ID,
					Evaluator: p.evaluator,
					Subject:   p.subject,
					Reason:    err.Error(),
					Timestamp: o.now(),
				})
				metrics.RecordPairing(string(layer), metrics.OutcomeFailed)
				return nil
			}
			return work(ctx, p)
		})
	}
	// Worker errors are all recorded as failures; the only error that can
	// surface here is context cancellation.
	if err := g.Wait(); err != nil {
		clog.FromContext(ctx).With("error", err).Warn("Dispatch interrupted")
	}
	metrics.SetSpend(o.ledger.Spent())
	return budgetStopped
}

// callWithRepair runs the per-pairing retry loop: call, repair, re-ask up
// to the retry bound. Unparseable responses re-ask with an explicit format
// reminder; call failures that survived the gateway's own backoff re-ask
// with the prompt unchanged.
func (o *Orchestrator) callWithRepair(ctx context.Context, layer record.Layer, pipeline *repair.Pipeline, model config.Model, system, userPrompt string) (*repair.Result, error) {
	log := clog.FromContext(ctx)
	prompt := userPrompt
	var lastErr error
	for attempt := 0; attempt <= o.retryBound; attempt++ {
		if attempt > 0 {
			metrics.RecordRetry(string(layer))
		}
		resp, err := o.caller.Call(ctx, transport.Request{
			Model:       model.ID,
			System:      system,
			Prompt:      prompt,
			MaxTokens:   model.MaxTokens,
			Temperature: &o.temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			if attempt < o.retryBound {
				log.With("attempt", attempt+1).
					With("retry_bound", o.retryBound).
					With("model", model.ID).
					With("error", err).
					Warn("Call failed, re-asking")
			}
			continue
		}
		o.ledger.Record(resp.Usage.CostUSD)

		res := pipeline.Run(resp.Text)
		if res.Status != repair.Failed {
			if res.Status == repair.PartiallyRepaired || res.Stage > 1 {
				metrics.RecordRepair(string(layer), fmt.Sprintf("%d", res.Stage))
			}
			return &res, nil
		}

		lastErr = fmt.Errorf("no parseable response: %w", res.Err)
		if attempt < o.retryBound {
			log.With("attempt", attempt+1).
				With("retry_bound", o.retryBound).
				With("model", model.ID).
				Warn("Unparseable response, re-asking with format reminder")
			prompt = userPrompt + "\n\n" + formatReminder
		}
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", o.retryBound, lastErr)
}

// evaluatePairing executes one Layer-1 pairing end to end.
func (o *Orchestrator) evaluatePairing(ctx context.Context, p pairing) error {
	userPrompt, err := buildCrossPrompt(o.criteria, p.task.Prompt, p.blindLabel, p.text)
	if err != nil {
		return err
	}

	model := o.models[p.evaluator]
	res, err := o.callWithRepair(ctx, record.Layer1, o.crossRepair, model, crossSystemPrompt, userPrompt)
	if err != nil {
		o.store.AddFailure(record.PairingFailure{
			Layer:     record.Layer1,
			TaskID:    p.task.ID,
			Evaluator: p.evaluator,
			Subject:   p.subject,
			Reason:    err.Error(),
			Timestamp: o.now(),
		})
		metrics.RecordPairing(string(record.Layer1), metrics.OutcomeFailed)
		clog.FromContext(ctx).With("task", p.task.ID).
			With("evaluator", p.evaluator).
			With("subject", p.subject).
			With("error", err).
			Warn("Pairing failed; recorded as missing")
		return nil
	}

	rec := record.EvaluationRecord{
		TaskID:          p.task.ID,
		Evaluator:       p.evaluator,
		Subject:         p.subject,
		BlindLabel:      p.blindLabel,
		Scores:          crossScores(res.Payload.Scores),
		Strengths:       res.Payload.Strengths,
		Weaknesses:      res.Payload.Weaknesses,
		Reasoning:       res.Payload.Reasoning,
		SelfProbe:       p.probe,
		Status:          statusOf(res),
		DefaultedFields: res.DefaultedFields,
		Timestamp:       o.now(),
	}
	o.store.AddEvaluation(rec)
	metrics.RecordPairing(string(record.Layer1), outcomeOf(res))
	return nil
}

// RunLayer2 meta-evaluates every recorded Layer-1 evaluation: each other
// participant judges the evaluation's quality. Failed pairings have no
// record and are skipped implicitly.
func (o *Orchestrator) RunLayer2(ctx context.Context, tasks []config.Task, responses []record.ModelResponse) error {
	log := clog.FromContext(ctx)

	prompts := make(map[string]string, len(tasks))
	taskByID := make(map[string]config.Task, len(tasks))
	for _, t := range tasks {
		prompts[t.ID] = t.Prompt
		taskByID[t.ID] = t
	}
	texts := make(map[string]map[string]string)
	for _, r := range responses {
		if texts[r.TaskID] == nil {
			texts[r.TaskID] = make(map[string]string)
		}
		texts[r.TaskID][r.Model] = r.Response
	}

	evals := o.store.Evaluations()
	keys := sortedKeys(o.models)

	type metaPairing struct {
		rec  record.EvaluationRecord
		meta string
	}
	var work []metaPairing
	for _, e := range evals {
		if _, ok := taskByID[e.TaskID]; !ok {
			continue
		}
		for _, meta := range keys {
			if meta == e.Evaluator {
				continue
			}
			work = append(work, metaPairing{rec: e, meta: meta})
		}
	}
	log.With("meta_pairings", len(work)).
		With("evaluations", len(evals)).
		Info("Starting meta-evaluation layer")

	var stopped sync.Once
	var budgetStopped bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, w := range work {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := o.ledger.Allow(); err != nil {
				stopped.Do(func() { budgetStopped = true })
				o.store.AddFailure(record.PairingFailure{
					Layer:     record.Layer2,
					TaskID:    w.rec.TaskID,
					Evaluator: w.meta,
					Subject:   w.rec.Evaluator,
					Reason:    err.Error(),
					Timestamp: o.now(),
				})
				metrics.RecordPairing(string(record.Layer2), metrics.OutcomeFailed)
				return nil
			}
			return o.metaEvaluate(gctx, w.meta, prompts[w.rec.TaskID], texts[w.rec.TaskID][w.rec.Subject], w.rec)
		})
	}
	if err := g.Wait(); err != nil {
		log.With("error", err).Warn("Meta dispatch interrupted")
	}
	metrics.SetSpend(o.ledger.Spent())
	if budgetStopped {
		return ErrBudgetStopped
	}
	return nil
}

// metaEvaluate executes one Layer-2 pairing end to end.
func (o *Orchestrator) metaEvaluate(ctx context.Context, metaKey, taskPrompt, responseText string, e record.EvaluationRecord) error {
	userPrompt, err := buildMetaPrompt(o.criteria, taskPrompt, responseText, &e)
	if err != nil {
		return err
	}

	model := o.models[metaKey]
	res, err := o.callWithRepair(ctx, record.Layer2, o.metaRepair, model, metaSystemPrompt, userPrompt)
	if err != nil {
		o.store.AddFailure(record.PairingFailure{
			Layer:     record.Layer2,
			TaskID:    e.TaskID,
			Evaluator: metaKey,
			Subject:   e.Evaluator,
			Reason:    err.Error(),
			Timestamp: o.now(),
		})
		metrics.RecordPairing(string(record.Layer2), metrics.OutcomeFailed)
		return nil
	}

	rec := record.MetaEvaluationRecord{
		TaskID:          e.TaskID,
		MetaEvaluator:   metaKey,
		Evaluator:       e.Evaluator,
		Subject:         e.Subject,
		Scores:          metaScores(res.Payload.Scores),
		DetectedBiases:  res.Payload.DetectedBiases,
		MissedPoints:    res.Payload.MissedPoints,
		Reasoning:       res.Payload.Reasoning,
		Status:          statusOf(res),
		DefaultedFields: res.DefaultedFields,
		Timestamp:       o.now(),
	}
	o.store.AddMetaEvaluation(rec)
	metrics.RecordPairing(string(record.Layer2), outcomeOf(res))
	return nil
}

func crossScores(m map[string]float64) record.Scores {
	return record.Scores{
		Accuracy:           m[record.CriterionAccuracy],
		Completeness:       m[record.CriterionCompleteness],
		LogicalConsistency: m[record.CriterionLogicalConsistency],
		Clarity:            m[record.CriterionClarity],
		Originality:        m[record.CriterionOriginality],
	}
}

func metaScores(m map[string]float64) record.MetaScores {
	return record.MetaScores{
		Fairness:    m[record.CriterionFairness],
		Specificity: m[record.CriterionSpecificity],
		Coverage:    m[record.CriterionCoverage],
		Calibration: m[record.CriterionCalibration],
	}
}

func statusOf(res *repair.Result) record.Status {
	if res.Status == repair.Valid && res.Stage == 1 {
		return record.StatusValid
	}
	return record.StatusRepaired
}

func outcomeOf(res *repair.Result) string {
	if res.Status == repair.Valid && res.Stage == 1 {
		return metrics.OutcomeRecorded
	}
	return metrics.OutcomeRepaired
}
