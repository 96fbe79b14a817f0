/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package anonymizer assigns blind placeholder labels ("Model A", "Model B",
// ...) to participant models so evaluators cannot identify who they are
// grading.
//
// Each (evaluator, task) pair gets its own session: the label assignment is a
// true bijection over the participants, shuffled differently per evaluator so
// no model always lands on "Model A", but stable for the lifetime of the
// session so repeated references to a label stay self-consistent.
package anonymizer

import (
	"fmt"
	"sort"
	"sync"
)

// maxParticipants bounds the label alphabet at "Model Z".
const maxParticipants = 26

// Shuffler is the randomness source behind label assignment. *math/rand.Rand
// satisfies it; tests inject a fixed sequence.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Anonymizer hands out per-session blind label bijections.
type Anonymizer struct {
	mu       sync.Mutex
	rng      Shuffler
	sessions map[sessionKey]map[string]string
}

type sessionKey struct {
	evaluator string
	taskID    string
}

// New creates an Anonymizer backed by the given randomness source.
func New(rng Shuffler) *Anonymizer {
	return &Anonymizer{
		rng:      rng,
		sessions: make(map[sessionKey]map[string]string),
	}
}

// Label returns the i-th placeholder label.
func Label(i int) string {
	return fmt.Sprintf("Model %c", rune('A'+i))
}

// Resolve returns the label map {model id -> blind label} for the given
// evaluator and task session, creating and shuffling it on first use. The
// same session always yields the same map; different evaluators get
// independently shuffled assignments.
func (a *Anonymizer) Resolve(evaluator, taskID string, participants []string) (map[string]string, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("no participants to anonymize for evaluator %q task %q", evaluator, taskID)
	}
	if len(participants) > maxParticipants {
		return nil, fmt.Errorf("%d participants exceeds the %d-label alphabet", len(participants), maxParticipants)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := sessionKey{evaluator: evaluator, taskID: taskID}
	if existing, ok := a.sessions[key]; ok {
		if err := sameParticipants(existing, participants); err != nil {
			return nil, fmt.Errorf("session %s/%s: %w", evaluator, taskID, err)
		}
		return cloneMap(existing), nil
	}

	// Sort for a deterministic base order, then shuffle so the assignment
	// differs across evaluators.
	ordered := make([]string, len(participants))
	copy(ordered, participants)
	sort.Strings(ordered)
	a.rng.Shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})

	mapping := make(map[string]string, len(ordered))
	for i, model := range ordered {
		mapping[model] = Label(i)
	}
	a.sessions[key] = mapping
	return cloneMap(mapping), nil
}

// Reveal maps a blind label back to the model id for an existing session.
// This is used only by bias computation and must never leak into
// evaluator-facing content.
func (a *Anonymizer) Reveal(evaluator, taskID, label string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	mapping, ok := a.sessions[sessionKey{evaluator: evaluator, taskID: taskID}]
	if !ok {
		return "", fmt.Errorf("no label session for evaluator %q task %q", evaluator, taskID)
	}
	for model, l := range mapping {
		if l == label {
			return model, nil
		}
	}
	return "", fmt.Errorf("label %q not assigned in session %s/%s", label, evaluator, taskID)
}

// sameParticipants verifies a later Resolve call names the same participant
// set the session was created with.
func sameParticipants(mapping map[string]string, participants []string) error {
	if len(mapping) != len(participants) {
		return fmt.Errorf("participant set changed: session has %d, call has %d", len(mapping), len(participants))
	}
	for _, p := range participants {
		if _, ok := mapping[p]; !ok {
			return fmt.Errorf("participant %q not in existing session", p)
		}
	}
	return nil
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
