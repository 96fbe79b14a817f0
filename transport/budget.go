/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"fmt"
	"sync"
)

// ErrBudgetExhausted is returned by Ledger.Allow once cumulative spend has
// reached the ceiling.
type ErrBudgetExhausted struct {
	Ceiling float64
	Spent   float64
}

func (e *ErrBudgetExhausted) Error() string {
	return fmt.Sprintf("budget exhausted: spent $%.4f of $%.4f ceiling", e.Spent, e.Ceiling)
}

// Ledger tracks cumulative spend against a ceiling. Admission is checked
// before a call is dispatched and spend is recorded after it completes, so
// in-flight calls are never cancelled: the final total may exceed the
// ceiling by at most the cost of the calls admitted while under it.
type Ledger struct {
	mu      sync.Mutex
	ceiling float64
	spent   float64
}

// NewLedger creates a ledger with the given ceiling in dollars. A ceiling
// of 0 or less disables budget enforcement.
func NewLedger(ceilingUSD float64) *Ledger {
	return &Ledger{ceiling: ceilingUSD}
}

// Allow reports whether a new call may be dispatched. It returns an
// *ErrBudgetExhausted once recorded spend has reached the ceiling.
func (l *Ledger) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ceiling <= 0 {
		return nil
	}
	if l.spent >= l.ceiling {
		return &ErrBudgetExhausted{Ceiling: l.ceiling, Spent: l.spent}
	}
	return nil
}

// Record adds the cost of a completed call to the ledger. Costs are
// recorded even when they push the total past the ceiling.
func (l *Ledger) Record(costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent += costUSD
}

// Spent returns the cumulative recorded spend in dollars.
func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

// Ceiling returns the configured ceiling in dollars.
func (l *Ledger) Ceiling() float64 {
	return l.ceiling
}
