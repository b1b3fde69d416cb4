// Package balance guards requests against an exhausted payment balance.
//
// DESIGN: The gateway only knows two verbs: Check, which may veto a request
// before any upstream call, and NotifySpend, the optimistic post-request
// debit. The wallet collaborator owns real balances and refreshes; the
// cached policy here just tracks the optimistic view between refreshes.
package balance

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrInsufficient is the terminal veto. The gateway maps it to a 402-style
// error and never retries or falls back.
type ErrInsufficient struct {
	BalanceUSD float64
	NeededUSD  float64
}

func (e *ErrInsufficient) Error() string {
	return fmt.Sprintf("insufficient balance: have $%.4f, need $%.4f", e.BalanceUSD, e.NeededUSD)
}

// Policy can veto or observe requests.
type Policy interface {
	// Check vetoes a request whose estimated cost the balance cannot cover.
	Check(estimatedCostUSD float64) error
	// NotifySpend records an optimistic debit after a completed request.
	// Fire-and-forget; must not fail.
	NotifySpend(costUSD float64)
	// Snapshot returns the current optimistic balance for health reporting.
	Snapshot() float64
}

// CachedPolicy is a local optimistic balance with a veto floor.
type CachedPolicy struct {
	mu      sync.Mutex
	balance float64
	minUSD  float64
}

// NewCachedPolicy starts from an initial balance; requests are vetoed once
// the optimistic balance minus the estimate would cross the floor.
func NewCachedPolicy(initialUSD, minUSD float64) *CachedPolicy {
	return &CachedPolicy{balance: initialUSD, minUSD: minUSD}
}

// Check implements Policy.
func (p *CachedPolicy) Check(estimatedCostUSD float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balance-estimatedCostUSD < p.minUSD {
		return &ErrInsufficient{BalanceUSD: p.balance, NeededUSD: estimatedCostUSD}
	}
	return nil
}

// NotifySpend implements Policy.
func (p *CachedPolicy) NotifySpend(costUSD float64) {
	if costUSD <= 0 {
		return
	}
	p.mu.Lock()
	p.balance -= costUSD
	balance := p.balance
	p.mu.Unlock()

	log.Debug().Float64("spent_usd", costUSD).Float64("balance_usd", balance).
		Msg("balance: optimistic debit")
}

// Snapshot implements Policy.
func (p *CachedPolicy) Snapshot() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// Credit tops the optimistic balance up, e.g. after a wallet refresh.
func (p *CachedPolicy) Credit(amountUSD float64) {
	p.mu.Lock()
	p.balance += amountUSD
	p.mu.Unlock()
}
