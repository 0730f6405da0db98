package core

import (
	"sync"

	"github.com/shopspring/decimal"
)

// ProceedsLedger is the pull-payment balance store. Accounts are credited
// on refund or sale and debited only by withdrawal. Entries are created
// implicitly on first credit and never deleted; a zero balance is
// equivalent to absence.
type ProceedsLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func NewProceedsLedger() *ProceedsLedger {
	return &ProceedsLedger{
		balances: make(map[string]decimal.Decimal),
	}
}

// Balance returns the withdrawable balance for an account.
func (l *ProceedsLedger) Balance(account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Credit adds amount to an account and returns the resulting balance.
func (l *ProceedsLedger) Credit(account string, amount decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.balances[account].Add(amount)
	l.balances[account] = next
	return next
}

// Zero atomically resets an account to zero and returns the prior
// balance. This is the first half of withdraw's zero-then-pay ordering:
// any nested withdrawal that runs while the payout is in flight observes
// a zero balance.
func (l *ProceedsLedger) Zero(account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	prior := l.balances[account]
	l.balances[account] = decimal.Zero
	return prior
}

// SetBalance overwrites an account balance. Used only when restoring
// persisted state at startup.
func (l *ProceedsLedger) SetBalance(account string, balance decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = balance
}

// Total returns the sum of all balances.
func (l *ProceedsLedger) Total() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, b := range l.balances {
		total = total.Add(b)
	}
	return total
}

// Snapshot returns a copy of all nonzero balances.
func (l *ProceedsLedger) Snapshot() map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(l.balances))
	for account, b := range l.balances {
		if !b.IsZero() {
			out[account] = b
		}
	}
	return out
}
