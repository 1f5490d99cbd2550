package bond

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"rideledger/internal/domain"
)

// Ensure Ledger implements Funder.
var _ Funder = (*Ledger)(nil)

type hold struct {
	owner  domain.Identity
	key    domain.Key
	amount uint64
}

// Ledger is an in-process balance book. Identities seen for the first time are
// credited with the faucet amount, which is zero unless configured.
type Ledger struct {
	mu       sync.Mutex
	balances map[domain.Identity]uint64
	seen     map[domain.Identity]bool
	holds    map[string]hold
	faucet   uint64
}

// NewLedger creates an empty ledger.
func NewLedger(faucet uint64) *Ledger {
	return &Ledger{
		balances: make(map[domain.Identity]uint64),
		seen:     make(map[domain.Identity]bool),
		holds:    make(map[string]hold),
		faucet:   faucet,
	}
}

// Credit adds amount to owner's balance.
func (l *Ledger) Credit(owner domain.Identity, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(owner)
	l.balances[owner] += amount
}

// Balance returns owner's spendable balance.
func (l *Ledger) Balance(owner domain.Identity) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(owner)
	return l.balances[owner]
}

// Held returns the total amount currently held for owner.
func (l *Ledger) Held(owner domain.Identity) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total uint64
	for _, h := range l.holds {
		if h.owner == owner {
			total += h.amount
		}
	}
	return total
}

func (l *Ledger) Lock(ctx context.Context, owner domain.Identity, key domain.Key, amount uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(owner)

	if l.balances[owner] < amount {
		return "", ErrInsufficientFunds
	}
	l.balances[owner] -= amount

	ref := uuid.New().String()
	l.holds[ref] = hold{owner: owner, key: key, amount: amount}
	return ref, nil
}

func (l *Ledger) Release(ctx context.Context, owner domain.Identity, ref string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.holds[ref]
	if !ok {
		return 0, ErrHoldNotFound
	}
	if h.owner != owner {
		return 0, ErrNotOwner
	}

	delete(l.holds, ref)
	l.balances[owner] += h.amount
	return h.amount, nil
}

// touch applies the faucet on first sight. Caller holds l.mu.
func (l *Ledger) touch(owner domain.Identity) {
	if l.seen[owner] {
		return
	}
	l.seen[owner] = true
	l.balances[owner] += l.faucet
}
