package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type holding struct {
	token  common.Address
	holder common.Address
}

// MemoryLedger keeps balances and operator allowances in process. It is
// the ledger used by tests and local development. Each Tx works on a
// snapshot; Commit swaps the snapshot into live state, Rollback discards
// it, so a failed batch leaves no trace.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[holding]*big.Int
	allowances map[holding]*big.Int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[holding]*big.Int),
		allowances: make(map[holding]*big.Int),
	}
}

// SetBalance assigns holder's balance of token, replacing any prior value.
func (l *MemoryLedger) SetBalance(token, holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[holding{token, holder}] = new(big.Int).Set(amount)
}

// Approve grants owner's spending authorization of token up to amount.
func (l *MemoryLedger) Approve(token, owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[holding{token, owner}] = new(big.Int).Set(amount)
}

// BalanceOf reads holder's committed balance of token.
func (l *MemoryLedger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[holding{token, holder}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance reads owner's remaining committed spending authorization of token.
func (l *MemoryLedger) Allowance(token, owner common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowances[holding{token, owner}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Begin locks the ledger for the lifetime of the returned Tx, giving one
// batch exclusive view of balances until it commits or rolls back.
func (l *MemoryLedger) Begin(_ context.Context) (Tx, error) {
	l.mu.Lock()
	return &memoryTx{
		ledger:     l,
		balances:   copyHoldings(l.balances),
		allowances: copyHoldings(l.allowances),
	}, nil
}

func (l *MemoryLedger) Ping(context.Context) error { return nil }

func copyHoldings(src map[holding]*big.Int) map[holding]*big.Int {
	dst := make(map[holding]*big.Int, len(src))
	for k, v := range src {
		dst[k] = new(big.Int).Set(v)
	}
	return dst
}

type memoryTx struct {
	ledger     *MemoryLedger
	balances   map[holding]*big.Int
	allowances map[holding]*big.Int
	done       bool
}

func (t *memoryTx) Transfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	if t.done {
		return ErrUnavailable
	}

	fromKey := holding{token, from}
	balance, ok := t.balances[fromKey]
	if !ok || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	allowance, ok := t.allowances[fromKey]
	if !ok || allowance.Cmp(amount) < 0 {
		return ErrInsufficientAuthorization
	}

	balance.Sub(balance, amount)
	allowance.Sub(allowance, amount)

	toKey := holding{token, to}
	credit, ok := t.balances[toKey]
	if !ok {
		credit = new(big.Int)
		t.balances[toKey] = credit
	}
	credit.Add(credit, amount)
	return nil
}

func (t *memoryTx) Commit(context.Context) error {
	if t.done {
		return ErrUnavailable
	}
	t.done = true
	t.ledger.balances = t.balances
	t.ledger.allowances = t.allowances
	t.ledger.mu.Unlock()
	return nil
}

func (t *memoryTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.ledger.mu.Unlock()
	return nil
}
