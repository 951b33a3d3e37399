package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance means the payer's token balance cannot cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAuthorization means the payer has not granted enough spending allowance.
	ErrInsufficientAuthorization = errors.New("insufficient authorization")
	// ErrUnavailable means the ledger cannot currently process requests; retrying is safe.
	ErrUnavailable = errors.New("ledger unavailable")
)

// Client abstracts the fungible-token ledger that holds balances and
// enforces spending authorization. The settlement engine is a client of
// this ledger and never mutates balances directly.
type Client interface {
	// Begin opens one atomic unit of work. Every transfer staged on the
	// returned Tx applies together on Commit or not at all.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single atomic group of value movements.
type Tx interface {
	// Transfer moves amount of token from one holder to another, subject
	// to the payer's balance and authorization as observed after all
	// earlier transfers in the same Tx.
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// HealthChecker is implemented by clients that can probe ledger connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
