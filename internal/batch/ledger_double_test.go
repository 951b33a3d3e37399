package batch

import (
	"context"
	"math/big"

	"batchrails/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

type transferCall struct {
	token  common.Address
	from   common.Address
	to     common.Address
	amount *big.Int
}

// recordingLedger is a ledger double that records every call so tests can
// assert how (and whether) the engine touched it.
type recordingLedger struct {
	beginErr  error
	commitErr error
	errAt     map[int]error // transfer ordinal -> injected error

	begins    int
	commits   int
	rollbacks int
	transfers []transferCall
}

func (l *recordingLedger) Begin(context.Context) (ledger.Tx, error) {
	l.begins++
	if l.beginErr != nil {
		return nil, l.beginErr
	}
	return &recordingTx{ledger: l}, nil
}

type recordingTx struct {
	ledger *recordingLedger
}

func (t *recordingTx) Transfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	ordinal := len(t.ledger.transfers)
	t.ledger.transfers = append(t.ledger.transfers, transferCall{
		token:  token,
		from:   from,
		to:     to,
		amount: new(big.Int).Set(amount),
	})
	if err, ok := t.ledger.errAt[ordinal]; ok {
		return err
	}
	return nil
}

func (t *recordingTx) Commit(context.Context) error {
	t.ledger.commits++
	return t.ledger.commitErr
}

func (t *recordingTx) Rollback(context.Context) error {
	t.ledger.rollbacks++
	return nil
}
