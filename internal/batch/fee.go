package batch

import (
	"context"
	"math/big"

	"batchrails/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// FeeRouter directs the fee leg of a payment to the batch's fee
// collector. The fee is additive on top of the principal: both legs debit
// the payer independently, always in the same token, and the collector is
// fixed for the whole batch.
type FeeRouter struct {
	Collector common.Address
}

// RouteFee issues the fee transfer on the supplied ledger Tx. A zero or
// nil amount issues nothing.
func (f FeeRouter) RouteFee(ctx context.Context, tx ledger.Tx, token, payer common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return tx.Transfer(ctx, token, payer, f.Collector, amount)
}
