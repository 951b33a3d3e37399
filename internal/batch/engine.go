package batch

import (
	"context"

	"batchrails/internal/ledger"

	"github.com/rs/zerolog"
)

// Engine settles payment batches against an external ledger. It holds no
// funds and no state between calls; every invocation is a pure function
// of the request and the ledger's current balances.
type Engine struct {
	ledger ledger.Client
	log    zerolog.Logger
}

func New(client ledger.Client, logger zerolog.Logger) *Engine {
	return &Engine{ledger: client, log: logger}
}

// Settle executes one batch as a single atomic unit. Payments are
// processed strictly in input order: the principal leg, then the fee leg
// when the payment carries one, each against the cumulative effect of
// earlier legs in the same ledger Tx. The first ledger rejection rolls
// the whole batch back and returns a *Failure; records are only returned
// after the Tx commits, in input order.
func (e *Engine) Settle(ctx context.Context, req *Request) ([]Record, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return nil, &Failure{Index: -1, Err: err}
	}

	fees := FeeRouter{Collector: req.FeeCollector}
	records := make([]Record, 0, req.Len())

	for i := 0; i < req.Len(); i++ {
		p := req.PaymentAt(i)

		if err := tx.Transfer(ctx, p.Token, req.Payer, p.Recipient, p.Amount); err != nil {
			_ = tx.Rollback(ctx)
			return nil, &Failure{Index: i, Err: err}
		}
		if err := fees.RouteFee(ctx, tx, p.Token, req.Payer, p.Fee); err != nil {
			_ = tx.Rollback(ctx)
			return nil, &Failure{Index: i, Err: err}
		}

		records = append(records, Record{
			Token:           p.Token,
			Recipient:       p.Recipient,
			Amount:          p.Amount,
			ReferenceDigest: DigestReference(p.Reference),
			Fee:             p.Fee,
			FeeCollector:    req.FeeCollector,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &Failure{Index: -1, Err: err}
	}

	e.log.Debug().
		Int("payments", len(records)).
		Bool("multiToken", req.MultiToken()).
		Str("payer", req.Payer.Hex()).
		Msg("batch settled")

	return records, nil
}
