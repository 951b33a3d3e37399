package batch

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Request is one settlement batch: a single payer paying many recipients,
// optionally with an additive fee per payment routed to FeeCollector.
// The per-payment fields are parallel sequences, mirroring the wire shape
// callers submit. References and Fees may be nil, meaning no payment
// carries a reference and every fee is zero; when present they must match
// Recipients in length.
//
// A batch is single-token when Token is set and Tokens is empty; it is
// multi-token when Tokens carries one token identity per payment.
type Request struct {
	Payer        common.Address
	FeeCollector common.Address
	Token        common.Address
	Tokens       []common.Address
	Recipients   []common.Address
	Amounts      []*big.Int
	References   [][]byte
	Fees         []*big.Int
}

// Len is the number of payments in the batch.
func (r *Request) Len() int { return len(r.Recipients) }

// MultiToken reports whether per-payment token identities govern the batch.
func (r *Request) MultiToken() bool { return len(r.Tokens) > 0 }

// TokenAt resolves the token identity governing payment i.
func (r *Request) TokenAt(i int) common.Address {
	if r.MultiToken() {
		return r.Tokens[i]
	}
	return r.Token
}

// Payment is the per-item view of a request line.
type Payment struct {
	Token     common.Address
	Recipient common.Address
	Amount    *big.Int
	Fee       *big.Int
	Reference []byte
}

// PaymentAt assembles the i-th payment. The returned Fee is never nil.
func (r *Request) PaymentAt(i int) Payment {
	p := Payment{
		Token:     r.TokenAt(i),
		Recipient: r.Recipients[i],
		Amount:    r.Amounts[i],
		Fee:       new(big.Int),
	}
	if i < len(r.Fees) && r.Fees[i] != nil {
		p.Fee = r.Fees[i]
	}
	if i < len(r.References) {
		p.Reference = r.References[i]
	}
	return p
}

// Record is emitted once per settled payment, in input order. Downstream
// indexers key on (Token, Recipient, ReferenceDigest) plus ordering, so
// every field here must be reproducible by an independent reader.
type Record struct {
	Token           common.Address `json:"token"`
	Recipient       common.Address `json:"recipient"`
	Amount          *big.Int       `json:"amount"`
	ReferenceDigest common.Hash    `json:"referenceDigest"`
	Fee             *big.Int       `json:"feeAmount"`
	FeeCollector    common.Address `json:"feeCollector"`
}
