package batch

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var zeroAddress common.Address

// Validate checks the structural invariants of a batch request before any
// ledger interaction. Checks run in a fixed order and fail fast on the
// first violation:
//
//  1. parallel sequences have equal length and the batch is non-empty
//  2. every recipient (and the fee collector, if fees are paid) is a
//     well-formed, non-zero holder identity
//  3. every amount and fee is present, non-negative, and fits the
//     ledger's 256-bit width
//  4. token identities are well-formed for the batch's mode
//
// Callers may invoke Validate standalone as a pre-check; Settle always
// runs it first.
func Validate(req *Request) error {
	n := req.Len()
	if n == 0 {
		return &ValidationError{Check: CheckShape, Index: -1, Reason: "batch must contain at least one payment"}
	}
	if len(req.Amounts) != n {
		return shapeMismatch("amounts", len(req.Amounts), n)
	}
	if req.References != nil && len(req.References) != n {
		return shapeMismatch("references", len(req.References), n)
	}
	if req.Fees != nil && len(req.Fees) != n {
		return shapeMismatch("feeAmounts", len(req.Fees), n)
	}
	if req.Tokens != nil && len(req.Tokens) != n {
		return shapeMismatch("tokens", len(req.Tokens), n)
	}

	for i, recipient := range req.Recipients {
		if recipient == zeroAddress {
			return &ValidationError{Check: CheckRecipient, Index: i, Reason: "recipient must not be the zero identity"}
		}
	}
	if hasPositiveFee(req.Fees) && req.FeeCollector == zeroAddress {
		return &ValidationError{Check: CheckFeeCollector, Index: -1, Reason: "fee collector required when fees are paid"}
	}

	for i, amount := range req.Amounts {
		if err := checkAmount(amount, i, "amount"); err != nil {
			return err
		}
	}
	for i, fee := range req.Fees {
		if fee == nil {
			continue
		}
		if err := checkAmount(fee, i, "fee amount"); err != nil {
			return err
		}
	}

	if req.MultiToken() {
		if req.Token != zeroAddress {
			return &ValidationError{Check: CheckToken, Index: -1, Reason: "batch-wide token must be unset in a multi-token batch"}
		}
		for i, token := range req.Tokens {
			if token == zeroAddress {
				return &ValidationError{Check: CheckToken, Index: i, Reason: "token must not be the zero identity"}
			}
		}
	} else if req.Token == zeroAddress {
		return &ValidationError{Check: CheckToken, Index: -1, Reason: "batch-wide token is required"}
	}

	return nil
}

func shapeMismatch(field string, got, want int) *ValidationError {
	return &ValidationError{
		Check:  CheckShape,
		Index:  -1,
		Reason: fmt.Sprintf("%s has %d entries, expected %d", field, got, want),
	}
}

func checkAmount(amount *big.Int, index int, field string) *ValidationError {
	switch {
	case amount == nil:
		return &ValidationError{Check: CheckAmount, Index: index, Reason: field + " is missing"}
	case amount.Sign() < 0:
		return &ValidationError{Check: CheckAmount, Index: index, Reason: field + " must not be negative"}
	case amount.BitLen() > 256:
		return &ValidationError{Check: CheckAmount, Index: index, Reason: field + " exceeds the ledger's native width"}
	}
	return nil
}

func hasPositiveFee(fees []*big.Int) bool {
	for _, fee := range fees {
		if fee != nil && fee.Sign() > 0 {
			return true
		}
	}
	return false
}
