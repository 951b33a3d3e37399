package batch

import "fmt"

// Check identifies which structural validation a request failed.
type Check string

const (
	CheckShape        Check = "shape"
	CheckRecipient    Check = "recipient"
	CheckAmount       Check = "amount"
	CheckToken        Check = "token"
	CheckFeeCollector Check = "feeCollector"
)

// ValidationError reports the first violated check of a batch request.
// Index is the offending payment position, or -1 when the violation is
// not tied to a single payment (e.g. mismatched sequence lengths).
type ValidationError struct {
	Check  Check
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid batch (%s): %s", e.Check, e.Reason)
	}
	return fmt.Sprintf("invalid batch (%s) at payment %d: %s", e.Check, e.Index, e.Reason)
}

// Failure reports a ledger rejection that aborted the whole batch. No
// settlement record is observable for any payment, including those
// preceding Index. Index is -1 when the ledger rejected the batch as a
// whole rather than one identifiable payment.
type Failure struct {
	Index int
	Err   error
}

func (f *Failure) Error() string {
	if f.Index < 0 {
		return fmt.Sprintf("batch settlement failed: %v", f.Err)
	}
	return fmt.Sprintf("batch settlement failed at payment %d: %v", f.Index, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }
