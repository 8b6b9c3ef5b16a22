package sponsor

import (
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/admission"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/lookup"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/policy"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/relay"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/signer"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/wire"
)

// Kind is the terminal state of a submission.
type Kind int

const (
	Relayed Kind = iota
	Rejected
	InternalFailure
)

func (k Kind) String() string {
	switch k {
	case Relayed:
		return "relayed"
	case Rejected:
		return "rejected"
	default:
		return "internal_failure"
	}
}

// Reason codes, also used as metric labels.
const (
	ReasonMalformed           = "malformed"
	ReasonUnresolvableAccount = "unresolvable_account"
	ReasonInvalidFeePayer     = "invalid_fee_payer"
	ReasonUnauthorizedProgram = "unauthorized_program"
	ReasonDrainAttempt        = "drain_attempt"
	ReasonDuplicate           = "duplicate"
	ReasonQuota               = "quota"
	ReasonNotConfigured       = "not_configured"
	ReasonSigning             = "signing"
	ReasonRelay               = "relay"
	ReasonInternal            = "internal"
)

// Outcome is the result of one submission. Err holds the underlying error
// for anything other than Relayed.
type Outcome struct {
	Kind      Kind
	Reason    string
	Signature solana.Signature
	Err       error
}

func relayed(sig solana.Signature) Outcome {
	return Outcome{Kind: Relayed, Signature: sig}
}

// classify maps a stage error onto an outcome. Unknown errors are internal.
func classify(err error) Outcome {
	o := Outcome{Kind: Rejected, Err: err}
	switch {
	case errors.Is(err, wire.ErrMalformedTransaction):
		o.Reason = ReasonMalformed
	case errors.Is(err, lookup.ErrUnresolvableAccount):
		o.Reason = ReasonUnresolvableAccount
	case errors.Is(err, policy.ErrInvalidFeePayer):
		o.Reason = ReasonInvalidFeePayer
	case errors.Is(err, policy.ErrUnauthorizedProgram):
		o.Reason = ReasonUnauthorizedProgram
	case errors.Is(err, policy.ErrFeePayerDrainAttempt):
		o.Reason = ReasonDrainAttempt
	case errors.Is(err, admission.ErrDuplicateSubmission):
		o.Reason = ReasonDuplicate
	case errors.Is(err, admission.ErrQuotaExceeded):
		o.Reason = ReasonQuota
	case errors.Is(err, ErrNotConfigured):
		o.Kind, o.Reason = InternalFailure, ReasonNotConfigured
	case errors.Is(err, signer.ErrSigning):
		o.Kind, o.Reason = InternalFailure, ReasonSigning
	case errors.Is(err, relay.ErrRelay):
		o.Kind, o.Reason = InternalFailure, ReasonRelay
	default:
		o.Kind, o.Reason = InternalFailure, ReasonInternal
	}
	return o
}
