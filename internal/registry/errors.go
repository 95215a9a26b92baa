package registry

import "errors"

var (
	ErrUnauthorized     = errors.New("caller is not the owner")
	ErrNotFound         = errors.New("no round with such id")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidCandidate = errors.New("candidate is not an eligible voter")
	ErrInvalidFee       = errors.New("wrong amount of fee")
	ErrAlreadyVoted     = errors.New("caller already voted in this round")
	ErrRoundClosed      = errors.New("round is closed")
	ErrRoundActive      = errors.New("round is still active")

	// ErrConflict means the stored state moved on since it was loaded,
	// typically because another process committed first.
	ErrConflict = errors.New("registry state changed concurrently")

	ErrNotDeployed   = errors.New("registry has no owner")
	ErrOwnerMismatch = errors.New("registry is owned by another address")
)

// rejectionReason maps an error to the label used in metrics and logs.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrInvalidCandidate):
		return "invalid_candidate"
	case errors.Is(err, ErrInvalidFee):
		return "invalid_fee"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrRoundClosed):
		return "round_closed"
	case errors.Is(err, ErrRoundActive):
		return "round_active"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
