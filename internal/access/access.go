package access

import (
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/identity"
)

// RequireOwner rejects any caller other than owner.
func RequireOwner(owner identity.Principal, call escrow.Call) error {
	if call.Caller != owner {
		return failure.ErrNotOwner
	}
	return nil
}

// RequireCaller rejects with denied unless the caller is expected.
func RequireCaller(expected identity.Principal, call escrow.Call, denied *failure.Error) error {
	if call.Caller != expected {
		return denied
	}
	return nil
}

// RequireNoValue rejects calls that attach value to an operation that takes none.
func RequireNoValue(call escrow.Call) error {
	if call.HasValue() {
		return failure.ErrUnexpectedValue
	}
	return nil
}
