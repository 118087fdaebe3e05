package failure

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation was rejected.
type Kind uint8

const (
	KindAuthorization Kind = iota + 1
	KindPrecondition
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindPrecondition:
		return "precondition"
	case KindValue:
		return "value"
	default:
		return "unknown"
	}
}

// Code is the stable identifier of a rejection, used on the wire and in metrics.
type Code string

const (
	// Authorization
	CodeNotOwner              Code = "NOT_OWNER"
	CodeCallerNotHolder       Code = "CALLER_NOT_HOLDER"
	CodeNotAuthorizedForOffer Code = "NOT_AUTHORIZED_FOR_OFFER"

	// Precondition
	CodeAlreadyLocked             Code = "ALREADY_LOCKED"
	CodeFundsNotLocked            Code = "FUNDS_NOT_LOCKED"
	CodeAlreadyInitialized        Code = "ALREADY_INITIALIZED"
	CodeTokenNotInitialized       Code = "TOKEN_NOT_INITIALIZED"
	CodeTokenNotHeld              Code = "TOKEN_NOT_HELD"
	CodeSameHolder                Code = "SAME_HOLDER"
	CodePlayerNotFreeAgent        Code = "PLAYER_NOT_FREE_AGENT"
	CodePlayerHasNoActiveContract Code = "PLAYER_HAS_NO_ACTIVE_CONTRACT"
	CodeOfferNotFound             Code = "OFFER_NOT_FOUND"
	CodeOfferToOwnPlayer          Code = "OFFER_TO_OWN_PLAYER"
	CodeOldClubSignatureMissing   Code = "OLD_CLUB_SIGNATURE_MISSING"
	CodeCurrentClubMismatch       Code = "CURRENT_CLUB_MISMATCH"

	// Value
	CodeAmountNotPositive    Code = "AMOUNT_NOT_POSITIVE"
	CodeNegativeAmount       Code = "NEGATIVE_AMOUNT"
	CodeUnexpectedValue      Code = "UNEXPECTED_VALUE"
	CodeZeroAddressTarget    Code = "ZERO_ADDRESS_TARGET"
	CodeInvalidPlayerAddress Code = "INVALID_PLAYER_ADDRESS"
	CodeIncorrectSecret      Code = "INCORRECT_SECRET"
	CodeInsufficientEscrow   Code = "INSUFFICIENT_ESCROW"
	CodeInsufficientBalance  Code = "INSUFFICIENT_BALANCE"
	CodeBudgetExceeded       Code = "BUDGET_EXCEEDED"
	CodeBelowMinimumFee      Code = "BELOW_MINIMUM_FEE"
)

// Error is a rejected operation. Two errors match under errors.Is when their
// codes are equal, so callers compare against the sentinels below.
type Error struct {
	Kind   Kind
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of the sentinel with extra detail appended to the reason.
func (e *Error) Wrap(format string, args ...any) *Error {
	return &Error{
		Kind:   e.Kind,
		Code:   e.Code,
		Reason: e.Reason + " " + fmt.Sprintf(format, args...),
	}
}

// WithReason returns a copy of the sentinel with a different reason.
func (e *Error) WithReason(reason string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Reason: reason}
}

func newError(kind Kind, code Code, reason string) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason}
}

var (
	ErrNotOwner              = newError(KindAuthorization, CodeNotOwner, "Caller is not owner.")
	ErrCallerNotHolder       = newError(KindAuthorization, CodeCallerNotHolder, "User doesn't have token.")
	ErrNotAuthorizedForOffer = newError(KindAuthorization, CodeNotAuthorizedForOffer, "Caller is not the current club of the player.")

	ErrAlreadyLocked             = newError(KindPrecondition, CodeAlreadyLocked, "Funds are already locked.")
	ErrFundsNotLocked            = newError(KindPrecondition, CodeFundsNotLocked, "Funds are not locked.")
	ErrAlreadyInitialized        = newError(KindPrecondition, CodeAlreadyInitialized, "Token is already initialized.")
	ErrTokenNotInitialized       = newError(KindPrecondition, CodeTokenNotInitialized, "Token is not initialized.")
	ErrTokenNotHeld              = newError(KindPrecondition, CodeTokenNotHeld, "Token is not held.")
	ErrSameHolder                = newError(KindPrecondition, CodeSameHolder, "Token can not be given to same holder.")
	ErrPlayerNotFreeAgent        = newError(KindPrecondition, CodePlayerNotFreeAgent, "Player is not a free agent.")
	ErrPlayerHasNoActiveContract = newError(KindPrecondition, CodePlayerHasNoActiveContract, "Player has no active contract.")
	ErrOfferNotFound             = newError(KindPrecondition, CodeOfferNotFound, "Offer does not exist.")
	ErrOfferToOwnPlayer          = newError(KindPrecondition, CodeOfferToOwnPlayer, "Club can not make an offer for its own player.")
	ErrOldClubSignatureMissing   = newError(KindPrecondition, CodeOldClubSignatureMissing, "Offer is not signed by the current club.")
	ErrCurrentClubMismatch       = newError(KindPrecondition, CodeCurrentClubMismatch, "Offer club does not match the current club of the player.")

	ErrAmountNotPositive    = newError(KindValue, CodeAmountNotPositive, "Funds amount to lock is not greater than 0.")
	ErrNegativeAmount       = newError(KindValue, CodeNegativeAmount, "Amount can not be negative.")
	ErrUnexpectedValue      = newError(KindValue, CodeUnexpectedValue, "Operation does not accept value.")
	ErrZeroAddressTarget    = newError(KindValue, CodeZeroAddressTarget, "Token can not be given to address 0.")
	ErrInvalidPlayerAddress = newError(KindValue, CodeInvalidPlayerAddress, "Player can not be address 0.")
	ErrIncorrectSecret      = newError(KindValue, CodeIncorrectSecret, "Incorrect secret.")
	ErrInsufficientEscrow   = newError(KindValue, CodeInsufficientEscrow, "Not enough funds locked.")
	ErrInsufficientBalance  = newError(KindValue, CodeInsufficientBalance, "Not enough balance.")
	ErrBudgetExceeded       = newError(KindValue, CodeBudgetExceeded, "Club authorized budget exceeded.")
	ErrBelowMinimumFee      = newError(KindValue, CodeBelowMinimumFee, "Transfer fee is below the minimum transfer fee.")
)

// As extracts a domain rejection from err, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or 0 when err is not a domain rejection.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return 0
}

var byCode = map[Code]*Error{}

func init() {
	for _, e := range []*Error{
		ErrNotOwner, ErrCallerNotHolder, ErrNotAuthorizedForOffer,
		ErrAlreadyLocked, ErrFundsNotLocked, ErrAlreadyInitialized, ErrTokenNotInitialized,
		ErrTokenNotHeld, ErrSameHolder, ErrPlayerNotFreeAgent, ErrPlayerHasNoActiveContract,
		ErrOfferNotFound, ErrOfferToOwnPlayer, ErrOldClubSignatureMissing,
		ErrCurrentClubMismatch,
		ErrAmountNotPositive, ErrNegativeAmount, ErrUnexpectedValue, ErrZeroAddressTarget,
		ErrInvalidPlayerAddress, ErrIncorrectSecret, ErrInsufficientEscrow, ErrInsufficientBalance,
		ErrBudgetExceeded, ErrBelowMinimumFee,
	} {
		byCode[e.Code] = e
	}
}

// FromCode rebuilds a rejection received over the wire.
func FromCode(code Code, reason string) *Error {
	base, ok := byCode[code]
	if !ok {
		return nil
	}
	if reason == "" {
		return base
	}
	return &Error{Kind: base.Kind, Code: base.Code, Reason: reason}
}
