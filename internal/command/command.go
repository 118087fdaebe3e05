package command

import (
	"fmt"

	"EscrowLedger/internal/identity"

	"github.com/google/uuid"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota

	// Secret game
	CommandTypeLockFunds
	CommandTypeInitToken
	CommandTypeGiveToken
	CommandTypeGuess

	// Transfer market
	CommandTypeSetClubAuthorizedBudget
	CommandTypeMakeOfferForFreeAgent
	CommandTypePlayerValidateOfferForFreeAgent
	CommandTypePlayerDeclineOfferForFreeAgent
	CommandTypeWithdrawOfferForFreeAgent
	CommandTypeMakeOffer
	CommandTypeWithdrawOffer
	CommandTypeClubValidateOffer
	CommandTypeClubDeclineOffer
	CommandTypePlayerValidateOffer
	CommandTypePlayerDeclineOffer

	// Ledger
	CommandTypeWithdraw
)

var commandTypeNames = map[CommandType]string{
	CommandTypeLockFunds:                       "LockFunds",
	CommandTypeInitToken:                       "InitToken",
	CommandTypeGiveToken:                       "GiveToken",
	CommandTypeGuess:                           "Guess",
	CommandTypeSetClubAuthorizedBudget:         "SetClubAuthorizedBudget",
	CommandTypeMakeOfferForFreeAgent:           "MakeOfferForFreeAgent",
	CommandTypePlayerValidateOfferForFreeAgent: "PlayerValidateOfferForFreeAgent",
	CommandTypePlayerDeclineOfferForFreeAgent:  "PlayerDeclineOfferForFreeAgent",
	CommandTypeWithdrawOfferForFreeAgent:       "WithdrawOfferForFreeAgent",
	CommandTypeMakeOffer:                       "MakeOffer",
	CommandTypeWithdrawOffer:                   "WithdrawOffer",
	CommandTypeClubValidateOffer:               "ClubValidateOffer",
	CommandTypeClubDeclineOffer:                "ClubDeclineOffer",
	CommandTypePlayerValidateOffer:             "PlayerValidateOffer",
	CommandTypePlayerDeclineOffer:              "PlayerDeclineOffer",
	CommandTypeWithdraw:                        "Withdraw",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "Unknown"
}

// ParseCommandType maps a wire name back to its discriminator.
func ParseCommandType(name string) (CommandType, error) {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct, nil
		}
	}
	return CommandTypeUnknown, fmt.Errorf("unknown command type: %s", name)
}

// Types lists every known command type in discriminator order.
func Types() []CommandType {
	out := make([]CommandType, 0, len(commandTypeNames))
	for ct := CommandTypeLockFunds; ct <= CommandTypeWithdraw; ct++ {
		out = append(out, ct)
	}
	return out
}

// Header carries what every command has: who calls, with what value, and
// how the call is deduplicated and ordered.
type Header struct {
	// Stable idempotency key from the submitter
	RequestID uuid.UUID `json:"request_id"`

	Caller identity.Principal `json:"caller"`

	// Value attached to the call
	Value int64 `json:"value,omitempty"`

	// Per-caller ordering key; 0 means unordered
	Nonce int64 `json:"nonce,omitempty"`

	// Submitter timestamp (NOT wall-clock of the core)
	TimestampUs int64 `json:"timestamp_us"`
}

func (h Header) IdempotencyKey() string {
	return h.RequestID.String()
}

func (h Header) Meta() Header {
	return h
}

// Validate checks the header fields every command needs.
func (h Header) Validate() error {
	if h.RequestID == uuid.Nil {
		return fmt.Errorf("request_id is required")
	}
	if h.Caller.IsZero() {
		return fmt.Errorf("caller is required")
	}
	if h.Value < 0 {
		return fmt.Errorf("value must not be negative: %d", h.Value)
	}
	if h.Nonce < 0 {
		return fmt.Errorf("nonce must not be negative: %d", h.Nonce)
	}
	return nil
}

// Command is the interface all command payloads implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Meta returns the common header
	Meta() Header
}
