package command

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// New returns an empty command of the given type.
func New(ct CommandType) (Command, error) {
	switch ct {
	case CommandTypeLockFunds:
		return &LockFunds{}, nil
	case CommandTypeInitToken:
		return &InitToken{}, nil
	case CommandTypeGiveToken:
		return &GiveToken{}, nil
	case CommandTypeGuess:
		return &Guess{}, nil
	case CommandTypeSetClubAuthorizedBudget:
		return &SetClubAuthorizedBudget{}, nil
	case CommandTypeMakeOfferForFreeAgent:
		return &MakeOfferForFreeAgent{}, nil
	case CommandTypePlayerValidateOfferForFreeAgent:
		return &PlayerValidateOfferForFreeAgent{}, nil
	case CommandTypePlayerDeclineOfferForFreeAgent:
		return &PlayerDeclineOfferForFreeAgent{}, nil
	case CommandTypeWithdrawOfferForFreeAgent:
		return &WithdrawOfferForFreeAgent{}, nil
	case CommandTypeMakeOffer:
		return &MakeOffer{}, nil
	case CommandTypeWithdrawOffer:
		return &WithdrawOffer{}, nil
	case CommandTypeClubValidateOffer:
		return &ClubValidateOffer{}, nil
	case CommandTypeClubDeclineOffer:
		return &ClubDeclineOffer{}, nil
	case CommandTypePlayerValidateOffer:
		return &PlayerValidateOffer{}, nil
	case CommandTypePlayerDeclineOffer:
		return &PlayerDeclineOffer{}, nil
	case CommandTypeWithdraw:
		return &Withdraw{}, nil
	default:
		return nil, fmt.Errorf("unknown command type: %d", ct)
	}
}

// Encode produces the JSON payload stored in the command log and sent on the wire.
// Field names use snake_case to match upstream producers.
func Encode(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	return data, nil
}

// Decode parses a JSON payload into a typed command and validates its header.
// Unknown fields are rejected so that misspelled arguments never default to zero.
func Decode(ct CommandType, data []byte) (Command, error) {
	cmd, err := New(ct)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ct, err)
	}
	if err := cmd.Meta().Validate(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ct, err)
	}
	return cmd, nil
}

// DecodeNamed is Decode keyed by the wire name of the command type.
func DecodeNamed(name string, data []byte) (Command, error) {
	ct, err := ParseCommandType(name)
	if err != nil {
		return nil, err
	}
	return Decode(ct, data)
}
