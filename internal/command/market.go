package command

import (
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/market"
)

type SetClubAuthorizedBudget struct {
	Header
	Club   identity.Principal `json:"club"`
	Amount int64              `json:"amount"`
}

func (*SetClubAuthorizedBudget) CommandType() CommandType {
	return CommandTypeSetClubAuthorizedBudget
}

type MakeOfferForFreeAgent struct {
	Header
	Player identity.Principal `json:"player"`
	market.Terms
}

func (*MakeOfferForFreeAgent) CommandType() CommandType {
	return CommandTypeMakeOfferForFreeAgent
}

type PlayerValidateOfferForFreeAgent struct {
	Header
	Club identity.Principal `json:"club"`
}

func (*PlayerValidateOfferForFreeAgent) CommandType() CommandType {
	return CommandTypePlayerValidateOfferForFreeAgent
}

type PlayerDeclineOfferForFreeAgent struct {
	Header
	Club identity.Principal `json:"club"`
}

func (*PlayerDeclineOfferForFreeAgent) CommandType() CommandType {
	return CommandTypePlayerDeclineOfferForFreeAgent
}

type WithdrawOfferForFreeAgent struct {
	Header
	Player identity.Principal `json:"player"`
}

func (*WithdrawOfferForFreeAgent) CommandType() CommandType {
	return CommandTypeWithdrawOfferForFreeAgent
}

// MakeOffer bids the attached value as transfer fee for a player under contract.
type MakeOffer struct {
	Header
	Player identity.Principal `json:"player"`
	market.Terms
}

func (*MakeOffer) CommandType() CommandType {
	return CommandTypeMakeOffer
}

type WithdrawOffer struct {
	Header
	Player identity.Principal `json:"player"`
}

func (*WithdrawOffer) CommandType() CommandType {
	return CommandTypeWithdrawOffer
}

type ClubValidateOffer struct {
	Header
	Player  identity.Principal `json:"player"`
	NewClub identity.Principal `json:"new_club"`
}

func (*ClubValidateOffer) CommandType() CommandType {
	return CommandTypeClubValidateOffer
}

type ClubDeclineOffer struct {
	Header
	Player  identity.Principal `json:"player"`
	NewClub identity.Principal `json:"new_club"`
}

func (*ClubDeclineOffer) CommandType() CommandType {
	return CommandTypeClubDeclineOffer
}

type PlayerValidateOffer struct {
	Header
	NewClub identity.Principal `json:"new_club"`
}

func (*PlayerValidateOffer) CommandType() CommandType {
	return CommandTypePlayerValidateOffer
}

type PlayerDeclineOffer struct {
	Header
	NewClub identity.Principal `json:"new_club"`
}

func (*PlayerDeclineOffer) CommandType() CommandType {
	return CommandTypePlayerDeclineOffer
}
