package command

import (
	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"

	"github.com/ethereum/go-ethereum/common"
)

// LockFunds escrows the attached value behind a secret commitment.
type LockFunds struct {
	Header
	SecretHash common.Hash `json:"secret_hash"`
}

func (*LockFunds) CommandType() CommandType { return CommandTypeLockFunds }

type InitToken struct {
	Header
}

func (*InitToken) CommandType() CommandType { return CommandTypeInitToken }

type GiveToken struct {
	Header
	To identity.Principal `json:"to"`
}

func (*GiveToken) CommandType() CommandType { return CommandTypeGiveToken }

// Guess reveals the current secret and claims Amount.
type Guess struct {
	Header
	Secret        game.Secret `json:"secret"`
	Amount        int64       `json:"amount"`
	NewSecretHash common.Hash `json:"new_secret_hash"`
}

func (*Guess) CommandType() CommandType { return CommandTypeGuess }
