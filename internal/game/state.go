package game

import (
	"encoding/binary"
	"fmt"

	"EscrowLedger/internal/identity"

	"github.com/ethereum/go-ethereum/common"
)

// State is the serializable form of a game, used by snapshots and queries.
type State struct {
	Owner            identity.Principal `json:"owner"`
	Locked           bool               `json:"locked"`
	TokenInitialized bool               `json:"token_initialized"`
	SecretHash       common.Hash        `json:"secret_hash"`
	TokenHolder      identity.Principal `json:"token_holder"`
	EscrowedAmount   int64              `json:"escrowed_amount"`
}

func (g *Game) State() State {
	return State{
		Owner:            g.owner,
		Locked:           g.locked,
		TokenInitialized: g.tokenInitialized,
		SecretHash:       g.secretHash,
		TokenHolder:      g.tokenHolder,
		EscrowedAmount:   g.escrowedAmount,
	}
}

// Restore loads a previously exported state. Balances are restored
// separately through the ledger.
func (g *Game) Restore(s State) error {
	if s.Owner != g.owner {
		return fmt.Errorf("snapshot owner %s does not match game owner %s", s.Owner, g.owner)
	}
	g.locked = s.Locked
	g.tokenInitialized = s.TokenInitialized
	g.secretHash = s.SecretHash
	g.tokenHolder = s.TokenHolder
	g.escrowedAmount = s.EscrowedAmount
	return nil
}

// Digest is a canonical byte encoding of the game for state hashing.
func (s State) Digest() []byte {
	buf := make([]byte, 0, 20+2+32+20+8)
	buf = append(buf, s.Owner.Bytes()...)
	buf = append(buf, boolByte(s.Locked), boolByte(s.TokenInitialized))
	buf = append(buf, s.SecretHash.Bytes()...)
	buf = append(buf, s.TokenHolder.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.EscrowedAmount))
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
