package game

import (
	"fmt"

	"EscrowLedger/internal/access"
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Game is one deployed secret game: the owner locks funds behind a secret
// commitment, then hands a single token to participants. The token holder
// may claim funds by revealing the secret and committing to a new one.
type Game struct {
	owner  identity.Principal
	book   *escrow.Book
	hash   Hasher
	record common.Hash

	locked           bool
	tokenInitialized bool
	secretHash       common.Hash
	tokenHolder      identity.Principal
	escrowedAmount   int64
}

type Option func(*Game)

// WithHasher replaces the commitment function.
func WithHasher(h Hasher) Option {
	return func(g *Game) { g.hash = h }
}

// New deploys a game owned by owner, settling through book.
func New(owner identity.Principal, book *escrow.Book, opts ...Option) *Game {
	g := &Game{
		owner:  owner,
		book:   book,
		hash:   Keccak256,
		record: RecordID(owner),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RecordID is the escrow record of the game deployed by owner.
func RecordID(owner identity.Principal) common.Hash {
	return crypto.Keccak256Hash([]byte("secret-game"), owner.Bytes())
}

// LockFunds escrows the attached value behind secretHash.
func (g *Game) LockFunds(call escrow.Call, secretHash common.Hash) (*ledger.Batch, error) {
	if err := access.RequireOwner(g.owner, call); err != nil {
		return nil, err
	}
	if call.Value <= 0 {
		return nil, failure.ErrAmountNotPositive
	}
	if g.locked {
		return nil, failure.ErrAlreadyLocked
	}

	tx := g.book.Begin(call)
	if err := tx.HoldAttached(ledger.SubTypeGameEscrow, g.record); err != nil {
		return nil, err
	}

	g.secretHash = secretHash
	g.locked = true
	g.escrowedAmount = call.Value

	return g.commit(tx)
}

// InitToken hands the token to the owner.
func (g *Game) InitToken(call escrow.Call) (*ledger.Batch, error) {
	if err := access.RequireOwner(g.owner, call); err != nil {
		return nil, err
	}
	if err := access.RequireNoValue(call); err != nil {
		return nil, err
	}
	if !g.locked {
		return nil, failure.ErrFundsNotLocked
	}
	if g.tokenInitialized {
		return nil, failure.ErrAlreadyInitialized
	}

	g.tokenInitialized = true
	g.tokenHolder = g.owner
	return nil, nil
}

// GiveToken moves the token to another principal.
func (g *Game) GiveToken(call escrow.Call, to identity.Principal) (*ledger.Batch, error) {
	if err := access.RequireOwner(g.owner, call); err != nil {
		return nil, err
	}
	if err := access.RequireNoValue(call); err != nil {
		return nil, err
	}
	if !g.tokenInitialized {
		return nil, failure.ErrTokenNotInitialized
	}
	if to.IsZero() {
		return nil, failure.ErrZeroAddressTarget
	}
	if to == g.tokenHolder {
		return nil, failure.ErrSameHolder
	}

	g.tokenHolder = to
	return nil, nil
}

// Guess reveals the current secret, claims amount from the escrow and
// rotates the commitment to newSecretHash. A zero amount only rotates.
func (g *Game) Guess(call escrow.Call, secret Secret, amount int64, newSecretHash common.Hash) (*ledger.Batch, error) {
	if err := access.RequireNoValue(call); err != nil {
		return nil, err
	}
	if !g.held() {
		return nil, failure.ErrTokenNotHeld
	}
	if err := access.RequireCaller(g.tokenHolder, call, failure.ErrCallerNotHolder); err != nil {
		return nil, err
	}
	if g.hash(secret) != g.secretHash {
		return nil, failure.ErrIncorrectSecret
	}
	if amount < 0 {
		return nil, failure.ErrNegativeAmount
	}
	if amount > g.escrowedAmount {
		return nil, failure.ErrInsufficientEscrow
	}

	tx := g.book.Begin(call)
	if err := tx.Release(ledger.SubTypeGameEscrow, g.record, call.Caller, amount); err != nil {
		return nil, err
	}

	g.escrowedAmount -= amount
	g.secretHash = newSecretHash

	return g.commit(tx)
}

// The owner holding the token counts as nobody holding it.
func (g *Game) held() bool {
	return g.tokenInitialized && !g.tokenHolder.IsZero() && g.tokenHolder != g.owner
}

func (g *Game) commit(tx *escrow.Tx) (*ledger.Batch, error) {
	batch, err := tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", g.record.Hex(), err)
	}
	return batch, nil
}

// === Reads ===

func (g *Game) Owner() identity.Principal { return g.owner }
func (g *Game) IsLocked() bool { return g.locked }
func (g *Game) IsTokenInitialized() bool { return g.tokenInitialized }
func (g *Game) SecretHash() common.Hash { return g.secretHash }
func (g *Game) EscrowedAmount() int64 { return g.escrowedAmount }

// TokenHolder returns the holder, or false before the token is initialized.
func (g *Game) TokenHolder() (identity.Principal, bool) {
	if !g.tokenInitialized {
		return identity.Zero, false
	}
	return g.tokenHolder, true
}

// Verify checks the game against its own invariants and the ledger.
func (g *Game) Verify() error {
	if g.tokenInitialized && !g.locked {
		return fmt.Errorf("game %s: token initialized while funds are not locked", g.record.Hex())
	}
	if g.escrowedAmount < 0 {
		return fmt.Errorf("game %s: negative escrowed amount %d", g.record.Hex(), g.escrowedAmount)
	}
	return g.book.VerifyEscrow(ledger.SubTypeGameEscrow, g.record, g.escrowedAmount)
}
