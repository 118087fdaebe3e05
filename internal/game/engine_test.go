package game_test

import (
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const lockedFundsAmount = 200000

var (
	owner   = identity.Derive("owner")
	player1 = identity.Derive("player1")
	player2 = identity.Derive("player2")
)

type fixture struct {
	t    *testing.T
	book *escrow.Book
	game *game.Game
	seq  int64
}

func newFixture(t *testing.T) *fixture {
	book := escrow.NewBook()
	return &fixture{t: t, book: book, game: game.New(owner, book)}
}

func (f *fixture) call(caller identity.Principal, value int64) escrow.Call {
	f.seq++
	return escrow.Call{Caller: caller, Value: value, Ref: fmt.Sprintf("cmd-%d", f.seq), Sequence: f.seq}
}

func mustSecret(t *testing.T, s string) game.Secret {
	t.Helper()
	secret, err := game.SecretFromString(s)
	if err != nil {
		t.Fatalf("SecretFromString(%q): %v", s, err)
	}
	return secret
}

func mustCommit(t *testing.T, s string) common.Hash {
	t.Helper()
	h, err := game.Commit(s)
	if err != nil {
		t.Fatalf("Commit(%q): %v", s, err)
	}
	return h
}

func (f *fixture) mustOK(err error) {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("unexpected error: %v", err)
	}
}

func (f *fixture) lock() {
	f.t.Helper()
	_, err := f.game.LockFunds(f.call(owner, lockedFundsAmount), mustCommit(f.t, "secret"))
	f.mustOK(err)
}

func (f *fixture) lockAndInit() {
	f.t.Helper()
	f.lock()
	_, err := f.game.InitToken(f.call(owner, 0))
	f.mustOK(err)
}

func expectErr(t *testing.T, err error, want *failure.Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %q", err, want.Reason)
	}
}

// ============================================================================
// Test: LockFunds
// ============================================================================

func TestLockFunds(t *testing.T) {
	f := newFixture(t)
	f.lock()

	if !f.game.IsLocked() {
		t.Error("funds should be locked")
	}
	if f.game.EscrowedAmount() != lockedFundsAmount {
		t.Errorf("escrowed: got %d, want %d", f.game.EscrowedAmount(), lockedFundsAmount)
	}
	if err := f.game.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestLockFunds_NotOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.game.LockFunds(f.call(player1, lockedFundsAmount), mustCommit(t, "secret"))
	expectErr(t, err, failure.ErrNotOwner)
}

func TestLockFunds_ZeroAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.game.LockFunds(f.call(owner, 0), mustCommit(t, "secret"))
	expectErr(t, err, failure.ErrAmountNotPositive)
	if err.Error() != "Funds amount to lock is not greater than 0." {
		t.Errorf("got reason %q", err.Error())
	}
}

func TestLockFunds_AlreadyLocked(t *testing.T) {
	f := newFixture(t)
	f.lock()

	_, err := f.game.LockFunds(f.call(owner, lockedFundsAmount), mustCommit(t, "secret"))
	expectErr(t, err, failure.ErrAlreadyLocked)
	if f.game.EscrowedAmount() != lockedFundsAmount {
		t.Error("rejected lock must not change the escrow")
	}
}

// ============================================================================
// Test: InitToken
// ============================================================================

func TestInitToken(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()

	if !f.game.IsTokenInitialized() {
		t.Error("token should be initialized")
	}
	holder, ok := f.game.TokenHolder()
	if !ok || holder != owner {
		t.Errorf("holder: got %s (%v), want owner", holder, ok)
	}
}

func TestInitToken_NotOwner(t *testing.T) {
	f := newFixture(t)
	f.lock()
	_, err := f.game.InitToken(f.call(player1, 0))
	expectErr(t, err, failure.ErrNotOwner)
}

func TestInitToken_BeforeLock(t *testing.T) {
	f := newFixture(t)
	_, err := f.game.InitToken(f.call(owner, 0))
	expectErr(t, err, failure.ErrFundsNotLocked)
}

func TestInitToken_Twice(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	_, err := f.game.InitToken(f.call(owner, 0))
	expectErr(t, err, failure.ErrAlreadyInitialized)
}

func TestInitToken_WithValue(t *testing.T) {
	f := newFixture(t)
	f.lock()
	_, err := f.game.InitToken(f.call(owner, 1))
	expectErr(t, err, failure.ErrUnexpectedValue)
}

// ============================================================================
// Test: GiveToken
// ============================================================================

func TestGiveToken(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()

	_, err := f.game.GiveToken(f.call(owner, 0), player1)
	f.mustOK(err)

	holder, _ := f.game.TokenHolder()
	if holder != player1 {
		t.Errorf("holder: got %s, want player1", holder)
	}
}

func TestGiveToken_BeforeInit(t *testing.T) {
	f := newFixture(t)
	_, err := f.game.GiveToken(f.call(owner, 0), player1)
	expectErr(t, err, failure.ErrTokenNotInitialized)

	f.lock()
	_, err = f.game.GiveToken(f.call(owner, 0), player1)
	expectErr(t, err, failure.ErrTokenNotInitialized)
}

func TestGiveToken_NotOwner(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	_, err := f.game.GiveToken(f.call(player1, 0), player2)
	expectErr(t, err, failure.ErrNotOwner)
}

func TestGiveToken_ZeroAddress(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	_, err := f.game.GiveToken(f.call(owner, 0), identity.Zero)
	expectErr(t, err, failure.ErrZeroAddressTarget)
}

func TestGiveToken_SameHolder(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()

	_, err := f.game.GiveToken(f.call(owner, 0), owner)
	expectErr(t, err, failure.ErrSameHolder)

	_, err = f.game.GiveToken(f.call(owner, 0), player1)
	f.mustOK(err)
	_, err = f.game.GiveToken(f.call(owner, 0), player1)
	expectErr(t, err, failure.ErrSameHolder)
}

// ============================================================================
// Test: Guess
// ============================================================================

func TestGuess_BeforeLock(t *testing.T) {
	f := newFixture(t)
	_, err := f.game.Guess(f.call(player1, 0), mustSecret(t, "secret"), 1, mustCommit(t, "next"))
	expectErr(t, err, failure.ErrTokenNotHeld)
}

func TestGuess_BeforeInit(t *testing.T) {
	f := newFixture(t)
	f.lock()
	_, err := f.game.Guess(f.call(owner, 0), mustSecret(t, "secret"), 1, mustCommit(t, "next"))
	expectErr(t, err, failure.ErrTokenNotHeld)
}

func TestGuess_OwnerHoldsToken(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	_, err := f.game.Guess(f.call(owner, 0), mustSecret(t, "secret"), 1, mustCommit(t, "next"))
	expectErr(t, err, failure.ErrTokenNotHeld)
}

func TestGuess_CallerNotHolder(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	_, err := f.game.GiveToken(f.call(owner, 0), player1)
	f.mustOK(err)

	_, err = f.game.Guess(f.call(player2, 0), mustSecret(t, "secret"), 1, mustCommit(t, "next"))
	expectErr(t, err, failure.ErrCallerNotHolder)
}

func TestGuess_IncorrectSecret(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	_, err := f.game.GiveToken(f.call(owner, 0), player1)
	f.mustOK(err)

	before := f.game.State()
	_, err = f.game.Guess(f.call(player1, 0), mustSecret(t, "wrong"), 1, mustCommit(t, "next"))
	expectErr(t, err, failure.ErrIncorrectSecret)

	if f.game.State() != before {
		t.Error("failed guess must not change state")
	}
	if f.book.BalanceOf(player1) != 0 {
		t.Error("failed guess must not pay out")
	}
}

func TestGuess_MoreThanEscrowed(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	_, err := f.game.GiveToken(f.call(owner, 0), player1)
	f.mustOK(err)

	_, err = f.game.Guess(f.call(player1, 0), mustSecret(t, "secret"), lockedFundsAmount+1, mustCommit(t, "next"))
	expectErr(t, err, failure.ErrInsufficientEscrow)
}

func TestGuess_NegativeAmount(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	_, err := f.game.GiveToken(f.call(owner, 0), player1)
	f.mustOK(err)

	_, err = f.game.Guess(f.call(player1, 0), mustSecret(t, "secret"), -1, mustCommit(t, "next"))
	expectErr(t, err, failure.ErrNegativeAmount)
}

func TestGuess_ZeroAmountRotatesOnly(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	_, err := f.game.GiveToken(f.call(owner, 0), player1)
	f.mustOK(err)

	batch, err := f.game.Guess(f.call(player1, 0), mustSecret(t, "secret"), 0, mustCommit(t, "next"))
	f.mustOK(err)
	if batch != nil {
		t.Error("zero-amount guess should not move funds")
	}
	if f.game.SecretHash() != mustCommit(t, "next") {
		t.Error("secret should rotate")
	}
}

// Lock, init, hand the token to two players in turn; each reveals the
// previous secret and claims half of the escrow.
func TestGuess_ChainedScenario(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	original := mustCommit(t, "secret")
	newHash := mustCommit(t, "newSecret")

	_, err := f.game.GiveToken(f.call(owner, 0), player1)
	f.mustOK(err)
	_, err = f.game.Guess(f.call(player1, 0), mustSecret(t, "secret"), 100000, newHash)
	f.mustOK(err)

	if f.book.BalanceOf(player1) != 100000 {
		t.Errorf("player1 balance: got %d, want 100000", f.book.BalanceOf(player1))
	}
	if f.game.EscrowedAmount() != 100000 {
		t.Errorf("escrowed: got %d, want 100000", f.game.EscrowedAmount())
	}
	if f.game.SecretHash() != newHash {
		t.Error("secret hash should rotate to newHash")
	}

	_, err = f.game.GiveToken(f.call(owner, 0), player2)
	f.mustOK(err)
	_, err = f.game.Guess(f.call(player2, 0), mustSecret(t, "newSecret"), 100000, original)
	f.mustOK(err)

	if f.book.BalanceOf(player2) != 100000 {
		t.Errorf("player2 balance: got %d, want 100000", f.book.BalanceOf(player2))
	}
	if f.game.EscrowedAmount() != 0 {
		t.Errorf("escrowed: got %d, want 0", f.game.EscrowedAmount())
	}
	if f.game.SecretHash() != original {
		t.Error("secret hash should rotate back to the original")
	}
	if err := f.game.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if err := f.book.Verify(); err != nil {
		t.Errorf("ledger Verify: %v", err)
	}

	// Drained but still locked.
	_, err = f.game.LockFunds(f.call(owner, lockedFundsAmount), original)
	expectErr(t, err, failure.ErrAlreadyLocked)
}

func TestGuess_HolderGuessesRepeatedly(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()
	_, err := f.game.GiveToken(f.call(owner, 0), player1)
	f.mustOK(err)

	_, err = f.game.Guess(f.call(player1, 0), mustSecret(t, "secret"), 1, mustCommit(t, "s2"))
	f.mustOK(err)
	_, err = f.game.Guess(f.call(player1, 0), mustSecret(t, "s2"), 2, mustCommit(t, "s3"))
	f.mustOK(err)

	if f.book.BalanceOf(player1) != 3 {
		t.Errorf("player1 balance: got %d, want 3", f.book.BalanceOf(player1))
	}
}

// ============================================================================
// Test: Hasher injection, State
// ============================================================================

func TestWithHasher(t *testing.T) {
	book := escrow.NewBook()
	identityHash := func(s game.Secret) common.Hash { return common.Hash(s) }
	g := game.New(owner, book, game.WithHasher(identityHash))

	secret := mustSecret(t, "plain")
	call := func(p identity.Principal, v int64, ref string) escrow.Call {
		return escrow.Call{Caller: p, Value: v, Ref: ref}
	}
	if _, err := g.LockFunds(call(owner, 10, "1"), common.Hash(secret)); err != nil {
		t.Fatal(err)
	}
	if _, err := g.InitToken(call(owner, 0, "2")); err != nil {
		t.Fatal(err)
	}
	if _, err := g.GiveToken(call(owner, 0, "3"), player1); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Guess(call(player1, 0, "4"), secret, 10, common.Hash{}); err != nil {
		t.Fatalf("guess with injected hasher: %v", err)
	}
}

func TestCommit_MatchesBytes32Encoding(t *testing.T) {
	secret := mustSecret(t, "secret")
	if string(secret[:6]) != "secret" {
		t.Errorf("got %q", secret[:6])
	}
	for _, b := range secret[6:] {
		if b != 0 {
			t.Fatal("preimage must be right zero-padded")
		}
	}
	if game.Keccak256(secret) != mustCommit(t, "secret") {
		t.Error("Commit must hash the padded preimage")
	}

	if _, err := game.SecretFromString("this secret is far too long for bytes32"); err == nil {
		t.Error("secrets over 31 bytes should be rejected")
	}
}

func TestSecretFromHex(t *testing.T) {
	secret := mustSecret(t, "secret")
	back, err := game.SecretFromHex(secret.Hex())
	if err != nil {
		t.Fatalf("SecretFromHex: %v", err)
	}
	if back != secret {
		t.Error("hex round trip mismatch")
	}
	if _, err := game.SecretFromHex("0x1234"); err == nil {
		t.Error("short hex should fail")
	}
}

func TestStateRestore(t *testing.T) {
	f := newFixture(t)
	f.lockAndInit()

	restored := game.New(owner, f.book)
	if err := restored.Restore(f.game.State()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.State() != f.game.State() {
		t.Error("restored state mismatch")
	}
	if string(restored.State().Digest()) != string(f.game.State().Digest()) {
		t.Error("digest mismatch")
	}

	other := game.New(player1, f.book)
	if err := other.Restore(f.game.State()); err == nil {
		t.Error("restoring another owner's state should fail")
	}
}
