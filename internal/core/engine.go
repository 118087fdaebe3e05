package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"EscrowLedger/internal/command"
	"EscrowLedger/internal/escrow"
	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/market"
	"EscrowLedger/internal/observability"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidCommand is returned for commands with a malformed header.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrUnsupportedCommand is returned for command types the core cannot dispatch.
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// Config describes the deployment the core runs.
type Config struct {
	GameOwner   identity.Principal
	MarketOwner identity.Principal
	LRUCapacity int
	GameOptions []game.Option
	Logger      zerolog.Logger
}

// Core is the single-writer command processor. It owns the ledger and both
// engines; reads take the read lock and never see a half-applied command.
type Core struct {
	mu sync.RWMutex

	sequence    int64 // next sequence to assign
	hasher      *StateHasher
	book        *escrow.Book
	game        *game.Game
	market      *market.Market
	idempotency *IdempotencyChecker
	nonces      *NonceValidator
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is emitted once per accepted command.
type CoreOutput struct {
	Envelope *command.Envelope
	Batch    *ledger.Batch // nil for commands that move no value
	Command  command.Command
}

// Result reports the outcome of an accepted (or duplicate) command.
type Result struct {
	Sequence  int64
	StateHash [32]byte
	Duplicate bool
	Batch     *ledger.Batch
}

// NewCore creates a core at sequence 1 with empty state. persistChan may be
// nil when nothing persists (tests, replay tools).
func NewCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Core {
	book := escrow.NewBook()
	return &Core{
		sequence:       1,
		hasher:         NewStateHasher(),
		book:           book,
		game:           game.New(cfg.GameOwner, book, cfg.GameOptions...),
		market:         market.New(cfg.MarketOwner, book),
		idempotency:    NewIdempotencyChecker(cfg.LRUCapacity, dbChecker, metrics),
		nonces:         NewNonceValidator(metrics),
		metrics:        metrics,
		logger:         cfg.Logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// ProcessCommand is the main processing pipeline.
//
// Rejected commands return the engine's *failure.Error and leave no trace:
// no sequence, no hash, no idempotency entry. Duplicates return a Result
// with Duplicate set and a nil error.
func (c *Core) ProcessCommand(cmd command.Command) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(cmd, false)
}

func (c *Core) process(cmd command.Command, replay bool) (Result, error) {
	start := time.Now()
	meta := cmd.Meta()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Header validation
	if err := meta.Validate(); err != nil {
		c.recordRejected(commandType, "invalid")
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	// Step 2: Idempotency check (two-tier). The log being replayed is
	// already unique, and tier 2 would report every entry as a duplicate.
	if !replay && c.idempotency.IsDuplicate(idempotencyKey) {
		c.recordRejected(commandType, "duplicate")
		return Result{Duplicate: true, StateHash: c.hasher.GetPrevHash()}, nil
	}

	// Step 3: Nonce ordering
	if err := c.nonces.Check(meta.Caller, meta.Nonce); err != nil {
		c.recordRejected(commandType, "stale_nonce")
		return Result{}, err
	}

	// Step 4: Dispatch. Engines run every guard before mutating anything.
	call := escrow.Call{
		Caller:    meta.Caller,
		Value:     meta.Value,
		Ref:       idempotencyKey,
		Sequence:  c.sequence,
		Timestamp: meta.TimestampUs,
	}
	batch, err := c.dispatch(cmd, call)
	if err != nil {
		if errors.Is(err, ErrUnsupportedCommand) {
			c.recordRejected(commandType, "unsupported")
			return Result{}, err
		}
		fe, ok := failure.As(err)
		if !ok {
			// Guards passed but the ledger refused the batch.
			panic(fmt.Sprintf("FATAL: %s %s: %v", commandType, idempotencyKey, err))
		}
		c.recordRejected(commandType, string(fe.Code))
		c.logger.Debug().
			Str("command_type", commandType).
			Str("idempotency_key", idempotencyKey).
			Str("caller", meta.Caller.String()).
			Str("code", string(fe.Code)).
			Msg("command rejected")
		return Result{}, err
	}

	// Step 5: Post-checks
	if err := c.postCheckInvariants(cmd); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s %s: %v", commandType, idempotencyKey, err))
	}

	// Step 6: State hash
	stateDigest := c.computeStateDigest(cmd, batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := command.Encode(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}

	envelope := &command.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		Caller:         meta.Caller,
		Nonce:          meta.Nonce,
		Timestamp:      time.UnixMicro(meta.TimestampUs).UTC(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	// Step 7: Emit outputs
	if !replay {
		c.emit(CoreOutput{Envelope: envelope, Batch: batch, Command: cmd})
	}

	// Step 8: Mark as processed
	c.idempotency.MarkProcessed(idempotencyKey)
	c.nonces.Advance(meta.Caller, meta.Nonce)

	result := Result{Sequence: c.sequence, StateHash: stateHash, Batch: batch}
	c.sequence++

	c.recordApplied(cmd, batch, time.Since(start))
	return result, nil
}

// emit sends to persistence with a BLOCKING send (backpressure; nothing is
// lost) and to projections with a NON-BLOCKING send (projections rebuild
// from the journal if they fall behind).
func (c *Core) emit(output CoreOutput) {
	if c.persistChan != nil {
		c.persistChan <- output
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

func (c *Core) dispatch(cmd command.Command, call escrow.Call) (*ledger.Batch, error) {
	switch cm := cmd.(type) {
	// Secret game
	case *command.LockFunds:
		return c.game.LockFunds(call, cm.SecretHash)
	case *command.InitToken:
		return c.game.InitToken(call)
	case *command.GiveToken:
		return c.game.GiveToken(call, cm.To)
	case *command.Guess:
		return c.game.Guess(call, cm.Secret, cm.Amount, cm.NewSecretHash)

	// Transfer market
	case *command.SetClubAuthorizedBudget:
		return c.market.SetClubAuthorizedBudget(call, cm.Club, cm.Amount)
	case *command.MakeOfferForFreeAgent:
		return c.market.MakeOfferForFreeAgent(call, cm.Player, cm.Terms)
	case *command.PlayerValidateOfferForFreeAgent:
		return c.market.PlayerValidateOfferForFreeAgent(call, cm.Club)
	case *command.PlayerDeclineOfferForFreeAgent:
		return c.market.PlayerDeclineOfferForFreeAgent(call, cm.Club)
	case *command.WithdrawOfferForFreeAgent:
		return c.market.WithdrawOfferForFreeAgent(call, cm.Player)
	case *command.MakeOffer:
		return c.market.MakeOffer(call, cm.Player, cm.Terms)
	case *command.WithdrawOffer:
		return c.market.WithdrawOffer(call, cm.Player)
	case *command.ClubValidateOffer:
		return c.market.ClubValidateOffer(call, cm.Player, cm.NewClub)
	case *command.ClubDeclineOffer:
		return c.market.ClubDeclineOffer(call, cm.Player, cm.NewClub)
	case *command.PlayerValidateOffer:
		return c.market.PlayerValidateOffer(call, cm.NewClub)
	case *command.PlayerDeclineOffer:
		return c.market.PlayerDeclineOffer(call, cm.NewClub)

	// Ledger
	case *command.Withdraw:
		return c.book.Withdraw(call, cm.Amount)

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedCommand, cmd)
	}
}

// postCheckInvariants validates the ledger and the engine the command touched.
func (c *Core) postCheckInvariants(cmd command.Command) error {
	if err := c.book.Verify(); err != nil {
		return err
	}
	switch cmd.CommandType() {
	case command.CommandTypeLockFunds, command.CommandTypeInitToken,
		command.CommandTypeGiveToken, command.CommandTypeGuess:
		return c.game.Verify()
	case command.CommandTypeWithdraw:
		return nil
	default:
		return c.market.Verify()
	}
}

// computeStateDigest creates canonical bytes for the state hash: every
// account the batch touched, then the state of the engine the command targeted.
func (c *Core) computeStateDigest(cmd command.Command, batch *ledger.Batch) []byte {
	var accounts []ledger.AccountKey
	if batch != nil {
		accounts = batch.Touched()
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+128)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.book.Tracker().GetBalance(key))
	}

	switch cmd.CommandType() {
	case command.CommandTypeLockFunds, command.CommandTypeInitToken,
		command.CommandTypeGiveToken, command.CommandTypeGuess:
		digest = append(digest, c.game.State().Digest()...)
	case command.CommandTypeWithdraw:
	default:
		marketDigest, err := c.market.State().Digest()
		if err != nil {
			panic(fmt.Sprintf("FATAL: %v", err))
		}
		digest = append(digest, marketDigest...)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *Core) recordRejected(commandType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreCommandsRejected.WithLabelValues(commandType, reason).Inc()
	}
}

func (c *Core) recordApplied(cmd command.Command, batch *ledger.Batch, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	commandType := cmd.CommandType().String()
	c.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
	c.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(elapsed.Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence - 1))

	if batch != nil {
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			if j.JournalType == ledger.JournalTypeEscrowRelease || j.JournalType == ledger.JournalTypeEscrowRefund {
				c.metrics.EscrowReleased.WithLabelValues(j.JournalType.String()).Add(float64(j.Amount))
			}
		}
	}
	c.metrics.EscrowHeld.WithLabelValues("game").Set(float64(c.book.HeldByKind(ledger.SubTypeGameEscrow)))
	c.metrics.EscrowHeld.WithLabelValues("offer").Set(float64(c.book.HeldByKind(ledger.SubTypeOfferEscrow)))

	switch cmd.CommandType() {
	case command.CommandTypePlayerValidateOffer, command.CommandTypePlayerValidateOfferForFreeAgent:
		c.metrics.TransfersClosed.Inc()
	}
}
