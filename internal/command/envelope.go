package command

import (
	"time"

	"EscrowLedger/internal/identity"
)

// Envelope wraps every accepted command in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from the submitter
	IdempotencyKey string

	CommandType CommandType

	Caller identity.Principal

	// Per-caller nonce, 0 when unordered
	Nonce int64

	// Submitter timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command (see Encode)
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}
