package escrow

import "EscrowLedger/internal/identity"

// Call is the execution context of one operation: who invoked it, the value
// attached to the invocation, and where it sits in the command log.
type Call struct {
	Caller    identity.Principal
	Value     int64
	Ref       string // idempotency key of the command
	Sequence  int64
	Timestamp int64 // epoch microseconds
}

// HasValue reports whether value was attached.
func (c Call) HasValue() bool {
	return c.Value != 0
}
