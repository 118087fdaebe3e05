package ingestion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"EscrowLedger/internal/command"
)

// CommandSubjectPrefix is the subject root for inbound commands. Each command
// type has its own subject: escrow.ledger.cmd.<Type>.
const CommandSubjectPrefix = "escrow.ledger.cmd."

// ErrMalformedCommand wraps payloads that cannot be parsed into a command.
var ErrMalformedCommand = errors.New("malformed command")

// RawCommand is the untyped command as received from a transport, ready for
// the shell to parse into a typed command.Command before it reaches the core.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time

	AckFunc  func() // processed (accepted, duplicate or rejected): never redeliver
	NakFunc  func() // transient failure: redeliver
	TermFunc func() // malformed payload: redelivery cannot help
}

// CommandSubject returns the inbound subject for a command type.
func CommandSubject(ct command.CommandType) string {
	return CommandSubjectPrefix + ct.String()
}

// CommandTypeFromSubject extracts the command type name from an inbound subject.
func CommandTypeFromSubject(subject string) (string, error) {
	name, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok || name == "" || strings.Contains(name, ".") {
		return "", fmt.Errorf("unexpected command subject: %s", subject)
	}
	return name, nil
}

// ParseRawCommand converts a RawCommand into a typed command.
// The subject names the type; the payload is the command's JSON wire format.
func ParseRawCommand(raw RawCommand) (command.Command, error) {
	name, err := CommandTypeFromSubject(raw.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	return ParseNamed(name, raw.Data)
}

// ParseNamed decodes a payload for the named command type.
func ParseNamed(name string, data []byte) (command.Command, error) {
	cmd, err := command.DecodeNamed(name, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	return cmd, nil
}
