package game

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Secret is the 32-byte preimage revealed by a guess.
type Secret [32]byte

// Hasher computes the commitment of a preimage.
type Hasher func(preimage Secret) common.Hash

// Keccak256 is the default commitment: keccak256 over the 32 preimage bytes.
func Keccak256(preimage Secret) common.Hash {
	return crypto.Keccak256Hash(preimage[:])
}

// SecretFromString encodes s as a right zero-padded 32-byte value. At most 31
// bytes are accepted so the encoding stays null-terminated.
func SecretFromString(s string) (Secret, error) {
	var out Secret
	if len(s) > 31 {
		return out, fmt.Errorf("secret %q longer than 31 bytes", s)
	}
	copy(out[:], s)
	return out, nil
}

// SecretFromHex decodes a 0x-prefixed 32-byte preimage.
func SecretFromHex(s string) (Secret, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Secret{}, fmt.Errorf("secret %q: %w", s, err)
	}
	if len(b) != 32 {
		return Secret{}, fmt.Errorf("secret must be 32 bytes, got %d", len(b))
	}
	var out Secret
	copy(out[:], b)
	return out, nil
}

func (s Secret) Hex() string {
	return hexutil.Encode(s[:])
}

// Commit returns the Keccak-256 commitment of a string secret.
func Commit(secret string) (common.Hash, error) {
	preimage, err := SecretFromString(secret)
	if err != nil {
		return common.Hash{}, err
	}
	return Keccak256(preimage), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

func (s *Secret) UnmarshalText(text []byte) error {
	v, err := SecretFromHex(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
