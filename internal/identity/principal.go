package identity

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Principal identifies a caller or a recipient of value. The zero principal
// is the explicit "absent" sentinel and is never a valid recipient.
type Principal struct {
	common.Address
}

// Zero is the absent principal.
var Zero Principal

func FromAddress(addr common.Address) Principal {
	return Principal{Address: addr}
}

// Parse accepts a 0x-prefixed hex address.
func Parse(s string) (Principal, error) {
	if !common.IsHexAddress(s) {
		return Zero, fmt.Errorf("invalid principal %q", s)
	}
	return Principal{Address: common.HexToAddress(s)}, nil
}

func MustParse(s string) Principal {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Derive maps a label to a stable principal (last 20 bytes of its Keccak-256).
// Used for fixtures and local tooling.
func Derive(label string) Principal {
	return Principal{Address: common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])}
}

func (p Principal) IsZero() bool {
	return p.Address == (common.Address{})
}

func (p Principal) String() string {
	return p.Hex()
}
