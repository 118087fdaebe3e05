package ledger

import (
	"fmt"
	"strings"

	"EscrowLedger/internal/identity"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopePrincipal AccountScope = iota
	AccountScopeEscrow
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Principal sub-types
	SubTypeWithdrawable AccountSubType = iota

	// Escrow sub-types, one account per open record
	SubTypeGameEscrow
	SubTypeOfferEscrow

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AccountKey is the in-memory key for balance tracking.
// EntityID holds the principal address (right-aligned) or the escrow record id.
type AccountKey struct {
	Scope    AccountScope
	EntityID common.Hash
	SubType  AccountSubType
}

// NewPrincipalAccountKey creates the withdrawable account of a principal
func NewPrincipalAccountKey(p identity.Principal) AccountKey {
	return AccountKey{
		Scope:    AccountScopePrincipal,
		EntityID: common.BytesToHash(p.Bytes()),
		SubType:  SubTypeWithdrawable,
	}
}

// NewEscrowAccountKey creates the escrow account backing one open record
func NewEscrowAccountKey(subType AccountSubType, record common.Hash) AccountKey {
	return AccountKey{
		Scope:    AccountScopeEscrow,
		EntityID: record,
		SubType:  subType,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
	}
}

// Principal returns the owner of a principal-scoped account.
func (k AccountKey) Principal() identity.Principal {
	return identity.FromAddress(common.BytesToAddress(k.EntityID.Bytes()))
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopePrincipal:
		return fmt.Sprintf("principal:%s:%s", k.Principal().Hex(), k.subTypeName())
	case AccountScopeEscrow:
		return fmt.Sprintf("escrow:%s:%s", k.subTypeName(), k.EntityID.Hex())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 3 && parts[0] == "principal" && parts[2] == "withdrawable":
		p, err := identity.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		return NewPrincipalAccountKey(p), nil
	case len(parts) == 3 && parts[0] == "escrow":
		st, ok := subTypeFromName(parts[1])
		if !ok || (st != SubTypeGameEscrow && st != SubTypeOfferEscrow) {
			return AccountKey{}, fmt.Errorf("account path %q: unknown escrow kind", path)
		}
		return NewEscrowAccountKey(st, common.HexToHash(parts[2])), nil
	case len(parts) == 2 && parts[0] == "external":
		st, ok := subTypeFromName(parts[1])
		if !ok || (st != SubTypeExternalDeposits && st != SubTypeExternalWithdrawals) {
			return AccountKey{}, fmt.Errorf("account path %q: unknown external account", path)
		}
		return NewExternalAccountKey(st), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}

var subTypeNames = map[AccountSubType]string{
	SubTypeWithdrawable:        "withdrawable",
	SubTypeGameEscrow:          "game",
	SubTypeOfferEscrow:         "offer",
	SubTypeExternalDeposits:    "deposits",
	SubTypeExternalWithdrawals: "withdrawals",
}

func (k AccountKey) subTypeName() string {
	if name, ok := subTypeNames[k.SubType]; ok {
		return name
	}
	return "unknown"
}

func subTypeFromName(name string) (AccountSubType, bool) {
	for st, n := range subTypeNames {
		if n == name {
			return st, true
		}
	}
	return 0, false
}
