package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address identifies a principal: an externally owned key or a deployed contract.
type Address = common.Address

// Hash is a 32-byte keccak digest. Roles, salts and code identities are hashes.
type Hash = common.Hash

// ZeroAddress is the null principal.
var ZeroAddress Address

var ErrInvalidAddress = errors.New("invalid address")

// BytesToAddress keeps the last 20 bytes of b, left-padding shorter input.
func BytesToAddress(b []byte) Address { return common.BytesToAddress(b) }

// ParseAddress decodes a 0x-prefixed (or bare) 40 character hex string. The
// checksum case is not enforced.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// HexToAddress is ParseAddress for trusted constants; bad input yields garbage.
func HexToAddress(s string) Address { return common.HexToAddress(s) }

func BytesToHash(b []byte) Hash { return common.BytesToHash(b) }

func Uint64ToHash(v uint64) Hash { return common.BigToHash(new(big.Int).SetUint64(v)) }

func Keccak256(data ...[]byte) Hash { return crypto.Keccak256Hash(data...) }

// CreateAddress2 derives the counterfactual address a deployer obtains for
// (salt, codeHash): keccak256(0xff ++ deployer ++ salt ++ codeHash)[12:].
func CreateAddress2(deployer Address, salt, codeHash Hash) Address {
	return crypto.CreateAddress2(deployer, salt, codeHash[:])
}

// SystemAddress returns the fixed address a named system contract is deployed at.
func SystemAddress(name string) Address {
	h := Keccak256([]byte("defitown.system."), []byte(name))
	return BytesToAddress(h[12:])
}

// CodeHashOf names a contract implementation.
func CodeHashOf(name string) Hash {
	return Keccak256([]byte("defitown.code."), []byte(name))
}

// SameAddress reports whether s is the textual form of a, in any letter case.
func SameAddress(s string, a Address) bool {
	return strings.EqualFold(s, a.Hex())
}
