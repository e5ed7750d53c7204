package x402v2

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var decimalStringRe = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// ParseAmount parses a wire amount (a decimal string of non-negative digits, "0" or
// no leading zeros) into a big.Int. Amounts are never represented as float64 or
// int64 internally so that 256-bit values round-trip exactly.
func ParseAmount(s string) (*big.Int, error) {
	if !decimalStringRe.MatchString(s) {
		return nil, fmt.Errorf("amount %q is not a valid non-negative decimal string", s)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q could not be parsed as a base-10 integer", s)
	}
	return n, nil
}

// FormatAmount renders n as the canonical wire decimal string.
func FormatAmount(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

var hex64Re = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
var hex40Re = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidHash32 reports whether s is a lowercase-or-mixed-case 0x-prefixed 32-byte hash
// of exactly 64 hex characters.
func ValidHash32(s string) bool {
	return hex64Re.MatchString(s)
}

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func ValidAddress(s string) bool {
	return hex40Re.MatchString(s)
}

// CanonicalAddress returns the EIP-55 checksum form of a 20-byte hex address. Callers
// must compare addresses only after canonicalizing both sides.
func CanonicalAddress(s string) (string, error) {
	if !ValidAddress(s) {
		return "", fmt.Errorf("address %q is not a 20-byte 0x-prefixed hex string", s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// AddressesEqual compares two addresses case-insensitively after canonicalization.
func AddressesEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
