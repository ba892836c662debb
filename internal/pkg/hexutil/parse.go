// Package hexutil provides helpers for the hex-encoded quantities and hashes
// found in Ethereum JSON-RPC notifications.
//
// It lives in internal/pkg so adapters and services can share it without
// importing each other.
package hexutil

import (
	"errors"
	"strconv"
	"strings"
)

// ErrEmpty is returned when the input holds no hex digits.
var ErrEmpty = errors.New("empty hex quantity")

// ParseUint64 parses a hex-encoded quantity such as a block number.
// Handles both "0x" prefixed and non-prefixed hex strings.
func ParseUint64(hexNum string) (uint64, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(hexNum, "0x"), "0X")
	if digits == "" {
		return 0, ErrEmpty
	}
	return strconv.ParseUint(digits, 16, 64)
}

// TruncateHash shortens a hash for logging purposes.
func TruncateHash(hash string) string {
	if len(hash) <= 14 {
		return hash
	}
	return hash[:8] + "..." + hash[len(hash)-6:]
}
