package pixflow

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// RefFromText derives a reference id from free text: keccak256 of the
// trimmed UTF-8 bytes, or the zero hash for empty text.
func RefFromText(text string) [32]byte {
	t := strings.TrimSpace(text)
	if t == "" {
		return [32]byte{}
	}
	return crypto.Keccak256Hash([]byte(t))
}

// RandomBytes32 returns 32 random bytes, used for payment proof tags and
// default reference ids.
func RandomBytes32() ([32]byte, error) {
	var out [32]byte
	if _, err := rand.Read(out[:]); err != nil {
		return out, fmt.Errorf("random bytes32: %w", err)
	}
	return out, nil
}

// ParseBytes32 parses a 0x-prefixed 32-byte hex string.
func ParseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return out, &ValidationError{Field: "refId", Reason: "not 0x hex", Err: err}
	}
	if len(b) != 32 {
		return out, &ValidationError{Field: "refId", Reason: fmt.Sprintf("want 32 bytes, got %d", len(b))}
	}
	copy(out[:], b)
	return out, nil
}

// HexBytes32 renders b as 0x-prefixed lowercase hex.
func HexBytes32(b [32]byte) string {
	return hexutil.Encode(b[:])
}

// IsAddress reports whether s is a well-formed 20-byte hex address.
func IsAddress(s string) bool {
	return common.IsHexAddress(s) && strings.HasPrefix(strings.ToLower(s), "0x")
}
