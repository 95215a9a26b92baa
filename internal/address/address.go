// Package address handles participant identifiers.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
)

// ErrMalformed is returned when a string is not a valid participant address.
var ErrMalformed = errors.New("malformed address")

// Address is a 20-byte participant identifier kept in upper-case hex so it
// can be used directly as a map key and a database column.
type Address string

// Parse accepts hex with or without a 0x prefix, in any case.
func Parse(s string) (Address, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformed)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}
	return FromBytes(b)
}

// ParseList parses a comma separated list, skipping blank entries.
func ParseList(s string) ([]Address, error) {
	var out []Address
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		a, err := Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// FromBytes wraps raw address bytes.
func FromBytes(b []byte) (Address, error) {
	if len(b) != crypto.AddressSize {
		return "", fmt.Errorf("%w: want %d bytes, got %d", ErrMalformed, crypto.AddressSize, len(b))
	}
	return Address(cmtbytes.HexBytes(b).String()), nil
}

// FromPubKey derives the address of a public key.
func FromPubKey(pk crypto.PubKey) Address {
	return Address(pk.Address().String())
}

// Generate derives an address from a freshly generated ed25519 key.
func Generate() Address {
	return FromPubKey(ed25519.GenPrivKey().PubKey())
}

// Valid reports whether a is a well-formed address.
func (a Address) Valid() bool {
	if len(a) != crypto.AddressSize*2 {
		return false
	}
	_, err := hex.DecodeString(string(a))
	return err == nil && strings.ToUpper(string(a)) == string(a)
}

func (a Address) IsZero() bool {
	return a == ""
}

func (a Address) String() string {
	return string(a)
}

// Short returns the first eight hex digits followed by an ellipsis.
func (a Address) Short() string {
	if len(a) > 8 {
		return string(a[:8]) + "..."
	}
	return string(a)
}
