package grant

import (
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Address is the canonical identity of an account: "0x" followed by the
// lowercase script hash in its conventional display order. Two inputs that
// refer to the same account always normalise to the same Address.
type Address string

// ParseAddress accepts a Neo N3 base58 address or a 0x-prefixed 40-digit
// script hash (any case) and returns its canonical form.
func ParseAddress(raw string) (Address, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("address required")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		hexPart := strings.ToLower(s[2:])
		if len(hexPart) != 2*util.Uint160Size {
			return "", fmt.Errorf("invalid address %q: expected %d hex digits", raw, 2*util.Uint160Size)
		}
		u, err := util.Uint160DecodeStringLE(hexPart)
		if err != nil {
			return "", fmt.Errorf("invalid address %q: %w", raw, err)
		}
		return AddressFromScriptHash(u), nil
	}

	u, err := address.StringToUint160(s)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return AddressFromScriptHash(u), nil
}

// AddressFromScriptHash renders a script hash in canonical form.
func AddressFromScriptHash(u util.Uint160) Address {
	return Address("0x" + u.StringLE())
}

// ScriptHash decodes the canonical form back into a script hash.
func (a Address) ScriptHash() (util.Uint160, error) {
	s := strings.TrimPrefix(string(a), "0x")
	return util.Uint160DecodeStringLE(s)
}

// NeoAddress returns the base58 form, or "" if a is not canonical.
func (a Address) NeoAddress() string {
	u, err := a.ScriptHash()
	if err != nil {
		return ""
	}
	return address.Uint160ToString(u)
}

func (a Address) String() string { return string(a) }

// Equal compares two raw inputs by canonical value.
func Equal(a, b string) bool {
	ca, err := ParseAddress(a)
	if err != nil {
		return false
	}
	cb, err := ParseAddress(b)
	if err != nil {
		return false
	}
	return ca == cb
}
