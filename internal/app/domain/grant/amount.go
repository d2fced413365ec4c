package grant

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/bits"
	"strconv"
	"strings"
)

// FeePercent is the share of every paid allocation retained by the platform.
const FeePercent = 5

var (
	ErrAmountOverflow  = errors.New("amount overflow")
	ErrAmountUnderflow = errors.New("amount underflow")
)

// Amount is an exact quantity of the smallest native currency unit
// (1e-8 GAS on Neo N3).
type Amount uint64

// ParseAmount parses a base-10 non-negative integer.
func ParseAmount(raw string) (Amount, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return Amount(v), nil
}

func (a Amount) String() string { return strconv.FormatUint(uint64(a), 10) }

func (a Amount) Uint64() uint64 { return uint64(a) }

// BigInt converts the amount for chain invocations.
func (a Amount) BigInt() *big.Int { return new(big.Int).SetUint64(uint64(a)) }

func (a Amount) IsZero() bool { return a == 0 }

// Add returns a+b, failing instead of wrapping around.
func (a Amount) Add(b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return Amount(sum), nil
}

// Sub returns a-b, failing when b exceeds a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b > a {
		return 0, ErrAmountUnderflow
	}
	return a - b, nil
}

// MulDiv returns floor(a*num/den) without intermediate overflow. num must not
// exceed den.
func (a Amount) MulDiv(num, den uint64) Amount {
	hi, lo := bits.Mul64(uint64(a), num)
	q, _ := bits.Div64(hi, lo, den)
	return Amount(q)
}

// SplitFee divides a gross allocation into the net payout and the retained
// fee. net = floor(gross*(100-FeePercent)/100) and fee = gross-net, so the two
// always sum back to gross.
func SplitFee(gross Amount) (net, fee Amount) {
	net = gross.MulDiv(100-FeePercent, 100)
	return net, gross - net
}

// MarshalJSON encodes amounts as decimal strings so clients never round them.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*a = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	v, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
