package grant

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
		ok   bool
	}{
		{"0", 0, true},
		{" 42 ", 42, true},
		{"18446744073709551615", math.MaxUint64, true},
		{"18446744073709551616", 0, false},
		{"-1", 0, false},
		{"+1", 0, false},
		{"1.5", 0, false},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAmountArithmetic(t *testing.T) {
	sum, err := Amount(10).Add(5)
	require.NoError(t, err)
	require.Equal(t, Amount(15), sum)

	_, err = Amount(math.MaxUint64).Add(1)
	require.ErrorIs(t, err, ErrAmountOverflow)

	_, err = Amount(3).Sub(4)
	require.ErrorIs(t, err, ErrAmountUnderflow)

	require.Equal(t, Amount(math.MaxUint64/100*95 + (math.MaxUint64%100)*95/100), Amount(math.MaxUint64).MulDiv(95, 100))
}

func TestSplitFee(t *testing.T) {
	tests := []struct {
		gross, net, fee Amount
	}{
		{1_000_000, 950_000, 50_000},
		{4, 3, 1},
		{1, 0, 1},
		{0, 0, 0},
		{19, 18, 1},
		{20, 19, 1},
	}
	for _, tt := range tests {
		net, fee := SplitFee(tt.gross)
		assert.Equal(t, tt.net, net, "net of %s", tt.gross)
		assert.Equal(t, tt.fee, fee, "fee of %s", tt.gross)
		assert.Equal(t, tt.gross, net+fee)
	}
}

func TestAmountJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		V Amount `json:"v"`
	}{V: 12345678901234})
	require.NoError(t, err)
	require.JSONEq(t, `{"v":"12345678901234"}`, string(b))

	var out struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"7","b":9}`), &out))
	require.Equal(t, Amount(7), out.A)
	require.Equal(t, Amount(9), out.B)

	require.Error(t, json.Unmarshal([]byte(`{"a":"-7"}`), &out))
}

func TestParseAddressCanonicalises(t *testing.T) {
	u := util.Uint160{0x01, 0x02, 0x03, 0xab, 0xcd}
	canonical := AddressFromScriptHash(u)

	upper, err := ParseAddress("0X" + "ABCD" + string(canonical)[6:])
	require.NoError(t, err)
	assert.Len(t, string(upper), 42)

	fromHex, err := ParseAddress(string(canonical))
	require.NoError(t, err)
	require.Equal(t, canonical, fromHex)

	fromBase58, err := ParseAddress(canonical.NeoAddress())
	require.NoError(t, err)
	require.Equal(t, canonical, fromBase58)

	mixed := "0x" + "AbCdEf0123456789aBcDeF0123456789abcdef01"
	lower := "0x" + "abcdef0123456789abcdef0123456789abcdef01"
	require.True(t, Equal(mixed, lower))

	sh, err := canonical.ScriptHash()
	require.NoError(t, err)
	require.Equal(t, u, sh)
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "0x1234", "0xzz" + "00000000000000000000000000000000000000", "not-an-address", "NNotAValidChecksumAddress1234567890"} {
		_, err := ParseAddress(in)
		assert.Error(t, err, in)
	}
	assert.False(t, Equal("bogus", "bogus"))
}

func TestEffectiveStatus(t *testing.T) {
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	r := Round{Status: RoundOpen, EndTime: end}

	assert.Equal(t, RoundOpen, EffectiveStatus(r, end))
	assert.Equal(t, RoundClosed, EffectiveStatus(r, end.Add(time.Second)))

	r.Status = RoundDistributing
	assert.Equal(t, RoundDistributing, EffectiveStatus(r, end.Add(time.Hour)))
}

func TestSettledStatusAndRemaining(t *testing.T) {
	r := Round{Budget: 10, Allocated: 4, Distributed: 0}
	assert.Equal(t, Amount(6), r.Remaining())
	assert.Equal(t, RoundDistributing, SettledStatus(r))

	r.Distributed = 4
	assert.Equal(t, RoundCompleted, SettledStatus(r))

	r = Round{}
	assert.Equal(t, RoundCompleted, SettledStatus(r))
}

func TestParseStatuses(t *testing.T) {
	s, err := ParseRoundStatus(" OPEN ")
	require.NoError(t, err)
	assert.Equal(t, RoundOpen, s)
	_, err = ParseRoundStatus("archived")
	assert.Error(t, err)

	a, err := ParseApplicationStatus("Rejected")
	require.NoError(t, err)
	assert.Equal(t, ApplicationRejected, a)
	_, err = ParseApplicationStatus("maybe")
	assert.Error(t, err)
}
