package chain

import (
	"math/big"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1", 1_000_000},
		{"12.5", 12_500_000},
		{"0.000001", 1},
		{" 100.25 ", 100_250_000},
		{"0", 0},
		{"3.500000", 3_500_000},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Network{}.ParseAmount(tc.in)
			require.NoError(t, err)
			assert.Equal(t, big.NewInt(tc.want), got)
		})
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000001"} {
		t.Run(in, func(t *testing.T) {
			_, err := Network{USDTDecimals: 6}.ParseAmount(in)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestFormatUSDT(t *testing.T) {
	assert.Equal(t, "12.5", FormatUSDT(big.NewInt(12_500_000)))
	assert.Equal(t, "10", FormatUSDT(big.NewInt(10_000_000)))
	assert.Equal(t, "0.000001", FormatUSDT(big.NewInt(1)))
	assert.Equal(t, "0", FormatUSDT(nil))

	back, err := Network{}.ParseAmount(FormatUSDT(big.NewInt(123_456_789)))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(123_456_789), back)
}

func TestNetworkAmounts_UseTokenDecimals(t *testing.T) {
	n := Network{USDTDecimals: 18}
	v, err := n.ParseAmount("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())
	assert.Equal(t, "1.5", n.FormatAmount(v))
	assert.Equal(t, "0.0000000000015", n.FormatAmount(big.NewInt(1_500_000)))

	_, err = Network{USDTDecimals: 2}.ParseAmount("0.001")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewIDs(t *testing.T) {
	now := time.UnixMilli(1760000000123)

	reqID, err := NewRequestID(now)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^req_1760000000123_[0-9a-z]{9}$`), reqID)

	projID, err := NewProjectID(now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(projID, "proj_1760000000123_"))

	other, err := NewRequestID(now)
	require.NoError(t, err)
	assert.NotEqual(t, reqID, other)
}
