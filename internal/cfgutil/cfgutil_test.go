package cfgutil

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/stretchr/testify/require"
)

func TestAmountFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		amount  btcutil.Amount
		wantErr bool
	}{
		{value: "0.1", amount: 10_000_000},
		{value: "0.0001 BTC", amount: 10_000},
		{value: " 1 ", amount: btcutil.SatoshiPerBitcoin},
		{value: "-0.1", wantErr: true},
		{value: "one", wantErr: true},
	}

	for _, test := range tests {
		var flag AmountFlag
		err := flag.UnmarshalFlag(test.value)
		if test.wantErr {
			require.Error(t, err, test.value)
			continue
		}
		require.NoError(t, err, test.value)
		require.Equal(t, test.amount, flag.Amount)

		// The marshaled form parses back to the same amount.
		s, err := flag.MarshalFlag()
		require.NoError(t, err)

		var parsed AmountFlag
		require.NoError(t, parsed.UnmarshalFlag(s))
		require.Equal(t, flag.Amount, parsed.Amount)
	}
}

func TestFeeRateFlag(t *testing.T) {
	t.Parallel()

	flag := NewFeeRateFlag(1_000)
	s, err := flag.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "0.00001 BTC/kvB", s)

	require.NoError(t, flag.UnmarshalFlag("0.0002"))
	require.Equal(t, unit.SatPerKVByte(20_000), flag.SatPerKVByte)

	require.NoError(t, flag.UnmarshalFlag("0.0003 BTC/kvB"))
	require.Equal(t, unit.SatPerKVByte(30_000), flag.SatPerKVByte)

	require.Error(t, flag.UnmarshalFlag("-1"))
}

func TestExplicitString(t *testing.T) {
	t.Parallel()

	flag := NewExplicitString("localhost")
	require.False(t, flag.ExplicitlySet())

	require.NoError(t, flag.UnmarshalFlag("localhost"))
	require.True(t, flag.ExplicitlySet())
	require.Equal(t, "localhost", flag.Value)
}

func TestNormalizeAddresses(t *testing.T) {
	t.Parallel()

	addrs, err := NormalizeAddresses(
		[]string{"localhost", "localhost:18332", "[::1]:8", "10.0.0.1"},
		"18332",
	)
	require.NoError(t, err)
	require.Equal(t, []string{
		"localhost:18332", "[::1]:8", "10.0.0.1:18332",
	}, addrs)

	_, err = NormalizeAddress("[::1", "18332")
	require.Error(t, err)
}

func TestIsLoopbackAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr     string
		loopback bool
		wantErr  bool
	}{
		{addr: "localhost:8338", loopback: true},
		{addr: "127.0.0.1:8338", loopback: true},
		{addr: "127.0.0.2:8338", loopback: true},
		{addr: "[::1]:8338", loopback: true},
		{addr: "0.0.0.0:8338"},
		{addr: "10.0.0.1:8338"},
		{addr: "example.com:8338"},
		{addr: "localhost", wantErr: true},
	}

	for _, test := range tests {
		loopback, err := IsLoopbackAddress(test.addr)
		if test.wantErr {
			require.Error(t, err, test.addr)
			continue
		}
		require.NoError(t, err, test.addr)
		require.Equal(t, test.loopback, loopback, test.addr)
	}
}
