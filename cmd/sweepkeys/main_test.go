package main

import (
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func newWIF(t *testing.T, params *chaincfg.Params) string {
	t.Helper()

	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	wif, err := btcutil.NewWIF(privKey, params, true)
	require.NoError(t, err)

	return wif.String()
}

func TestSweepParams(t *testing.T) {
	t.Parallel()

	params := &chaincfg.RegressionNetParams
	key := newWIF(t, params)

	raw, err := sweepParams([]string{" " + key + "\n"}, "paper", "",
		params)
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var options map[string]interface{}
	require.NoError(t, json.Unmarshal(raw[0], &options))
	require.Equal(t, map[string]interface{}{
		"privkeys": []interface{}{key},
		"label":    "paper",
	}, options)
}

func TestSweepParamsInvalidKeys(t *testing.T) {
	t.Parallel()

	params := &chaincfg.RegressionNetParams

	_, err := sweepParams(nil, "", "", params)
	require.Error(t, err)

	_, err = sweepParams([]string{"notakey"}, "", "", params)
	require.ErrorContains(t, err, "private key #1 is invalid")

	mainnetKey := newWIF(t, &chaincfg.MainNetParams)
	_, err = sweepParams(
		[]string{newWIF(t, params), mainnetKey}, "", "", params,
	)
	require.ErrorContains(t, err, "private key #2 is not for regtest")
}
