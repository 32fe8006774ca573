package txauthor

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// newTestWIF returns a deterministic WIF for the given seed byte.
func newTestWIF(t *testing.T, seed byte, compressed bool) *btcutil.WIF {
	t.Helper()

	var keyBytes [32]byte
	keyBytes[31] = seed
	keyBytes[0] = 0x01
	priv, _ := btcec.PrivKeyFromBytes(keyBytes[:])

	wif, err := btcutil.NewWIF(priv, &chaincfg.RegressionNetParams, compressed)
	require.NoError(t, err)

	return wif
}

// scriptsForKey returns the output scripts of every supported type paying to
// the key of the WIF.
func scriptsForKey(t *testing.T, wif *btcutil.WIF) map[string][]byte {
	t.Helper()

	params := &chaincfg.RegressionNetParams
	pkHash := btcutil.Hash160(wif.SerializePubKey())

	p2pkh, err := btcutil.NewAddressPubKeyHash(pkHash, params)
	require.NoError(t, err)
	p2pkhScript, err := txscript.PayToAddrScript(p2pkh)
	require.NoError(t, err)

	p2pk, err := btcutil.NewAddressPubKey(wif.SerializePubKey(), params)
	require.NoError(t, err)
	p2pkScript, err := txscript.PayToAddrScript(p2pk)
	require.NoError(t, err)

	p2wkh, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	require.NoError(t, err)
	p2wkhScript, err := txscript.PayToAddrScript(p2wkh)
	require.NoError(t, err)

	np2wkh, err := btcutil.NewAddressScriptHash(p2wkhScript, params)
	require.NoError(t, err)
	np2wkhScript, err := txscript.PayToAddrScript(np2wkh)
	require.NoError(t, err)

	return map[string][]byte{
		"p2pkh":  p2pkhScript,
		"p2pk":   p2pkScript,
		"p2wkh":  p2wkhScript,
		"np2wkh": np2wkhScript,
	}
}

// spendingTx returns a transaction spending one output per previous output
// to a single p2wkh output.
func spendingTx(prevOuts []*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for i := range prevOuts {
		tx.AddTxIn(wire.NewTxIn(
			wire.NewOutPoint(&chainhash.Hash{byte(i + 1)}, 0),
			nil, nil,
		))
	}
	tx.AddTxOut(wire.NewTxOut(1000, append(
		[]byte{txscript.OP_0, txscript.OP_DATA_20},
		make([]byte, 20)...,
	)))

	return tx
}

// TestAddAllInputScripts checks that every supported output type can be
// signed and that the resulting scripts validate.
func TestAddAllInputScripts(t *testing.T) {
	t.Parallel()

	wif := newTestWIF(t, 1, true)
	store := NewKeyStore(&chaincfg.RegressionNetParams)
	require.NoError(t, store.AddKey(wif))

	for name, pkScript := range scriptsForKey(t, wif) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			prevOuts := []*wire.TxOut{
				wire.NewTxOut(100_000, pkScript),
				wire.NewTxOut(50_000, pkScript),
			}
			tx := spendingTx(prevOuts)

			err := AddAllInputScripts(
				tx, prevOuts, NewSecretsSigner(store),
			)
			require.NoError(t, err)

			for _, txIn := range tx.TxIn {
				signed := len(txIn.SignatureScript) > 0 ||
					len(txIn.Witness) > 0
				require.True(t, signed)
			}
		})
	}
}

// TestAddAllInputScriptsUncompressed checks signing of legacy outputs paying
// to an uncompressed key.
func TestAddAllInputScriptsUncompressed(t *testing.T) {
	t.Parallel()

	wif := newTestWIF(t, 2, false)
	store := NewKeyStore(&chaincfg.RegressionNetParams)
	require.NoError(t, store.AddKey(wif))

	scripts := scriptsForKey(t, wif)
	prevOuts := []*wire.TxOut{
		wire.NewTxOut(100_000, scripts["p2pkh"]),
		wire.NewTxOut(100_000, scripts["p2pk"]),
	}
	tx := spendingTx(prevOuts)

	require.NoError(t, AddAllInputScripts(
		tx, prevOuts, NewSecretsSigner(store),
	))
}

// TestAddAllInputScriptsAtomic checks that a failure on any input leaves all
// inputs of the transaction untouched.
func TestAddAllInputScriptsAtomic(t *testing.T) {
	t.Parallel()

	known := newTestWIF(t, 3, true)
	unknown := newTestWIF(t, 4, true)

	store := NewKeyStore(&chaincfg.RegressionNetParams)
	require.NoError(t, store.AddKey(known))

	prevOuts := []*wire.TxOut{
		wire.NewTxOut(100_000, scriptsForKey(t, known)["p2pkh"]),
		wire.NewTxOut(100_000, scriptsForKey(t, unknown)["p2pkh"]),
	}
	tx := spendingTx(prevOuts)

	err := AddAllInputScripts(tx, prevOuts, NewSecretsSigner(store))
	require.ErrorIs(t, err, ErrSigningFailed)

	for _, txIn := range tx.TxIn {
		require.Empty(t, txIn.SignatureScript)
		require.Empty(t, txIn.Witness)
	}
}

// TestAddAllInputScriptsMismatch checks that the previous outputs must line
// up with the inputs.
func TestAddAllInputScriptsMismatch(t *testing.T) {
	t.Parallel()

	store := NewKeyStore(&chaincfg.RegressionNetParams)
	tx := spendingTx([]*wire.TxOut{{}, {}})

	err := AddAllInputScripts(
		tx, []*wire.TxOut{{}}, NewSecretsSigner(store),
	)
	require.ErrorIs(t, err, ErrPrevOutsMismatch)
}

// TestKeyStoreWrongNetwork checks that keys of another network are refused.
func TestKeyStoreWrongNetwork(t *testing.T) {
	t.Parallel()

	var keyBytes [32]byte
	keyBytes[31] = 9
	priv, _ := btcec.PrivKeyFromBytes(keyBytes[:])
	wif, err := btcutil.NewWIF(priv, &chaincfg.MainNetParams, true)
	require.NoError(t, err)

	store := NewKeyStore(&chaincfg.RegressionNetParams)
	require.ErrorIs(t, store.AddKey(wif), ErrWrongNetwork)
}

// TestKeyStoreZero checks that zeroing the store clears the keys and forgets
// every address.
func TestKeyStoreZero(t *testing.T) {
	t.Parallel()

	wif := newTestWIF(t, 3, true)
	priv := wif.PrivKey

	store := NewKeyStore(&chaincfg.RegressionNetParams)
	require.NoError(t, store.AddKey(wif))

	pkHash := btcutil.Hash160(wif.SerializePubKey())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		pkHash, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	_, _, err = store.GetKey(addr)
	require.NoError(t, err)

	store.Zero()

	require.True(t, priv.Key.IsZero())
	_, _, err = store.GetKey(addr)
	require.ErrorIs(t, err, ErrUnknownKey)
}

// TestSumOutputValues checks the output value sum.
func TestSumOutputValues(t *testing.T) {
	t.Parallel()

	outputs := []*wire.TxOut{{Value: 1000}, {Value: 2500}}
	require.Equal(t, btcutil.Amount(3500), SumOutputValues(outputs))
	require.Zero(t, SumOutputValues(nil))
}
