package wallet

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/btcsuite/rbfwallet/chain"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/btcsuite/rbfwallet/wallet/txauthor"
	"github.com/btcsuite/rbfwallet/wtxmgr"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

var (
	testSeed = bytes.Repeat([]byte{0x2a}, 32)

	// foreignScript is a P2WPKH script the wallet does not own.
	foreignScript = append(
		[]byte{txscript.OP_0, txscript.OP_DATA_20}, make([]byte, 20)...,
	)
)

// testWallet creates a wallet in a fresh database backed by a mock chain.
func testWallet(t *testing.T,
	modify func(cfg *Config)) (*Wallet, *mockChainClient) {

	t.Helper()

	dbPath := filepath.Join(t.TempDir(), WalletDBName)
	db, err := walletdb.Create("bdb", dbPath, true, 10*time.Second, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	require.NoError(t, Create(db, testSeed, &chaincfg.RegressionNetParams))

	cfg := DefaultConfig(&chaincfg.RegressionNetParams)
	cfg.KeyPoolSize = 5
	if modify != nil {
		modify(cfg)
	}

	chainClient := newMockChainClient()
	w, err := Open(db, chainClient, cfg)
	require.NoError(t, err)

	return w, chainClient
}

// txShape describes a wallet transaction paying payValue to a foreign script
// and changeValue to a wallet change address with the given fee.
type txShape struct {
	payValue    int64
	changeValue int64
	fee         int64
	sequence    uint32
}

// addWalletTx records a mined funding transaction paying to a wallet key and
// an unmined transaction spending it as described by shape. The unmined
// transaction is returned.
func addWalletTx(t *testing.T, w *Wallet, shape txShape) *wire.MsgTx {
	t.Helper()

	if shape.sequence == 0 {
		shape.sequence = wire.MaxTxInSequenceNum - 2
	}

	var tx *wire.MsgTx
	err := walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		addrmgrNs := dbtx.ReadWriteBucket(waddrmgrNamespaceKey)
		txmgrNs := dbtx.ReadWriteBucket(wtxmgrNamespaceKey)

		fundAddr, err := w.Manager.NewAddress(addrmgrNs)
		require.NoError(t, err)
		fundScript, err := txscript.PayToAddrScript(fundAddr)
		require.NoError(t, err)

		fundValue := shape.payValue + shape.changeValue + shape.fee
		funding := wire.NewMsgTx(wire.TxVersion)
		funding.AddTxIn(wire.NewTxIn(
			wire.NewOutPoint(&chainhash.Hash{0x01}, 0), nil, nil,
		))
		funding.AddTxOut(wire.NewTxOut(fundValue, fundScript))

		fundRec, err := wtxmgr.NewTxRecordFromMsgTx(funding, time.Now())
		require.NoError(t, err)
		fundRec.Height = 90
		require.NoError(t, w.TxStore.InsertTx(txmgrNs, fundRec))

		changeAddr, err := w.Manager.NewChangeAddress(addrmgrNs)
		require.NoError(t, err)
		changeScript, err := txscript.PayToAddrScript(changeAddr)
		require.NoError(t, err)

		tx = wire.NewMsgTx(wire.TxVersion)
		txIn := wire.NewTxIn(
			wire.NewOutPoint(&fundRec.Hash, 0), nil, nil,
		)
		txIn.Sequence = shape.sequence
		tx.AddTxIn(txIn)
		tx.AddTxOut(wire.NewTxOut(shape.payValue, foreignScript))
		tx.AddTxOut(wire.NewTxOut(shape.changeValue, changeScript))

		signer := txauthor.NewSecretsSigner(w.Manager.Secrets(addrmgrNs))
		err = txauthor.AddAllInputScripts(
			tx, []*wire.TxOut{funding.TxOut[0]}, signer,
		)
		require.NoError(t, err)

		rec, err := wtxmgr.NewTxRecordFromMsgTx(tx, time.Now())
		require.NoError(t, err)

		return w.TxStore.InsertTx(txmgrNs, rec)
	})
	require.NoError(t, err)

	return tx
}

// txDetails fetches the store record of the transaction.
func txDetails(t *testing.T, w *Wallet,
	txHash chainhash.Hash) *wtxmgr.TxRecord {

	t.Helper()

	var rec *wtxmgr.TxRecord
	err := walletdb.View(w.db, func(dbtx walletdb.ReadTx) error {
		var err error
		rec, err = w.TxStore.TxDetails(
			dbtx.ReadBucket(wtxmgrNamespaceKey), &txHash,
		)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, rec)

	return rec
}

// requireKind asserts that err is a wallet error of the given kind.
func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()

	require.ErrorIs(t, err, kind, spew.Sdump(err))

	var walletErr *Error
	require.True(t, errors.As(err, &walletErr))

	return walletErr
}

// TestErrorKind checks matching errors by kind.
func TestErrorKind(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := newError(ErrBackend, "unable to publish transaction", cause)

	require.ErrorIs(t, err, ErrBackend)
	require.NotErrorIs(t, err, ErrDatabase)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "unable to publish transaction: boom", err.Error())

	require.Equal(t, "ErrNotEligible", ErrNotEligible.String())
	require.Equal(t, "Unknown ErrorKind (200)", ErrorKind(200).String())

	// The specific eligibility failures also match ErrNotEligible, but
	// not each other.
	bumped := errorf(ErrAlreadyBumped, "already bumped")
	require.ErrorIs(t, bumped, ErrAlreadyBumped)
	require.ErrorIs(t, bumped, ErrNotEligible)
	require.NotErrorIs(t, bumped, ErrHasDescendants)

	notEligible := errorf(ErrNotEligible, "not replaceable")
	require.NotErrorIs(t, notEligible, ErrAlreadyBumped)
	require.NotErrorIs(t, errorf(ErrFeeTooLow, "low"), ErrNotEligible)
}

// TestConfigValidate checks that invalid configs are refused.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		modify func(cfg *Config)
	}{
		{
			name: "no chain params",
			modify: func(cfg *Config) {
				cfg.ChainParams = nil
			},
		},
		{
			name: "no max fee",
			modify: func(cfg *Config) {
				cfg.MaxTxFee = 0
			},
		},
		{
			name: "no conf target",
			modify: func(cfg *Config) {
				cfg.ConfTarget = 0
			},
		},
		{
			name: "empty keypool",
			modify: func(cfg *Config) {
				cfg.KeyPoolSize = 0
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig(&chaincfg.RegressionNetParams)
			require.NoError(t, cfg.validate())

			tc.modify(cfg)
			require.Error(t, cfg.validate())
		})
	}
}

// TestMinimumFee checks the fee policy for a transaction size.
func TestMinimumFee(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		payTxFee unit.SatPerKVByte
		estimate fn.Option[unit.SatPerKVByte]
		relayFee unit.SatPerKVByte
		maxTxFee btcutil.Amount
		vsize    unit.VByte
		expected btcutil.Amount
	}{
		{
			name:     "pay tx fee",
			payTxFee: 10_000,
			estimate: fn.Some(unit.SatPerKVByte(5_000)),
			vsize:    150,
			expected: 1_500,
		},
		{
			name:     "smart fee estimate",
			estimate: fn.Some(unit.SatPerKVByte(5_000)),
			vsize:    150,
			expected: 750,
		},
		{
			name:     "fallback fee",
			estimate: fn.None[unit.SatPerKVByte](),
			vsize:    150,
			expected: 3_000,
		},
		{
			name:     "raised to min tx fee",
			payTxFee: 100,
			vsize:    150,
			expected: 150,
		},
		{
			name:     "raised to relay fee",
			payTxFee: 100,
			relayFee: 2_000,
			vsize:    150,
			expected: 300,
		},
		{
			name:     "capped at max tx fee",
			payTxFee: 20_000,
			maxTxFee: 1_000,
			vsize:    150,
			expected: 1_000,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w, chainClient := testWallet(t, func(cfg *Config) {
				cfg.PayTxFee = tc.payTxFee
				if tc.maxTxFee != 0 {
					cfg.MaxTxFee = tc.maxTxFee
				}
			})
			chainClient.estimate = tc.estimate
			if tc.relayFee != 0 {
				chainClient.relayFee = tc.relayFee
			}

			fee, err := w.MinimumFee(tc.vsize, DefaultConfTarget)
			require.NoError(t, err)
			require.Equal(t, tc.expected, fee)
		})
	}
}

// TestOpenMissingWallet checks that opening an uncreated wallet fails.
func TestOpenMissingWallet(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), WalletDBName)
	db, err := walletdb.Create("bdb", dbPath, true, 10*time.Second, false)
	require.NoError(t, err)
	defer db.Close()

	cfg := DefaultConfig(&chaincfg.RegressionNetParams)
	_, err = Open(db, newMockChainClient(), cfg)
	require.Error(t, err)
}

// TestLoader checks creating, opening and unloading wallets.
func TestLoader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := DefaultConfig(&chaincfg.RegressionNetParams)
	cfg.KeyPoolSize = 3
	loader := NewLoader(cfg, dir, 10*time.Second)

	exists, err := loader.WalletExists()
	require.NoError(t, err)
	require.False(t, exists)

	_, err = loader.OpenExistingWallet(newMockChainClient())
	require.Error(t, err)

	w, err := loader.CreateNewWallet(nil, newMockChainClient())
	require.NoError(t, err)

	loaded, ok := loader.LoadedWallet()
	require.True(t, ok)
	require.Equal(t, w, loaded)

	_, err = loader.CreateNewWallet(nil, newMockChainClient())
	require.ErrorIs(t, err, ErrLoaded)

	require.NoError(t, loader.UnloadWallet())
	require.ErrorIs(t, loader.UnloadWallet(), ErrNotLoaded)

	_, err = loader.CreateNewWallet(nil, newMockChainClient())
	require.ErrorIs(t, err, ErrExists)

	_, err = loader.OpenExistingWallet(newMockChainClient())
	require.NoError(t, err)
	require.NoError(t, loader.UnloadWallet())
}

// TestSyncUnmined checks that mined replacements mark the transactions they
// replaced as conflicted.
func TestSyncUnmined(t *testing.T) {
	t.Parallel()

	w, chainClient := testWallet(t, nil)

	orig := addWalletTx(t, w, txShape{
		payValue:    50_000,
		changeValue: 49_000,
		fee:         1_000,
	})
	origHash := orig.TxHash()

	result, err := w.BumpFee(&origHash, &BumpFeeRequest{
		TotalFee: fn.Some(btcutil.Amount(2_000)),
	})
	require.NoError(t, err)

	// Nothing changes while both are unconfirmed.
	require.NoError(t, w.syncUnmined())
	require.False(t, txDetails(t, w, origHash).Meta.Conflicted)

	chainClient.setConfirmation(origHash, &chain.TxConfirmation{
		Status: chain.TxNotFound,
	})
	chainClient.setConfirmation(result.Txid, &chain.TxConfirmation{
		Status: chain.TxMined,
		Height: 101,
	})
	require.NoError(t, w.syncUnmined())

	replacement := txDetails(t, w, result.Txid)
	require.True(t, replacement.Mined())
	require.EqualValues(t, 101, replacement.Height)

	original := txDetails(t, w, origHash)
	require.False(t, original.Mined())
	require.True(t, original.Meta.Conflicted)
}

// TestSyncUnminedOriginalMined checks that replacements of a mined original
// are conflicted and can no longer be bumped.
func TestSyncUnminedOriginalMined(t *testing.T) {
	t.Parallel()

	w, chainClient := testWallet(t, nil)

	orig := addWalletTx(t, w, defaultTxShape)
	origHash := orig.TxHash()

	first, err := w.BumpFee(&origHash, &BumpFeeRequest{
		TotalFee: fn.Some(btcutil.Amount(2_000)),
	})
	require.NoError(t, err)
	second, err := w.BumpFee(&first.Txid, &BumpFeeRequest{
		TotalFee: fn.Some(btcutil.Amount(3_000)),
	})
	require.NoError(t, err)

	chainClient.setConfirmation(origHash, &chain.TxConfirmation{
		Status: chain.TxMined,
		Height: 101,
	})
	require.NoError(t, w.syncUnmined())

	require.True(t, txDetails(t, w, origHash).Mined())
	require.True(t, txDetails(t, w, first.Txid).Meta.Conflicted)
	require.True(t, txDetails(t, w, second.Txid).Meta.Conflicted)
	require.Zero(t, unminedCount(t, w))

	_, err = w.BumpFee(&second.Txid, &BumpFeeRequest{
		TotalFee: fn.Some(btcutil.Amount(4_000)),
	})
	requireKind(t, err, ErrNotEligible)
	require.Len(t, chainClient.publishedTxs(), 2)
}

// TestConfirmationWatcher checks that the watcher records confirmations on
// each tick.
func TestConfirmationWatcher(t *testing.T) {
	t.Parallel()

	w, chainClient := testWallet(t, nil)

	forceTicker := ticker.NewForce(time.Hour)
	w.syncTicker = forceTicker

	tx := addWalletTx(t, w, txShape{
		payValue:    50_000,
		changeValue: 49_000,
		fee:         1_000,
	})
	txHash := tx.TxHash()

	w.Start()
	defer func() {
		w.Stop()
		w.WaitForShutdown()
	}()

	chainClient.setConfirmation(txHash, &chain.TxConfirmation{
		Status: chain.TxMined,
		Height: 105,
	})
	forceTicker.Force <- time.Now()

	require.Eventually(t, func() bool {
		var mined bool
		err := walletdb.View(w.db, func(dbtx walletdb.ReadTx) error {
			rec, err := w.TxStore.TxDetails(
				dbtx.ReadBucket(wtxmgrNamespaceKey), &txHash,
			)
			if err != nil {
				return err
			}
			mined = rec.Mined()

			return nil
		})

		return err == nil && mined
	}, 5*time.Second, 10*time.Millisecond)

	// A mined transaction is no longer eligible for a bump.
	_, err := w.BumpFee(&txHash, nil)
	requireKind(t, err, ErrNotEligible)
}
