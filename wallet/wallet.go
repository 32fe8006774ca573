// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet implements the fee bump and key sweep operations of the
// wallet on top of its address manager, transaction store and chain backend.
package wallet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/rbfwallet/chain"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/btcsuite/rbfwallet/waddrmgr"
	"github.com/btcsuite/rbfwallet/wallet/txauthor"
	"github.com/btcsuite/rbfwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultConfTarget is the confirmation target used for fee estimates
	// when none is requested.
	DefaultConfTarget = 6

	// DefaultKeyPoolSize is the number of keys kept ahead of use.
	DefaultKeyPoolSize = 100

	// DefaultSyncInterval is how often the confirmation state of unmined
	// transactions is refreshed.
	DefaultSyncInterval = 30 * time.Second

	// DefaultFallbackFee is the fee rate used when the backend has no
	// estimate.
	DefaultFallbackFee unit.SatPerKVByte = 20_000

	// DefaultMinTxFee is the lowest fee rate the wallet pays.
	DefaultMinTxFee unit.SatPerKVByte = 1_000

	// DefaultMaxTxFee is the highest absolute fee the wallet pays.
	DefaultMaxTxFee btcutil.Amount = 10_000_000
)

// Namespace bucket keys.
var (
	waddrmgrNamespaceKey = []byte("waddrmgr")
	wtxmgrNamespaceKey   = []byte("wtxmgr")
)

var (
	// ErrNoChainParams is returned when a config lacks network parameters.
	ErrNoChainParams = errors.New("no chain parameters configured")

	// ErrInvalidFeeConfig is returned for a config with inconsistent fee
	// limits.
	ErrInvalidFeeConfig = errors.New("invalid fee configuration")
)

// Config holds the fee policy and tuning of a wallet.
type Config struct {
	ChainParams *chaincfg.Params

	// PayTxFee is a fixed fee rate to pay. Zero lets the backend estimate
	// the rate.
	PayTxFee unit.SatPerKVByte

	// FallbackFee is used when the backend has no fee estimate.
	FallbackFee unit.SatPerKVByte

	// MinTxFee is the lowest fee rate paid by the wallet.
	MinTxFee unit.SatPerKVByte

	// MaxTxFee is the highest absolute fee paid by the wallet.
	MaxTxFee btcutil.Amount

	// ConfTarget is the default confirmation target in blocks.
	ConfTarget uint32

	// KeyPoolSize is the number of keys generated ahead of use.
	KeyPoolSize int

	// SyncInterval is how often unmined transactions are checked for
	// confirmation.
	SyncInterval time.Duration
}

// DefaultConfig returns the default config for the network.
func DefaultConfig(chainParams *chaincfg.Params) *Config {
	return &Config{
		ChainParams:  chainParams,
		FallbackFee:  DefaultFallbackFee,
		MinTxFee:     DefaultMinTxFee,
		MaxTxFee:     DefaultMaxTxFee,
		ConfTarget:   DefaultConfTarget,
		KeyPoolSize:  DefaultKeyPoolSize,
		SyncInterval: DefaultSyncInterval,
	}
}

func (c *Config) validate() error {
	switch {
	case c.ChainParams == nil:
		return ErrNoChainParams

	case c.MaxTxFee <= 0:
		return fmt.Errorf("%w: max tx fee %v", ErrInvalidFeeConfig,
			c.MaxTxFee)

	case c.ConfTarget == 0:
		return fmt.Errorf("%w: conf target must be positive",
			ErrInvalidFeeConfig)

	case c.KeyPoolSize <= 0:
		return fmt.Errorf("%w: keypool size must be positive",
			ErrInvalidFeeConfig)

	case c.SyncInterval <= 0:
		return fmt.Errorf("%w: sync interval must be positive",
			ErrInvalidFeeConfig)
	}

	return nil
}

// Wallet is a structure containing all the components for a wallet able to
// bump the fee of its transactions and to sweep external keys.
type Wallet struct {
	cfg Config

	// Data stores
	db      walletdb.DB
	Manager *waddrmgr.Manager
	TxStore *wtxmgr.Store

	chainClient chain.Interface

	// newSigner creates the signer of new transactions from the source of
	// their keys.
	newSigner func(txauthor.SecretsSource) txauthor.Signer

	// guard serializes the operations reading chain state and mutating
	// the wallet.
	guard opGuard

	syncTicker ticker.Ticker

	started bool
	quit    chan struct{}
	wg      sync.WaitGroup

	quitMu sync.Mutex
}

// Create creates a new wallet in the database. Keys are derived from seed.
func Create(db walletdb.DB, seed []byte, chainParams *chaincfg.Params) error {
	return walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs, err := tx.CreateTopLevelBucket(waddrmgrNamespaceKey)
		if err != nil {
			return err
		}
		txmgrNs, err := tx.CreateTopLevelBucket(wtxmgrNamespaceKey)
		if err != nil {
			return err
		}

		err = waddrmgr.Create(addrmgrNs, seed, chainParams)
		if err != nil {
			return err
		}

		return wtxmgr.Create(txmgrNs)
	})
}

// Open loads an already-created wallet from the database and fills its
// keypool.
func Open(db walletdb.DB, chainClient chain.Interface,
	cfg *Config) (*Wallet, error) {

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var (
		addrMgr *waddrmgr.Manager
		txMgr   *wtxmgr.Store
	)
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)
		txmgrNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)
		if addrmgrNs == nil || txmgrNs == nil {
			return waddrmgr.ManagerError{
				ErrorCode:   waddrmgr.ErrNoExist,
				Description: "wallet namespaces do not exist",
			}
		}

		var err error
		addrMgr, err = waddrmgr.Open(addrmgrNs, cfg.ChainParams)
		if err != nil {
			return err
		}
		txMgr, err = wtxmgr.Open(txmgrNs, cfg.ChainParams)
		if err != nil {
			return err
		}

		return addrMgr.TopUpKeyPool(addrmgrNs, cfg.KeyPoolSize)
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Opened wallet on %v", cfg.ChainParams.Name)

	w := &Wallet{
		cfg:         *cfg,
		db:          db,
		Manager:     addrMgr,
		TxStore:     txMgr,
		chainClient: chainClient,
		newSigner:   newSecretsSigner,
		syncTicker:  ticker.New(cfg.SyncInterval),
		quit:        make(chan struct{}),
	}

	return w, nil
}

// newSecretsSigner signs with the keys of the source.
func newSecretsSigner(secrets txauthor.SecretsSource) txauthor.Signer {
	return txauthor.NewSecretsSigner(secrets)
}

// ChainParams returns the network parameters for the blockchain the wallet
// belongs to.
func (w *Wallet) ChainParams() *chaincfg.Params {
	return w.cfg.ChainParams
}

// Database returns the underlying walletdb database.
func (w *Wallet) Database() walletdb.DB {
	return w.db
}

// Start starts the goroutine tracking the confirmation of unmined wallet
// transactions.
func (w *Wallet) Start() {
	w.quitMu.Lock()
	defer w.quitMu.Unlock()

	select {
	case <-w.quit:
		// Restart the wallet goroutines after shutdown finishes.
		w.WaitForShutdown()
		w.quit = make(chan struct{})
	default:
		if w.started {
			// Ignore when the wallet is still running.
			return
		}
	}
	w.started = true

	w.wg.Add(1)
	go w.confirmationWatcher()
}

// quitChan atomically reads the quit channel.
func (w *Wallet) quitChan() <-chan struct{} {
	w.quitMu.Lock()
	c := w.quit
	w.quitMu.Unlock()
	return c
}

// Stop signals all wallet goroutines to shutdown.
func (w *Wallet) Stop() {
	w.quitMu.Lock()
	defer w.quitMu.Unlock()

	select {
	case <-w.quit:
	default:
		close(w.quit)
		w.started = false
	}
}

// ShuttingDown returns whether the wallet is currently in the process of
// shutting down or not.
func (w *Wallet) ShuttingDown() bool {
	select {
	case <-w.quitChan():
		return true
	default:
		return false
	}
}

// WaitForShutdown blocks until all wallet goroutines have finished executing.
func (w *Wallet) WaitForShutdown() {
	w.wg.Wait()
}
