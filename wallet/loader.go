// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/rbfwallet/chain"
	"github.com/btcsuite/rbfwallet/internal/zero"
)

const (
	// WalletDBName specified the database filename for the wallet.
	WalletDBName = "wallet.db"

	// DefaultDBTimeout is the default timeout value when opening the wallet
	// database.
	DefaultDBTimeout = 60 * time.Second
)

var (
	// ErrLoaded describes the error condition of attempting to load or
	// create a wallet when the loader has already done so.
	ErrLoaded = errors.New("wallet already loaded")

	// ErrNotLoaded describes the error condition of attempting to close a
	// loaded wallet when a wallet has not been loaded.
	ErrNotLoaded = errors.New("wallet is not loaded")

	// ErrExists describes the error condition of attempting to create a new
	// wallet when one exists already.
	ErrExists = errors.New("wallet already exists")
)

// Loader implements the creating of new and opening of existing wallets in a
// database directory.
//
// Loader is safe for concurrent access.
type Loader struct {
	cfg       *Config
	dbDirPath string
	timeout   time.Duration

	wallet *Wallet
	db     walletdb.DB
	mu     sync.Mutex
}

// NewLoader constructs a Loader for wallets stored under dbDirPath.
func NewLoader(cfg *Config, dbDirPath string,
	timeout time.Duration) *Loader {

	return &Loader{
		cfg:       cfg,
		dbDirPath: dbDirPath,
		timeout:   timeout,
	}
}

// CreateNewWallet creates a new wallet and starts it. The seed is optional.
// If non-nil, keys are derived from this seed. If nil, a secure random seed
// is generated.
func (l *Loader) CreateNewWallet(seed []byte,
	chainClient chain.Interface) (*Wallet, error) {

	defer l.mu.Unlock()
	l.mu.Lock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	dbPath := filepath.Join(l.dbDirPath, WalletDBName)
	exists, err := fileExists(dbPath)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrExists
	}

	if seed == nil {
		seed, err = hdkeychain.GenerateSeed(
			hdkeychain.RecommendedSeedLen,
		)
		if err != nil {
			return nil, err
		}

		// The generated seed is never shown to the caller, so it
		// can be cleared once the key manager has been created.
		defer zero.Bytes(seed)
	}

	// Create the wallet database backed by bolt db.
	if err := os.MkdirAll(l.dbDirPath, 0700); err != nil {
		return nil, err
	}
	db, err := walletdb.Create("bdb", dbPath, true, l.timeout, false)
	if err != nil {
		return nil, err
	}

	err = Create(db, seed, l.cfg.ChainParams)
	if err != nil {
		db.Close()
		return nil, err
	}

	return l.open(db, chainClient)
}

// OpenExistingWallet opens the wallet from the loader's wallet database path
// and starts it.
func (l *Loader) OpenExistingWallet(chainClient chain.Interface) (*Wallet,
	error) {

	defer l.mu.Unlock()
	l.mu.Lock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	dbPath := filepath.Join(l.dbDirPath, WalletDBName)
	db, err := walletdb.Open("bdb", dbPath, true, l.timeout, false)
	if err != nil {
		log.Errorf("Failed to open database: %v", err)
		return nil, err
	}

	return l.open(db, chainClient)
}

// open opens and starts the wallet in db. The database is closed when the
// wallet fails to open. Requires mutex to be locked.
func (l *Loader) open(db walletdb.DB, chainClient chain.Interface) (*Wallet,
	error) {

	w, err := Open(db, chainClient, l.cfg)
	if err != nil {
		if e := db.Close(); e != nil {
			log.Warnf("Error closing database: %v", e)
		}

		return nil, err
	}
	w.Start()

	l.wallet = w
	l.db = db

	return w, nil
}

// WalletExists returns whether a file exists at the loader's database path.
// This may return an error for unexpected I/O failures.
func (l *Loader) WalletExists() (bool, error) {
	dbPath := filepath.Join(l.dbDirPath, WalletDBName)
	return fileExists(dbPath)
}

// LoadedWallet returns the loaded wallet, if any, and a bool for whether the
// wallet has been loaded or not.  If true, the wallet pointer should be safe to
// dereference.
func (l *Loader) LoadedWallet() (*Wallet, bool) {
	l.mu.Lock()
	w := l.wallet
	l.mu.Unlock()
	return w, w != nil
}

// UnloadWallet stops the loaded wallet, if any, and closes the wallet database.
// This returns ErrNotLoaded if the wallet has not been loaded with
// CreateNewWallet or OpenExistingWallet.  The Loader may be reused if this
// function returns without error.
func (l *Loader) UnloadWallet() error {
	defer l.mu.Unlock()
	l.mu.Lock()

	if l.wallet == nil {
		return ErrNotLoaded
	}

	l.wallet.Stop()
	l.wallet.WaitForShutdown()
	if err := l.db.Close(); err != nil {
		return err
	}

	l.wallet = nil
	l.db = nil
	return nil
}

func fileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
