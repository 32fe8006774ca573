// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/rbfwallet/wallet/txauthor"
)

// secretSource looks up the secrets of wallet keys within a database
// transaction.
type secretSource struct {
	m  *Manager
	ns walletdb.ReadBucket
}

// A compile-time assertion to ensure secretSource implements
// txauthor.SecretsSource.
var _ txauthor.SecretsSource = (*secretSource)(nil)

// Secrets returns a txauthor.SecretsSource for the wallet keys. It is only
// valid for the lifetime of the database transaction ns belongs to.
func (m *Manager) Secrets(ns walletdb.ReadBucket) txauthor.SecretsSource {
	return &secretSource{m: m, ns: ns}
}

// GetKey returns the private key for the address.
//
// NOTE: This is part of the txscript.KeyDB interface.
func (s *secretSource) GetKey(addr btcutil.Address) (*btcec.PrivateKey, bool,
	error) {

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, false, err
	}

	privKey, err := s.m.PrivKey(s.ns, pkScript)
	if err != nil {
		return nil, false, err
	}

	// All wallet keys are used in their compressed form.
	return privKey, true, nil
}

// GetScript returns the redeem script of a nested P2WPKH address of the
// wallet.
//
// NOTE: This is part of the txscript.ScriptDB interface.
func (s *secretSource) GetScript(addr btcutil.Address) ([]byte, error) {
	if _, ok := addr.(*btcutil.AddressScriptHash); !ok {
		str := fmt.Sprintf("no script for address %v",
			addr.EncodeAddress())
		return nil, managerError(ErrAddressNotFound, str, nil)
	}

	privKey, _, err := s.GetKey(addr)
	if err != nil {
		return nil, err
	}

	pkHash := btcutil.Hash160(privKey.PubKey().SerializeCompressed())
	p2wkh, err := btcutil.NewAddressWitnessPubKeyHash(
		pkHash, s.m.chainParams,
	)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(p2wkh)
}

// ChainParams returns the network parameters of the wallet.
func (s *secretSource) ChainParams() *chaincfg.Params {
	return s.m.chainParams
}
