// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txauthor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrUnknownKey is returned when no key is held for an address.
	ErrUnknownKey = errors.New("no key for address")

	// ErrUnsupportedAddress is returned for address types whose key
	// cannot be looked up by hash.
	ErrUnsupportedAddress = errors.New("unsupported address type")

	// ErrWrongNetwork is returned when a WIF key encodes a different
	// network than the one of the store.
	ErrWrongNetwork = errors.New("key is for a different network")
)

// AddressKeyHash returns the 20 byte hash a key is indexed under for the
// given address.
func AddressKeyHash(addr btcutil.Address) ([]byte, error) {
	switch a := addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return a.Hash160()[:], nil

	case *btcutil.AddressWitnessPubKeyHash:
		return a.WitnessProgram(), nil

	case *btcutil.AddressPubKey:
		return btcutil.Hash160(a.ScriptAddress()), nil

	case *btcutil.AddressScriptHash:
		return a.Hash160()[:], nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAddress, addr)
	}
}

// storedKey is a private key along with the encoding of its public key.
type storedKey struct {
	priv       *btcec.PrivateKey
	compressed bool
}

// KeyStore is an in-memory SecretsSource for keys that are not part of the
// wallet, such as imported keys being swept.
type KeyStore struct {
	params *chaincfg.Params

	mu   sync.RWMutex
	keys map[[20]byte]storedKey
}

// A compile-time assertion to ensure KeyStore implements SecretsSource.
var _ SecretsSource = (*KeyStore)(nil)

// NewKeyStore returns an empty key store for the given network.
func NewKeyStore(params *chaincfg.Params) *KeyStore {
	return &KeyStore{
		params: params,
		keys:   make(map[[20]byte]storedKey),
	}
}

// AddKey adds the key of a decoded WIF to the store. The key can then be
// looked up by its pay-to-pubkey, pay-to-pubkey-hash, pay-to-witness-pubkey-hash
// and nested witness addresses.
func (k *KeyStore) AddKey(wif *btcutil.WIF) error {
	if !wif.IsForNet(k.params) {
		return ErrWrongNetwork
	}

	pkHash := btcutil.Hash160(wif.SerializePubKey())
	witnessProgram, err := witnessProgramForHash(pkHash, k.params)
	if err != nil {
		return err
	}
	nestedHash := btcutil.Hash160(witnessProgram)

	stored := storedKey{priv: wif.PrivKey, compressed: wif.CompressPubKey}

	k.mu.Lock()
	defer k.mu.Unlock()

	var idx [20]byte
	copy(idx[:], pkHash)
	k.keys[idx] = stored

	// Only compressed keys can be used in witness programs.
	if wif.CompressPubKey {
		copy(idx[:], nestedHash)
		k.keys[idx] = stored
	}

	return nil
}

// GetKey returns the private key for the address.
//
// NOTE: This is part of the txscript.KeyDB interface.
func (k *KeyStore) GetKey(addr btcutil.Address) (*btcec.PrivateKey, bool,
	error) {

	hash, err := AddressKeyHash(addr)
	if err != nil {
		return nil, false, err
	}

	var idx [20]byte
	copy(idx[:], hash)

	k.mu.RLock()
	stored, ok := k.keys[idx]
	k.mu.RUnlock()

	if !ok {
		return nil, false, fmt.Errorf("%w: %v", ErrUnknownKey,
			addr.EncodeAddress())
	}

	return stored.priv, stored.compressed, nil
}

// Zero clears every private key held by the store and empties it. The store
// must not be used for signing afterwards.
func (k *KeyStore) Zero() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for idx, stored := range k.keys {
		stored.priv.Zero()
		delete(k.keys, idx)
	}
}

// GetScript returns the redeem script of a nested witness address.
//
// NOTE: This is part of the txscript.ScriptDB interface.
func (k *KeyStore) GetScript(addr btcutil.Address) ([]byte, error) {
	if _, ok := addr.(*btcutil.AddressScriptHash); !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAddress, addr)
	}

	priv, compressed, err := k.GetKey(addr)
	if err != nil {
		return nil, err
	}
	if !compressed {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKey,
			addr.EncodeAddress())
	}

	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())

	return witnessProgramForHash(pkHash, k.params)
}

// ChainParams returns the network parameters of the store.
func (k *KeyStore) ChainParams() *chaincfg.Params {
	return k.params
}

// witnessProgramForHash returns the version 0 witness program paying to the
// given pubkey hash.
func witnessProgramForHash(pkHash []byte,
	params *chaincfg.Params) ([]byte, error) {

	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}
