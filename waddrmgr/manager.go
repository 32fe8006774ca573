// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package waddrmgr manages the keys of the wallet: the HD key chain they are
// derived from, the keypool of keys generated ahead of use, the scripts paying
// to wallet keys and the address book.
package waddrmgr

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/walletdb"
)

// Manager derives and tracks the keys of the wallet.
//
// Keys handed out through the keypool are first reserved in memory. A
// reserved key is not handed out again until it is returned, and is removed
// from the keypool for good once it is kept.
type Manager struct {
	chainParams *chaincfg.Params

	// branchKeys are the extended private keys of the external and
	// internal branches.
	branchKeys [2]*hdkeychain.ExtendedKey

	mtx      sync.Mutex
	reserved map[uint32]struct{}
}

// Create creates a new address manager in the given namespace. The key chain
// is derived from seed.
func Create(ns walletdb.ReadWriteBucket, seed []byte,
	chainParams *chaincfg.Params) error {

	root, err := hdkeychain.NewMaster(seed, chainParams)
	if err != nil {
		str := "failed to derive master extended key"
		return managerError(ErrKeyChain, str, err)
	}

	acctKey, err := root.Derive(hdkeychain.HardenedKeyStart)
	if err != nil {
		str := "failed to derive account key"
		return managerError(ErrKeyChain, str, err)
	}

	return createManagerNS(ns, acctKey.String())
}

// Open loads an existing address manager from the given namespace.
func Open(ns walletdb.ReadBucket, chainParams *chaincfg.Params) (*Manager,
	error) {

	version, err := fetchUint32(ns, mgrVersionName)
	if err != nil {
		return nil, err
	}
	switch version {
	case 0:
		str := "the specified address manager does not exist"
		return nil, managerError(ErrNoExist, str, nil)

	case LatestMgrVersion:

	default:
		str := fmt.Sprintf("unknown address manager version %d",
			version)
		return nil, managerError(ErrData, str, nil)
	}

	acctKey, err := hdkeychain.NewKeyFromString(
		string(ns.Get(masterKeyName)),
	)
	if err != nil {
		str := "failed to decode account key"
		return nil, managerError(ErrData, str, err)
	}
	if !acctKey.IsForNet(chainParams) {
		str := "account key is for a different network"
		return nil, managerError(ErrInput, str, nil)
	}

	m := &Manager{
		chainParams: chainParams,
		reserved:    make(map[uint32]struct{}),
	}
	for _, branch := range []uint32{externalBranch, internalBranch} {
		m.branchKeys[branch], err = acctKey.Derive(branch)
		if err != nil {
			str := fmt.Sprintf("failed to derive branch %d", branch)
			return nil, managerError(ErrKeyChain, str, err)
		}
	}

	return m, nil
}

// ChainParams returns the network parameters of the manager.
func (m *Manager) ChainParams() *chaincfg.Params {
	return m.chainParams
}

// deriveKey derives the extended key at the path.
func (m *Manager) deriveKey(p keyPath) (*hdkeychain.ExtendedKey, error) {
	if p.branch > internalBranch {
		str := fmt.Sprintf("unknown branch %d", p.branch)
		return nil, managerError(ErrInput, str, nil)
	}

	key, err := m.branchKeys[p.branch].Derive(p.index)
	if err != nil {
		str := fmt.Sprintf("failed to derive key %d/%d", p.branch,
			p.index)
		return nil, managerError(ErrKeyChain, str, err)
	}

	return key, nil
}

// pubKey returns the public key at the path.
func (m *Manager) pubKey(p keyPath) (*btcec.PublicKey, error) {
	key, err := m.deriveKey(p)
	if err != nil {
		return nil, err
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		str := "failed to convert extended public key"
		return nil, managerError(ErrKeyChain, str, err)
	}

	return pubKey, nil
}

// nextKey derives the next unused key of the branch and indexes all scripts
// paying to it.
func (m *Manager) nextKey(ns walletdb.ReadWriteBucket,
	branch uint32) (keyPath, error) {

	next, err := fetchUint32(ns, nextIndexName(branch))
	if err != nil {
		return keyPath{}, err
	}

	for {
		p := keyPath{branch: branch, index: next}
		next++

		pubKey, err := m.pubKey(p)
		if errors.Is(err, hdkeychain.ErrInvalidChild) {
			// The index is unusable, so skip to the next one.
			log.Debugf("Skipping invalid child %d/%d", p.branch,
				p.index)
			continue
		}
		if err != nil {
			return keyPath{}, err
		}

		err = putUint32(ns, nextIndexName(branch), next)
		if err != nil {
			return keyPath{}, err
		}

		scripts, err := scriptsForPubKey(pubKey, m.chainParams)
		if err != nil {
			return keyPath{}, err
		}
		for _, pkScript := range scripts {
			if err := putScript(ns, pkScript, p); err != nil {
				return keyPath{}, err
			}
		}

		return p, nil
	}
}

// scriptsForPubKey returns the P2PKH, P2PK, P2WPKH and nested P2WPKH output
// scripts paying to the key.
func scriptsForPubKey(pubKey *btcec.PublicKey,
	params *chaincfg.Params) ([][]byte, error) {

	serialized := pubKey.SerializeCompressed()
	pkHash := btcutil.Hash160(serialized)

	p2pkh, err := btcutil.NewAddressPubKeyHash(pkHash, params)
	if err != nil {
		return nil, err
	}
	p2pk, err := btcutil.NewAddressPubKey(serialized, params)
	if err != nil {
		return nil, err
	}
	p2wkh, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	if err != nil {
		return nil, err
	}
	witnessProgram, err := txscript.PayToAddrScript(p2wkh)
	if err != nil {
		return nil, err
	}
	np2wkh, err := btcutil.NewAddressScriptHash(witnessProgram, params)
	if err != nil {
		return nil, err
	}

	scripts := [][]byte{witnessProgram}
	for _, addr := range []btcutil.Address{p2pkh, p2pk, np2wkh} {
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, pkScript)
	}

	return scripts, nil
}

// TopUpKeyPool generates keys until the keypool holds at least size keys.
func (m *Manager) TopUpKeyPool(ns walletdb.ReadWriteBucket, size int) error {
	pool := ns.NestedReadWriteBucket(keyPoolBucketName)

	var count int
	err := pool.ForEach(func(_, _ []byte) error {
		count++
		return nil
	})
	if err != nil {
		str := "failed to read keypool"
		return managerError(ErrDatabase, str, err)
	}

	for ; count < size; count++ {
		p, err := m.nextKey(ns, externalBranch)
		if err != nil {
			return err
		}

		if err := pool.Put(uint32Bytes(p.index), []byte{}); err != nil {
			str := "failed to add key to keypool"
			return managerError(ErrDatabase, str, err)
		}

		log.Tracef("Added key %d to keypool", p.index)
	}

	return nil
}

// ReserveKey reserves the oldest keypool key that is not already reserved
// and returns its index. ErrKeypoolRanOut is returned when every key of the
// keypool is reserved.
func (m *Manager) ReserveKey(ns walletdb.ReadBucket) (uint32, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	c := ns.NestedReadBucket(keyPoolBucketName).ReadCursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if len(k) != 4 {
			str := "malformed keypool entry"
			return 0, managerError(ErrData, str, nil)
		}

		index := byteOrder.Uint32(k)
		if _, ok := m.reserved[index]; ok {
			continue
		}

		m.reserved[index] = struct{}{}
		return index, nil
	}

	str := "keypool ran out"
	return 0, managerError(ErrKeypoolRanOut, str, nil)
}

// KeepKey removes a reserved key from the keypool for good.
func (m *Manager) KeepKey(ns walletdb.ReadWriteBucket, index uint32) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	err := ns.NestedReadWriteBucket(keyPoolBucketName).Delete(
		uint32Bytes(index),
	)
	if err != nil {
		str := fmt.Sprintf("failed to remove key %d from keypool",
			index)
		return managerError(ErrDatabase, str, err)
	}

	delete(m.reserved, index)

	return nil
}

// ReturnKey releases the reservation of a keypool key so it can be handed
// out again.
func (m *Manager) ReturnKey(index uint32) {
	m.mtx.Lock()
	delete(m.reserved, index)
	m.mtx.Unlock()
}

// KeyAddress returns the P2PKH address of the external key at index.
func (m *Manager) KeyAddress(index uint32) (*btcutil.AddressPubKeyHash,
	error) {

	pubKey, err := m.pubKey(keyPath{branch: externalBranch, index: index})
	if err != nil {
		return nil, err
	}

	pkHash := btcutil.Hash160(pubKey.SerializeCompressed())

	return btcutil.NewAddressPubKeyHash(pkHash, m.chainParams)
}

// NewAddress derives a new external key and returns its P2WPKH address.
func (m *Manager) NewAddress(ns walletdb.ReadWriteBucket) (btcutil.Address,
	error) {

	return m.newWitnessAddress(ns, externalBranch)
}

// NewChangeAddress derives a new internal key and returns its P2WPKH
// address.
func (m *Manager) NewChangeAddress(
	ns walletdb.ReadWriteBucket) (btcutil.Address, error) {

	return m.newWitnessAddress(ns, internalBranch)
}

func (m *Manager) newWitnessAddress(ns walletdb.ReadWriteBucket,
	branch uint32) (btcutil.Address, error) {

	p, err := m.nextKey(ns, branch)
	if err != nil {
		return nil, err
	}

	pubKey, err := m.pubKey(p)
	if err != nil {
		return nil, err
	}

	return btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), m.chainParams,
	)
}

// IsMine returns whether the output script pays to a wallet key.
func (m *Manager) IsMine(ns walletdb.ReadBucket, pkScript []byte) (bool,
	error) {

	_, ok, err := fetchScript(ns, pkScript)
	return ok, err
}

// IsOwnChange returns whether the output script pays to a wallet key whose
// address has no address book entry.
func (m *Manager) IsOwnChange(ns walletdb.ReadBucket, pkScript []byte) (bool,
	error) {

	mine, err := m.IsMine(ns, pkScript)
	if err != nil || !mine {
		return false, err
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		pkScript, m.chainParams,
	)
	if err != nil || len(addrs) != 1 {
		return false, err
	}

	entry, err := fetchAddrBookEntry(ns, addrs[0].EncodeAddress())
	if err != nil {
		return false, err
	}

	return entry == nil, nil
}

// PrivKey returns the private key of the wallet key the output script pays
// to.
func (m *Manager) PrivKey(ns walletdb.ReadBucket,
	pkScript []byte) (*btcec.PrivateKey, error) {

	p, ok, err := fetchScript(ns, pkScript)
	if err != nil {
		return nil, err
	}
	if !ok {
		str := "script does not pay to a wallet key"
		return nil, managerError(ErrAddressNotFound, str, nil)
	}

	key, err := m.deriveKey(p)
	if err != nil {
		return nil, err
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		str := "failed to convert extended private key"
		return nil, managerError(ErrKeyChain, str, err)
	}

	return privKey, nil
}

// SetAddressBook creates or updates the address book entry of the address.
func (m *Manager) SetAddressBook(ns walletdb.ReadWriteBucket,
	addr btcutil.Address, label, purpose string) error {

	return putAddrBookEntry(ns, addr.EncodeAddress(), &AddressBookEntry{
		Label:   label,
		Purpose: purpose,
	})
}

// DeleteAddressBook removes the address book entry of the address, if any.
func (m *Manager) DeleteAddressBook(ns walletdb.ReadWriteBucket,
	addr btcutil.Address) error {

	return deleteAddrBookEntry(ns, addr.EncodeAddress())
}

// AddressBookEntry returns the address book entry of the address, or nil
// when the address has none.
func (m *Manager) AddressBookEntry(ns walletdb.ReadBucket,
	addr btcutil.Address) (*AddressBookEntry, error) {

	return fetchAddrBookEntry(ns, addr.EncodeAddress())
}
