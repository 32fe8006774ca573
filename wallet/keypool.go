// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/rbfwallet/waddrmgr"
)

// reservedKey is a keypool key held for a transaction under construction.
// Unless it is kept, release hands it back to the keypool.
type reservedKey struct {
	mgr   *waddrmgr.Manager
	index uint32
	addr  *btcutil.AddressPubKeyHash
	kept  bool
}

// reserveKey tops up the keypool and reserves its oldest key.
func (w *Wallet) reserveKey() (*reservedKey, error) {
	var index uint32
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)

		err := w.Manager.TopUpKeyPool(addrmgrNs, w.cfg.KeyPoolSize)
		if err != nil {
			return err
		}

		index, err = w.Manager.ReserveKey(addrmgrNs)
		return err
	})
	switch {
	case waddrmgr.IsError(err, waddrmgr.ErrKeypoolRanOut):
		return nil, newError(ErrKeypoolRanOut, "Keypool ran out, "+
			"please call keypoolrefill first", err)

	case err != nil:
		return nil, newError(ErrDatabase, "unable to reserve key", err)
	}

	r := &reservedKey{mgr: w.Manager, index: index}

	r.addr, err = w.Manager.KeyAddress(index)
	if err != nil {
		r.release()
		return nil, newError(ErrDatabase, "unable to derive reserved "+
			"key", err)
	}

	log.Debugf("Reserved keypool key %d", index)

	return r, nil
}

// keep removes the key from the keypool for good.
func (r *reservedKey) keep(addrmgrNs walletdb.ReadWriteBucket) error {
	if err := r.mgr.KeepKey(addrmgrNs, r.index); err != nil {
		return err
	}
	r.kept = true

	return nil
}

// release returns the key to the keypool. It does nothing once the key is
// kept.
func (r *reservedKey) release() {
	if r.kept {
		return
	}

	r.mgr.ReturnKey(r.index)
	log.Debugf("Returned keypool key %d", r.index)
}
