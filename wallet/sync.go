// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/rbfwallet/chain"
	"github.com/btcsuite/rbfwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// confirmationWatcher periodically scans the chain and the mempool for wallet
// transactions and refreshes the confirmation state of the unmined ones until
// the wallet is stopped.
func (w *Wallet) confirmationWatcher() {
	defer w.wg.Done()

	w.syncTicker.Resume()
	defer w.syncTicker.Pause()

	quit := w.quitChan()
	for {
		select {
		case <-w.syncTicker.Ticks():
			if err := w.syncChain(); err != nil {
				log.Errorf("Unable to scan the chain for "+
					"wallet transactions: %v", err)
			}
			if err := w.syncUnmined(); err != nil {
				log.Errorf("Unable to sync unmined "+
					"transactions: %v", err)
			}

		case <-quit:
			return
		}
	}
}

// syncUnmined asks the backend about every unmined wallet transaction and
// records the ones that were mined. Recording a mined transaction conflicts
// the other members of its replacement chain, whichever member was mined.
func (w *Wallet) syncUnmined() error {
	release := w.guard.acquire()
	defer release()

	var unmined []*wtxmgr.TxRecord
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		var err error
		unmined, err = w.TxStore.UnminedTxs(
			tx.ReadBucket(wtxmgrNamespaceKey),
		)
		return err
	})
	if err != nil {
		return err
	}

	// settled holds the transactions mined or conflicted during this
	// pass.
	settled := fn.NewSet[chainhash.Hash]()
	for _, rec := range unmined {
		if w.ShuttingDown() {
			return nil
		}
		if settled.Contains(rec.Hash) {
			continue
		}

		conf, err := w.chainClient.TxConfirmation(&rec.Hash)
		if err != nil {
			return err
		}

		switch conf.Status {
		case chain.TxMined:
			conflicts, err := w.recordMined(rec, conf.Height)
			if err != nil {
				return err
			}
			settled = settled.Union(conflicts)

		case chain.TxNotFound:
			log.Debugf("Unmined transaction %v is unknown to the "+
				"backend", rec.Hash)
		}
	}

	return nil
}

// recordMined records the block height of a mined transaction and returns
// the transactions that left the unmined set with it.
func (w *Wallet) recordMined(rec *wtxmgr.TxRecord,
	height int32) (fn.Set[chainhash.Hash], error) {

	settled := fn.NewSet(rec.Hash)
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		txmgrNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)

		before, err := w.TxStore.UnminedTxs(txmgrNs)
		if err != nil {
			return err
		}

		err = w.TxStore.SetMined(txmgrNs, &rec.Hash, height)
		if err != nil {
			return err
		}

		after, err := w.TxStore.UnminedTxs(txmgrNs)
		if err != nil {
			return err
		}

		remaining := fn.NewSet[chainhash.Hash]()
		for _, r := range after {
			remaining.Add(r.Hash)
		}
		for _, r := range before {
			if !remaining.Contains(r.Hash) {
				settled.Add(r.Hash)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return settled, nil
}
