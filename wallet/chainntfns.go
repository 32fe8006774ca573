// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/rbfwallet/wtxmgr"
)

// insertTx records the transaction and marks every output paying to a wallet
// key as a credit.
func (w *Wallet) insertTx(addrmgrNs walletdb.ReadBucket,
	txmgrNs walletdb.ReadWriteBucket, rec *wtxmgr.TxRecord) error {

	if err := w.TxStore.InsertTx(txmgrNs, rec); err != nil {
		return err
	}

	for i, output := range rec.MsgTx.TxOut {
		mine, err := w.Manager.IsMine(addrmgrNs, output.PkScript)
		if err != nil {
			return err
		}
		if !mine {
			continue
		}

		err = w.TxStore.AddCredit(txmgrNs, &rec.Hash, uint32(i))
		if err != nil {
			return err
		}
	}

	return nil
}

// addRelevantTx records a transaction seen in a block or in the mempool when
// it pays to a wallet key or spends a wallet output. The height is -1 for
// mempool transactions. Mined transactions which are not relevant are still
// checked for double spends of unmined wallet transactions.
func (w *Wallet) addRelevantTx(addrmgrNs walletdb.ReadBucket,
	txmgrNs walletdb.ReadWriteBucket, tx *wire.MsgTx, height int32) error {

	rec, err := wtxmgr.NewTxRecordFromMsgTx(tx, time.Now())
	if err != nil {
		return err
	}
	rec.Height = height

	existing, err := w.TxStore.TxDetails(txmgrNs, &rec.Hash)
	if err != nil {
		return err
	}

	relevant := existing != nil
	for _, txIn := range tx.TxIn {
		if relevant {
			break
		}
		relevant = w.TxStore.IsCredit(txmgrNs, &txIn.PreviousOutPoint)
	}
	for _, output := range tx.TxOut {
		if relevant {
			break
		}
		relevant, err = w.Manager.IsMine(addrmgrNs, output.PkScript)
		if err != nil {
			return err
		}
	}

	switch {
	case relevant:
		if existing == nil {
			log.Infof("Recording wallet transaction %v", rec.Hash)
		}
		return w.insertTx(addrmgrNs, txmgrNs, rec)

	// A foreign transaction may still double spend a wallet
	// transaction, e.g. a swept key used elsewhere.
	case rec.Mined():
		return w.conflictDoubleSpends(txmgrNs, rec)
	}

	return nil
}

// conflictDoubleSpends marks the wallet transactions spending an input of a
// mined foreign transaction as conflicted.
func (w *Wallet) conflictDoubleSpends(txmgrNs walletdb.ReadWriteBucket,
	rec *wtxmgr.TxRecord) error {

	for _, txIn := range rec.MsgTx.TxIn {
		spenders, err := w.TxStore.Spenders(
			txmgrNs, &txIn.PreviousOutPoint,
		)
		if err != nil {
			return err
		}
		if len(spenders) == 0 {
			continue
		}

		// Recording the mined double spend conflicts every
		// spender through the spend index.
		return w.TxStore.InsertTx(txmgrNs, rec)
	}

	return nil
}

// syncChain records the wallet transactions of the blocks connected since the
// last scan and of the mempool. A wallet scanning for the first time starts
// at the best block, since its keys were never handed out before.
func (w *Wallet) syncChain() error {
	release := w.guard.acquire()
	defer release()

	best, err := w.chainClient.BestHeight()
	if err != nil {
		return err
	}

	var synced int32
	err = walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		txmgrNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)

		height, err := w.TxStore.SyncedHeight(txmgrNs)
		if err != nil {
			return err
		}

		switch {
		case height.IsNone():
			synced = best
			return w.TxStore.SetSyncedHeight(txmgrNs, best)

		// The chain was reorganized to a shorter one. Transactions
		// of the disconnected blocks keep their recorded height.
		case height.UnwrapOr(0) > best:
			log.Warnf("Best height %d below synced height %d",
				best, height.UnwrapOr(0))
			synced = best
			return w.TxStore.SetSyncedHeight(txmgrNs, best)
		}

		synced = height.UnwrapOr(best)
		return nil
	})
	if err != nil {
		return err
	}

	for height := synced + 1; height <= best; height++ {
		if w.ShuttingDown() {
			return nil
		}

		txs, err := w.chainClient.BlockTransactions(height)
		if err != nil {
			return err
		}

		err = w.addRelevantTxs(txs, height)
		if err != nil {
			return err
		}
	}

	txs, err := w.chainClient.MempoolTransactions()
	if err != nil {
		return err
	}

	return w.addRelevantTxs(txs, -1)
}

// addRelevantTxs records the relevant transactions of a block, or of the
// mempool when height is -1, and advances the synced height past the block.
func (w *Wallet) addRelevantTxs(txs []*wire.MsgTx, height int32) error {
	return walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)
		txmgrNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)

		for _, msgTx := range txs {
			err := w.addRelevantTx(addrmgrNs, txmgrNs, msgTx, height)
			if err != nil {
				return err
			}
		}

		if height < 0 {
			return nil
		}

		return w.TxStore.SetSyncedHeight(txmgrNs, height)
	})
}
