// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/btcsuite/rbfwallet/wallet/txauthor"
	"github.com/btcsuite/rbfwallet/wallet/txrules"
	"github.com/btcsuite/rbfwallet/wallet/txsizes"
	"github.com/btcsuite/rbfwallet/wtxmgr"
)

// SendRequest holds the parameters of a payment.
type SendRequest struct {
	Address btcutil.Address
	Amount  btcutil.Amount

	// Comment is recorded with the payment transaction.
	Comment string
}

// NewAddress returns a new receiving address of the wallet. The address is
// added to the address book with the label, so outputs paying to it are
// never taken for change.
func (w *Wallet) NewAddress(label string) (btcutil.Address, error) {
	release := w.guard.acquire()
	defer release()

	var addr btcutil.Address
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)

		var err error
		addr, err = w.Manager.NewAddress(addrmgrNs)
		if err != nil {
			return err
		}

		return w.Manager.SetAddressBook(
			addrmgrNs, addr, label, addressPurposeReceive,
		)
	})
	if err != nil {
		return nil, newError(ErrDatabase, "unable to create address",
			err)
	}

	return addr, nil
}

// spendableCredits returns the mined wallet outputs that can be spent at the
// next block, largest first. Unmined outputs are left out so payments never
// build on transactions that could still be bumped.
func (w *Wallet) spendableCredits(bestHeight int32) ([]wtxmgr.Credit,
	error) {

	var credits []wtxmgr.Credit
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		txmgrNs := tx.ReadBucket(wtxmgrNamespaceKey)

		unspent, err := w.TxStore.UnspentOutputs(txmgrNs)
		if err != nil {
			return err
		}

		maturity := int32(w.cfg.ChainParams.CoinbaseMaturity)
		for _, credit := range unspent {
			if credit.Height < 0 {
				continue
			}
			confs := bestHeight - credit.Height + 1
			if credit.FromCoinBase && confs < maturity {
				continue
			}

			credits = append(credits, credit)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(credits, func(i, j int) bool {
		return credits[i].Amount > credits[j].Amount
	})

	return credits, nil
}

// SendToAddress pays the amount to the address out of the mined outputs of
// the wallet. Every input signals opt-in replaceability and the remainder
// goes to a new change address, so the payment can later be bumped.
func (w *Wallet) SendToAddress(req *SendRequest) (*chainhash.Hash, error) {
	if req.Amount <= 0 {
		return nil, errorf(ErrInvalidParameter, "Invalid amount")
	}
	if !req.Address.IsForNet(w.cfg.ChainParams) {
		return nil, errorf(ErrInvalidAddress, "Address is not for "+
			"network %v", w.cfg.ChainParams.Name)
	}

	pkScript, err := txscript.PayToAddrScript(req.Address)
	if err != nil {
		return nil, newError(ErrInvalidAddress, "Invalid address", err)
	}
	output := wire.NewTxOut(int64(req.Amount), pkScript)

	release := w.guard.acquire()
	defer release()

	relay, err := w.relayFee()
	if err != nil {
		return nil, err
	}
	if err := txrules.CheckOutput(output, relay); err != nil {
		return nil, newError(ErrInvalidParameter, "Transaction amount "+
			"too small", err)
	}

	bestHeight, err := w.chainClient.BestHeight()
	if err != nil {
		return nil, newError(ErrBackend, "unable to query best height",
			err)
	}

	credits, err := w.spendableCredits(bestHeight)
	if err != nil {
		return nil, walletError(err)
	}

	changeSource := &txauthor.ChangeSource{
		NewScript:  w.newChangeScript,
		ScriptSize: txsizes.P2WPKHPkScriptSize,
	}
	feeFn := func(vsize unit.VByte) (btcutil.Amount, error) {
		return w.MinimumFee(vsize, w.cfg.ConfTarget)
	}

	authored, err := txauthor.NewUnsignedTransaction(
		[]*wire.TxOut{output}, feeFn, credits, changeSource, relay,
	)
	var fundsErr *txauthor.InsufficientFundsError
	switch {
	case errors.As(err, &fundsErr):
		return nil, newError(ErrInsufficientFunds, "Insufficient funds",
			err)

	case err != nil:
		return nil, walletError(err)
	}

	authored.RandomizeChangePosition()
	for _, txIn := range authored.Tx.TxIn {
		txIn.Sequence = maxRBFSequence
	}

	err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		addrmgrNs := tx.ReadBucket(waddrmgrNamespaceKey)
		signer := w.newSigner(w.Manager.Secrets(addrmgrNs))

		return txauthor.AddAllInputScripts(
			authored.Tx, authored.PrevOuts, signer,
		)
	})
	if err != nil {
		return nil, newError(ErrSigningFailed, "Failed to sign", err)
	}

	if err := w.publish(authored.Tx); err != nil {
		return nil, err
	}

	rec, err := wtxmgr.NewTxRecordFromMsgTx(authored.Tx, time.Now())
	if err != nil {
		return nil, newError(ErrDatabase, "unable to record payment",
			err)
	}
	rec.Meta.Comment = req.Comment

	err = walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)
		txmgrNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)

		return w.insertTx(addrmgrNs, txmgrNs, rec)
	})
	if err != nil {
		return nil, newError(ErrDatabase, "unable to record payment",
			err)
	}

	log.Infof("Sent %v to %v in transaction %v (fee %v)", req.Amount,
		req.Address, rec.Hash, authored.Fee)

	return &rec.Hash, nil
}

// newChangeScript derives a new change address and returns its output
// script.
func (w *Wallet) newChangeScript() ([]byte, error) {
	var script []byte
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)

		addr, err := w.Manager.NewChangeAddress(addrmgrNs)
		if err != nil {
			return err
		}

		script, err = txscript.PayToAddrScript(addr)
		return err
	})

	return script, err
}
