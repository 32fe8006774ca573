// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/rbfwallet/chain"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/btcsuite/rbfwallet/wallet/txauthor"
	"github.com/btcsuite/rbfwallet/wallet/txrules"
	"github.com/btcsuite/rbfwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// maxRBFSequence is the highest input sequence number signaling opt-in
// replaceability.
const maxRBFSequence = wire.MaxTxInSequenceNum - 2

// BumpFeeRequest holds the optional parameters of a fee bump.
type BumpFeeRequest struct {
	// ChangeIndex selects the change output by position instead of
	// detecting it.
	ChangeIndex fn.Option[int]

	// ConfTarget is the confirmation target for the fee estimate. The
	// wallet's default target is used when unset.
	ConfTarget fn.Option[int64]

	// TotalFee is the absolute fee of the replacement.
	TotalFee fn.Option[btcutil.Amount]
}

// BumpFeeResult describes a replacement created by BumpFee.
type BumpFeeResult struct {
	Txid   chainhash.Hash
	OldFee btcutil.Amount
	Fee    btcutil.Amount
}

// bumpCandidate is a transaction found eligible for a fee bump.
type bumpCandidate struct {
	rec      *wtxmgr.TxRecord
	prevOuts []*wire.TxOut
	change   int
}

// signalsRBF returns whether any input of the transaction opts in to
// replacement.
func signalsRBF(tx *wire.MsgTx) bool {
	for _, txIn := range tx.TxIn {
		if txIn.Sequence <= maxRBFSequence {
			return true
		}
	}

	return false
}

// checkBumpFeeRequest validates the request and returns the confirmation
// target to use.
func (w *Wallet) checkBumpFeeRequest(req *BumpFeeRequest) (uint32, error) {
	confTarget := w.cfg.ConfTarget

	var err error
	req.ConfTarget.WhenSome(func(target int64) {
		if target <= 0 || target > int64(^uint32(0)) {
			err = errorf(ErrInvalidParameter,
				"Invalid confTarget (cannot be <= 0)")
			return
		}
		confTarget = uint32(target)
	})
	if err != nil {
		return 0, err
	}

	req.TotalFee.WhenSome(func(fee btcutil.Amount) {
		switch {
		case fee <= 0:
			err = errorf(ErrInvalidParameter,
				"Invalid totalFee (cannot be <= 0)")

		case fee > w.cfg.MaxTxFee:
			err = errorf(ErrInvalidParameter, "Invalid totalFee "+
				"(cannot be higher than maxTxFee)")
		}
	})
	if err != nil {
		return 0, err
	}

	return confTarget, nil
}

// bumpCandidate checks that the wallet transaction can be replaced by a
// fee bump and locates its change output.
func (w *Wallet) bumpCandidate(dbtx walletdb.ReadTx, txHash *chainhash.Hash,
	changeIndex fn.Option[int]) (*bumpCandidate, error) {

	addrmgrNs := dbtx.ReadBucket(waddrmgrNamespaceKey)
	txmgrNs := dbtx.ReadBucket(wtxmgrNamespaceKey)

	rec, err := w.TxStore.TxDetails(txmgrNs, txHash)
	if err != nil {
		return nil, newError(ErrDatabase, "unable to fetch "+
			"transaction", err)
	}
	if rec == nil {
		return nil, errorf(ErrNotEligible, "Invalid or non-wallet "+
			"transaction id")
	}

	if rec.Mined() || rec.Meta.Conflicted {
		return nil, errorf(ErrNotEligible, "Transaction has been "+
			"mined, or is conflicted with a mined transaction")
	}

	if !signalsRBF(&rec.MsgTx) {
		return nil, errorf(ErrNotEligible, "Transaction is not BIP "+
			"125 replaceable")
	}

	if replacement, ok := replacedBy(rec); ok {
		return nil, errorf(ErrAlreadyBumped, "Cannot bump transaction "+
			"%v which was already bumped by transaction %v",
			txHash, replacement)
	}

	prevOuts := make([]*wire.TxOut, 0, len(rec.MsgTx.TxIn))
	for _, txIn := range rec.MsgTx.TxIn {
		prevOut, err := w.TxStore.PreviousOutput(
			txmgrNs, &txIn.PreviousOutPoint,
		)
		if err != nil {
			return nil, newError(ErrDatabase, "unable to fetch "+
				"previous output", err)
		}

		mine := false
		if prevOut != nil {
			mine, err = w.Manager.IsMine(addrmgrNs, prevOut.PkScript)
			if err != nil {
				return nil, newError(ErrDatabase, "unable to "+
					"check input ownership", err)
			}
		}
		if !mine {
			return nil, errorf(ErrNotEligible, "Transaction "+
				"contains inputs that don't belong to this "+
				"wallet")
		}

		prevOuts = append(prevOuts, prevOut)
	}

	change, err := w.changeOutput(addrmgrNs, &rec.MsgTx, changeIndex)
	if err != nil {
		return nil, err
	}

	if w.TxStore.HasWalletSpend(txmgrNs, txHash) {
		return nil, errorf(ErrHasDescendants, "Transaction has "+
			"descendants in the wallet")
	}

	return &bumpCandidate{
		rec:      rec,
		prevOuts: prevOuts,
		change:   change,
	}, nil
}

// changeOutput returns the index of the single change output of the
// transaction, or checks the index selected by the caller.
func (w *Wallet) changeOutput(addrmgrNs walletdb.ReadBucket, tx *wire.MsgTx,
	changeIndex fn.Option[int]) (int, error) {

	isChange := func(txOut *wire.TxOut) (bool, error) {
		change, err := w.Manager.IsOwnChange(addrmgrNs, txOut.PkScript)
		if err != nil {
			return false, newError(ErrDatabase, "unable to check "+
				"change output", err)
		}

		return change, nil
	}

	if changeIndex.IsSome() {
		idx := changeIndex.UnwrapOr(-1)
		if idx < 0 || idx >= len(tx.TxOut) {
			return 0, errorf(ErrInvalidParameter, "Output out of "+
				"bounds")
		}

		change, err := isChange(tx.TxOut[idx])
		if err != nil {
			return 0, err
		}
		if !change {
			return 0, errorf(ErrInvalidParameter, "Selected "+
				"output is not change")
		}

		return idx, nil
	}

	found := -1
	for i, txOut := range tx.TxOut {
		change, err := isChange(txOut)
		if err != nil {
			return 0, err
		}
		if !change {
			continue
		}

		if found != -1 {
			return 0, errorf(ErrNoChangeOutput, "Transaction has "+
				"multiple change outputs")
		}
		found = i
	}
	if found == -1 {
		return 0, errorf(ErrNoChangeOutput, "Transaction does not have "+
			"a change output")
	}

	return found, nil
}

// replacedBy returns the replacement of the transaction, if any.
func replacedBy(rec *wtxmgr.TxRecord) (chainhash.Hash, bool) {
	var (
		hash chainhash.Hash
		ok   bool
	)
	rec.Meta.ReplacedBy.WhenSome(func(h chainhash.Hash) {
		hash, ok = h, true
	})

	return hash, ok
}

// bumpedFee returns the fee and fee rate of the replacement.
func (w *Wallet) bumpedFee(req *BumpFeeRequest, confTarget uint32,
	txSize, maxNewTxSize unit.VByte, oldFeeRate,
	relay unit.SatPerKVByte) (btcutil.Amount, unit.SatPerKVByte, error) {

	if req.TotalFee.IsSome() {
		totalFee := req.TotalFee.UnwrapOr(0)

		minTotalFee := oldFeeRate.FeeForVSize(maxNewTxSize) +
			relay.FeeForVSize(maxNewTxSize)
		if totalFee < minTotalFee {
			return 0, 0, errorf(ErrFeeTooLow, "Invalid totalFee, "+
				"must be at least oldFee + relayFee: %.8f",
				minTotalFee.ToBTC())
		}

		return totalFee, unit.NewSatPerKVByte(totalFee, txSize), nil
	}

	rate, err := w.feeRateForTarget(confTarget)
	if err != nil {
		return 0, 0, err
	}

	// Each bump must raise the fee rate by at least the relay fee.
	if minRate := oldFeeRate.Add(relay); rate < minRate {
		rate = minRate
	}

	return rate.FeeForVSize(maxNewTxSize), rate, nil
}

// BumpFee replaces an unconfirmed opt-in RBF wallet transaction by a copy
// paying a higher fee out of its change output. The replacement is
// submitted to the backend and recorded by the wallet, and the original is
// marked as replaced.
func (w *Wallet) BumpFee(txHash *chainhash.Hash,
	req *BumpFeeRequest) (*BumpFeeResult, error) {

	if req == nil {
		req = &BumpFeeRequest{}
	}

	confTarget, err := w.checkBumpFeeRequest(req)
	if err != nil {
		return nil, err
	}

	release := w.guard.acquire()
	defer release()

	var candidate *bumpCandidate
	err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		var err error
		candidate, err = w.bumpCandidate(tx, txHash, req.ChangeIndex)
		return err
	})
	if err != nil {
		return nil, walletError(err)
	}

	descendants, err := w.chainClient.MempoolDescendants(txHash)
	if err != nil {
		return nil, newError(ErrBackend, "unable to query mempool "+
			"descendants", err)
	}
	if descendants > 1 {
		return nil, errorf(ErrHasDescendants, "Transaction has "+
			"descendants in the mempool")
	}

	orig := &candidate.rec.MsgTx

	// Signature sizes vary by a byte, so the replacement is priced one
	// byte larger per input.
	txSize := unit.TxVirtualSize(orig)
	maxNewTxSize := txSize + unit.VByte(len(orig.TxIn))

	oldFee := txauthor.SumOutputValues(candidate.prevOuts) -
		txauthor.SumOutputValues(orig.TxOut)
	oldFeeRate := unit.NewSatPerKVByte(oldFee, txSize)

	relay, err := w.relayFee()
	if err != nil {
		return nil, err
	}

	newFee, newFeeRate, err := w.bumpedFee(
		req, confTarget, txSize, maxNewTxSize, oldFeeRate, relay,
	)
	if err != nil {
		return nil, err
	}

	minMempoolFeeRate, err := w.chainClient.MempoolMinFee()
	if err != nil {
		return nil, newError(ErrBackend, "unable to query mempool "+
			"minimum fee", err)
	}
	if newFeeRate < minMempoolFeeRate {
		return nil, errorf(ErrBelowMempoolMinimum, "New fee rate "+
			"(%.8f) is too low to get into the mempool (min rate: "+
			"%.8f)", newFeeRate.ToBTCPerKVByte(),
			minMempoolFeeRate.ToBTCPerKVByte())
	}

	delta := newFee - oldFee
	if delta <= 0 {
		return nil, errorf(ErrFeeTooLow, "New fee %v does not exceed "+
			"old fee %v", newFee, oldFee)
	}

	newTx := orig.Copy()
	change := newTx.TxOut[candidate.change]
	if btcutil.Amount(change.Value) < delta {
		return nil, errorf(ErrChangeTooSmall, "Change output is too "+
			"small to bump the fee")
	}

	change.Value -= int64(delta)
	dustThreshold := txrules.GetDustThreshold(change.PkScript, relay)
	if btcutil.Amount(change.Value) <= dustThreshold {
		log.Debugf("Bumping fee of %v and discarding dust output",
			txHash)

		newFee += btcutil.Amount(change.Value)
		newTx.TxOut = append(
			newTx.TxOut[:candidate.change],
			newTx.TxOut[candidate.change+1:]...,
		)
	}

	err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		addrmgrNs := tx.ReadBucket(waddrmgrNamespaceKey)
		signer := w.newSigner(w.Manager.Secrets(addrmgrNs))

		return txauthor.AddAllInputScripts(
			newTx, candidate.prevOuts, signer,
		)
	})
	if err != nil {
		return nil, newError(ErrSigningFailed, "Can't sign transaction",
			err)
	}

	if err := w.publish(newTx); err != nil {
		return nil, err
	}

	rec, err := wtxmgr.NewTxRecordFromMsgTx(newTx, time.Now())
	if err != nil {
		return nil, newError(ErrDatabase, "unable to record "+
			"replacement", err)
	}
	rec.Meta.Replaces = fn.Some(*txHash)

	err = walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		addrmgrNs := tx.ReadWriteBucket(waddrmgrNamespaceKey)
		txmgrNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)

		if err := w.insertTx(addrmgrNs, txmgrNs, rec); err != nil {
			return err
		}

		return w.TxStore.MarkReplaced(txmgrNs, txHash, &rec.Hash)
	})
	if err != nil {
		return nil, newError(ErrDatabase, "Unable to mark the "+
			"original transaction as replaced", err)
	}

	log.Infof("Replaced transaction %v by %v (fee %v -> %v)", txHash,
		rec.Hash, oldFee, newFee)

	return &BumpFeeResult{
		Txid:   rec.Hash,
		OldFee: oldFee,
		Fee:    newFee,
	}, nil
}

// publish submits the transaction to the chain backend.
func (w *Wallet) publish(tx *wire.MsgTx) error {
	err := w.chainClient.PublishTransaction(tx)
	if err == nil {
		return nil
	}

	var rejectErr *chain.RejectError
	if errors.As(err, &rejectErr) {
		log.Warnf("Transaction %v rejected: %v", tx.TxHash(), rejectErr)
		return newError(ErrRejectedByPolicy, rejectErr.Error(), nil)
	}

	return newError(ErrBackend, "unable to publish transaction", err)
}

// walletError returns errors of the wallet as is and wraps any other error
// as a database error.
func walletError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return newError(ErrDatabase, "wallet database error", err)
}
