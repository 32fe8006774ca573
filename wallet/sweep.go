// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/btcsuite/rbfwallet/wallet/txauthor"
	"github.com/btcsuite/rbfwallet/wallet/txrules"
	"github.com/btcsuite/rbfwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// maxSweepIterations bounds the rounds of signing and fee estimation of a
// sweep.
const maxSweepIterations = 10

// addressPurposeReceive is the address book purpose of receiving addresses
// and sweep destinations.
const addressPurposeReceive = "receive"

// SweepRequest holds the parameters of a key sweep.
type SweepRequest struct {
	// PrivKeys are the WIF encoded keys to sweep.
	PrivKeys []string

	// Label is the address book label of the destination address.
	Label string

	// Comment is recorded with the sweep transaction.
	Comment string
}

// sweepKeys decodes the keys of the request into a key store and returns the
// scripts paying to them.
func (w *Wallet) sweepKeys(privKeys []string) (*txauthor.KeyStore,
	fn.Set[string], error) {

	if len(privKeys) == 0 {
		return nil, nil, errorf(ErrInvalidParameter, "No private keys "+
			"to sweep")
	}

	keys := txauthor.NewKeyStore(w.cfg.ChainParams)
	scripts := fn.NewSet[string]()
	for _, encoded := range privKeys {
		wif, err := btcutil.DecodeWIF(encoded)
		if err != nil {
			return nil, nil, newError(ErrInvalidKeyEncoding,
				"Invalid private key encoding", err)
		}

		if err := keys.AddKey(wif); err != nil {
			return nil, nil, newError(ErrInvalidKeyEncoding,
				"Private key is not for this network", err)
		}

		pubKey := wif.SerializePubKey()

		pkhAddr, err := btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(pubKey), w.cfg.ChainParams,
		)
		if err != nil {
			return nil, nil, newError(ErrInvalidKeyEncoding,
				"Invalid private key", err)
		}
		pkhScript, err := txscript.PayToAddrScript(pkhAddr)
		if err != nil {
			return nil, nil, newError(ErrInvalidKeyEncoding,
				"Invalid private key", err)
		}

		pkScript, err := txscript.NewScriptBuilder().
			AddData(pubKey).AddOp(txscript.OP_CHECKSIG).Script()
		if err != nil {
			return nil, nil, newError(ErrInvalidKeyEncoding,
				"Invalid private key", err)
		}

		scripts.Add(string(pkhScript))
		scripts.Add(string(pkScript))
	}

	return keys, scripts, nil
}

// convergeSweepFee signs the sweep and lowers its output until it pays the
// fee required for its signed size.
func (w *Wallet) convergeSweepFee(tx *wire.MsgTx, prevOuts []*wire.TxOut,
	signer txauthor.Signer, relay unit.SatPerKVByte) error {

	totalIn := txauthor.SumOutputValues(prevOuts)
	out := tx.TxOut[0]

	for i := 0; i < maxSweepIterations; i++ {
		if txrules.IsDustOutput(out, relay) {
			return errorf(ErrSweptValueIsDust, "Swept value would "+
				"be dust")
		}

		err := txauthor.AddAllInputScripts(tx, prevOuts, signer)
		if err != nil {
			return newError(ErrSigningFailed, "Failed to sign", err)
		}

		vsize := unit.TxVirtualSize(tx)
		feeNeeded, err := w.MinimumFee(vsize, w.cfg.ConfTarget)
		if err != nil {
			return err
		}

		if feeNeeded <= totalIn-btcutil.Amount(out.Value) {
			log.Debugf("Sweep fee %v for %v converged after %d %s",
				feeNeeded, vsize, i+1,
				pickNoun(i+1, "round", "rounds"))

			return nil
		}

		out.Value = int64(totalIn - feeNeeded)
		if out.Value <= 0 {
			return errorf(ErrSweptValueIsDust, "Swept value would "+
				"be dust")
		}
	}

	return errorf(ErrNotConverged, "Sweep fee did not converge after %d "+
		"rounds", maxSweepIterations)
}

// SweepPrivKeys moves every output spendable by the given keys to a newly
// reserved wallet address in a single transaction. The destination address
// is labeled in the address book and the transaction is recorded with the
// comment once the backend accepts it.
func (w *Wallet) SweepPrivKeys(req *SweepRequest) (*chainhash.Hash, error) {
	keys, scripts, err := w.sweepKeys(req.PrivKeys)
	if err != nil {
		return nil, err
	}
	defer keys.Zero()

	release := w.guard.acquire()
	defer release()

	reserved, err := w.reserveKey()
	if err != nil {
		return nil, err
	}
	defer reserved.release()

	outputs, err := w.chainClient.FindScriptOutputs(scripts)
	if err != nil {
		return nil, newError(ErrBackend, "unable to scan for outputs",
			err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make([]*wire.TxOut, 0, len(outputs))
	for _, output := range outputs {
		op := output.OutPoint
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		prevOuts = append(prevOuts, output.Output)
	}

	totalIn := txauthor.SumOutputValues(prevOuts)
	if totalIn == 0 {
		return nil, errorf(ErrNothingToSweep, "No value to sweep")
	}

	log.Infof("Sweeping %v from %d %s", totalIn, len(outputs),
		pickNoun(len(outputs), "output", "outputs"))

	destScript, err := txscript.PayToAddrScript(reserved.addr)
	if err != nil {
		return nil, newError(ErrDatabase, "unable to create output "+
			"script", err)
	}
	tx.AddTxOut(wire.NewTxOut(int64(totalIn), destScript))

	relay, err := w.relayFee()
	if err != nil {
		return nil, err
	}

	signer := w.newSigner(keys)
	err = w.convergeSweepFee(tx, prevOuts, signer, relay)
	if err != nil {
		return nil, err
	}

	err = walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		addrmgrNs := dbtx.ReadWriteBucket(waddrmgrNamespaceKey)
		return w.Manager.SetAddressBook(
			addrmgrNs, reserved.addr, req.Label,
			addressPurposeReceive,
		)
	})
	if err != nil {
		return nil, newError(ErrDatabase, "unable to label address",
			err)
	}

	if err := w.publish(tx); err != nil {
		w.deleteLabel(reserved.addr)
		return nil, err
	}

	return w.recordSweep(tx, reserved, req.Comment)
}

// deleteLabel removes the address book entry of a sweep destination whose
// transaction was not accepted.
func (w *Wallet) deleteLabel(addr btcutil.Address) {
	err := walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		addrmgrNs := dbtx.ReadWriteBucket(waddrmgrNamespaceKey)
		return w.Manager.DeleteAddressBook(addrmgrNs, addr)
	})
	if err != nil {
		log.Errorf("Unable to remove address book entry of %v: %v",
			addr, err)
	}
}

// recordSweep keeps the destination key and records the accepted sweep
// transaction.
func (w *Wallet) recordSweep(tx *wire.MsgTx, reserved *reservedKey,
	comment string) (*chainhash.Hash, error) {

	rec, err := wtxmgr.NewTxRecordFromMsgTx(tx, time.Now())
	if err != nil {
		return nil, newError(ErrDatabase, "unable to record sweep", err)
	}
	rec.Meta.Comment = comment

	err = walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		addrmgrNs := dbtx.ReadWriteBucket(waddrmgrNamespaceKey)
		txmgrNs := dbtx.ReadWriteBucket(wtxmgrNamespaceKey)

		if err := reserved.keep(addrmgrNs); err != nil {
			return err
		}

		return w.insertTx(addrmgrNs, txmgrNs, rec)
	})
	if err != nil {
		return nil, newError(ErrDatabase, "unable to record sweep", err)
	}

	log.Infof("Swept %v to %v in transaction %v",
		btcutil.Amount(tx.TxOut[0].Value), reserved.addr, rec.Hash)

	return &rec.Hash, nil
}
