// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txauthor

import (
	"fmt"
	"math/rand/v2"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/btcsuite/rbfwallet/wallet/txrules"
	"github.com/btcsuite/rbfwallet/wallet/txsizes"
	"github.com/btcsuite/rbfwallet/wtxmgr"
)

// InsufficientFundsError is returned when the selectable inputs can not pay
// for the outputs and the fee of a new transaction.
type InsufficientFundsError struct {
	TargetAmount btcutil.Amount
	TxFee        btcutil.Amount
	AvailableAmt btcutil.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds available to construct "+
		"transaction: amount: %v, minimum fee: %v, available amount: %v",
		e.TargetAmount, e.TxFee, e.AvailableAmt)
}

// FeeFunc returns the fee paid by a transaction of the given virtual size.
type FeeFunc func(vsize unit.VByte) (btcutil.Amount, error)

// ChangeSource provides change output scripts for transaction creation.
type ChangeSource struct {
	// NewScript produces a unique change output script per invocation.
	NewScript func() ([]byte, error)

	// ScriptSize is the size in bytes of scripts produced by NewScript.
	ScriptSize int
}

// AuthoredTx holds the state of a newly-created transaction and the change
// output, if one was added.
type AuthoredTx struct {
	Tx          *wire.MsgTx
	PrevOuts    []*wire.TxOut
	TotalInput  btcutil.Amount
	Fee         btcutil.Amount
	ChangeIndex int // negative if no change
}

// inputCounts tallies the selected inputs by the kind of script they spend.
type inputCounts struct {
	p2pkh, p2wpkh, nested int
}

func (c *inputCounts) add(pkScript []byte) {
	switch {
	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		c.p2wpkh++

	case txscript.IsPayToScriptHash(pkScript):
		c.nested++

	// P2PK spends are smaller than P2PKH spends, so they are priced as
	// P2PKH.
	default:
		c.p2pkh++
	}
}

// NewUnsignedTransaction creates an unsigned transaction paying to the
// outputs. Inputs are taken in order until they pay for the outputs and the
// fee of the estimated worst case size. A change output is added for the
// remainder unless it would be dust under the relay fee, in which case the
// remainder goes to the fee.
//
// An *InsufficientFundsError is returned when all inputs together can not
// fund the transaction.
func NewUnsignedTransaction(outputs []*wire.TxOut, feeFn FeeFunc,
	inputs []wtxmgr.Credit, changeSource *ChangeSource,
	relayFee unit.SatPerKVByte) (*AuthoredTx, error) {

	targetAmount := SumOutputValues(outputs)

	var (
		counts     inputCounts
		inputTotal btcutil.Amount
		txFee      btcutil.Amount
		selected   []wtxmgr.Credit
	)
	for _, input := range inputs {
		selected = append(selected, input)
		inputTotal += input.Amount
		counts.add(input.PkScript)

		vsize := txsizes.EstimateVirtualSize(
			counts.p2pkh, counts.p2wpkh, counts.nested, outputs,
			changeSource.ScriptSize,
		)

		var err error
		txFee, err = feeFn(unit.VByte(vsize))
		if err != nil {
			return nil, err
		}

		if inputTotal >= targetAmount+txFee {
			break
		}
	}

	if len(selected) == 0 || inputTotal < targetAmount+txFee {
		return nil, &InsufficientFundsError{
			TargetAmount: targetAmount,
			TxFee:        txFee,
			AvailableAmt: inputTotal,
		}
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make([]*wire.TxOut, 0, len(selected))
	for _, input := range selected {
		op := input.OutPoint
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		prevOuts = append(prevOuts, wire.NewTxOut(
			int64(input.Amount), input.PkScript,
		))
	}
	for _, txOut := range outputs {
		tx.AddTxOut(txOut)
	}

	authored := &AuthoredTx{
		Tx:          tx,
		PrevOuts:    prevOuts,
		TotalInput:  inputTotal,
		Fee:         inputTotal - targetAmount,
		ChangeIndex: -1,
	}

	changeAmount := inputTotal - targetAmount - txFee
	changeScript, err := changeSource.NewScript()
	if err != nil {
		return nil, err
	}
	if txrules.IsDustAmount(changeAmount, changeScript, relayFee) {
		return authored, nil
	}

	tx.AddTxOut(wire.NewTxOut(int64(changeAmount), changeScript))
	authored.Fee = txFee
	authored.ChangeIndex = len(tx.TxOut) - 1

	return authored, nil
}

// RandomizeOutputPosition randomizes the position of a transaction's output by
// swapping it with a random output.  The new index is returned.  This should be
// done before signing.
func RandomizeOutputPosition(outputs []*wire.TxOut, index int) int {
	r := rand.IntN(len(outputs))
	outputs[r], outputs[index] = outputs[index], outputs[r]
	return r
}

// RandomizeChangePosition randomizes the position of an authored transaction's
// change output.  This should be done before signing.
func (tx *AuthoredTx) RandomizeChangePosition() {
	if tx.ChangeIndex < 0 {
		return
	}

	tx.ChangeIndex = RandomizeOutputPosition(tx.Tx.TxOut, tx.ChangeIndex)
}
