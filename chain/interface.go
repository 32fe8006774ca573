// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain provides the chain backend the wallet queries for relay
// policy, fee estimates, mempool state and unspent outputs, and submits
// transactions to.
package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BackEnds returns a list of the available back ends.
func BackEnds() []string {
	return []string{
		"bitcoind",
	}
}

// Interface allows more than one backing blockchain source, as long as we
// write a driver for it.
type Interface interface {
	// RelayFee returns the minimum fee rate of the node for relaying
	// transactions.
	RelayFee() (unit.SatPerKVByte, error)

	// MempoolMinFee returns the fee rate a transaction currently needs to
	// enter the mempool of the node.
	MempoolMinFee() (unit.SatPerKVByte, error)

	// EstimateSmartFee returns the fee rate estimated for confirmation
	// within confTarget blocks, if the node has an estimate.
	EstimateSmartFee(confTarget uint32) (fn.Option[unit.SatPerKVByte],
		error)

	// MempoolDescendants returns the number of mempool transactions
	// descending from the transaction, itself included. Zero is returned
	// when the transaction is not in the mempool.
	MempoolDescendants(txHash *chainhash.Hash) (int64, error)

	// FindScriptOutputs returns the unspent outputs of the chain and the
	// mempool paying to any of the scripts. The set is keyed by the
	// string conversion of the output scripts.
	FindScriptOutputs(scripts fn.Set[string]) ([]ScriptOutput, error)

	// BestHeight returns the height of the best block.
	BestHeight() (int32, error)

	// BlockTransactions returns the transactions of the main chain block
	// at the height.
	BlockTransactions(height int32) ([]*wire.MsgTx, error)

	// MempoolTransactions returns the transactions in the mempool.
	MempoolTransactions() ([]*wire.MsgTx, error)

	// TxConfirmation returns the confirmation state of the transaction.
	TxConfirmation(txHash *chainhash.Hash) (*TxConfirmation, error)

	// PublishTransaction submits the transaction to the node. A
	// transaction refused by mempool policy fails with a *RejectError.
	PublishTransaction(tx *wire.MsgTx) error

	// Stop disconnects the backend.
	Stop()
}

// ScriptOutput is an unspent output found by a script search.
type ScriptOutput struct {
	OutPoint wire.OutPoint
	Output   *wire.TxOut
}

// TxStatus is the state of a transaction as seen by the backend.
type TxStatus uint8

const (
	// TxNotFound is returned for transactions the backend does not know.
	TxNotFound TxStatus = iota

	// TxInMempool is returned for transactions waiting in the mempool.
	TxInMempool

	// TxMined is returned for transactions included in a block.
	TxMined
)

// String returns the status as a human-readable name.
func (s TxStatus) String() string {
	switch s {
	case TxNotFound:
		return "not found"
	case TxInMempool:
		return "in mempool"
	case TxMined:
		return "mined"
	default:
		return "unknown"
	}
}

// TxConfirmation is the confirmation state of a transaction.
type TxConfirmation struct {
	Status TxStatus

	// Height is the height of the block mining the transaction. It is
	// only set for TxMined.
	Height int32
}
