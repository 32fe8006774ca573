// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wtxmgr records the transactions of the wallet along with the
// replacement and confirmation state the wallet tracks for them.
package wtxmgr

import (
	"bytes"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// TxMeta holds the wallet's annotations of a transaction.
type TxMeta struct {
	// Replaces is the transaction this one was created to replace.
	Replaces fn.Option[chainhash.Hash]

	// ReplacedBy is the transaction that replaced this one.
	ReplacedBy fn.Option[chainhash.Hash]

	// Comment is a free form user comment.
	Comment string

	// Conflicted is set once a conflicting transaction was mined.
	Conflicted bool
}

// TxRecord represents a transaction managed by the Store.
type TxRecord struct {
	MsgTx        wire.MsgTx
	Hash         chainhash.Hash
	Received     time.Time
	SerializedTx []byte // Optional: may be nil

	// Height is the height of the block mining the transaction or -1
	// while it is unmined.
	Height int32

	Meta TxMeta
}

// NewTxRecord creates a new transaction record that may be inserted into the
// store.  It uses memoization to save the transaction hash and the serialized
// transaction.
func NewTxRecord(serializedTx []byte, received time.Time) (*TxRecord, error) {
	rec := &TxRecord{
		Received:     received,
		SerializedTx: serializedTx,
		Height:       unminedHeight,
	}
	err := rec.MsgTx.Deserialize(bytes.NewReader(serializedTx))
	if err != nil {
		str := "failed to deserialize transaction"
		return nil, storeError(ErrInput, str, err)
	}
	copy(rec.Hash[:], chainhash.DoubleHashB(serializedTx))
	return rec, nil
}

// NewTxRecordFromMsgTx creates a new transaction record that may be inserted
// into the store.
func NewTxRecordFromMsgTx(msgTx *wire.MsgTx, received time.Time) (*TxRecord,
	error) {

	buf := bytes.NewBuffer(make([]byte, 0, msgTx.SerializeSize()))
	err := msgTx.Serialize(buf)
	if err != nil {
		str := "failed to serialize transaction"
		return nil, storeError(ErrInput, str, err)
	}
	rec := &TxRecord{
		MsgTx:        *msgTx,
		Received:     received,
		SerializedTx: buf.Bytes(),
		Hash:         msgTx.TxHash(),
		Height:       unminedHeight,
	}

	return rec, nil
}

// Mined returns whether the transaction was included in a block.
func (r *TxRecord) Mined() bool {
	return r.Height != unminedHeight
}

// Credit is an unspent output of a recorded transaction paying to the
// wallet.
type Credit struct {
	wire.OutPoint

	Amount   btcutil.Amount
	PkScript []byte

	// Height is the height of the block mining the output's transaction
	// or -1 while it is unmined.
	Height int32

	FromCoinBase bool
}

// Store implements a transaction store for storing and managing wallet
// transactions.
type Store struct {
	chainParams *chaincfg.Params
}

// Create creates a new persistent transaction store in the walletdb namespace.
// Creating the store when one already exists in this namespace will error with
// ErrAlreadyExists.
func Create(ns walletdb.ReadWriteBucket) error {
	return createStore(ns)
}

// Open opens the wallet transaction store from a walletdb namespace.  If the
// store does not exist, ErrNoExist is returned.
func Open(ns walletdb.ReadBucket, chainParams *chaincfg.Params) (*Store,
	error) {

	if err := openStore(ns); err != nil {
		return nil, err
	}

	return &Store{chainParams: chainParams}, nil
}

// InsertTx records a transaction along with the outputs it spends. Inserting
// a transaction that is already recorded updates its height when the new
// record is mined and otherwise leaves the stored record untouched. Recording
// a mined transaction marks the unmined transactions double spending its
// inputs as conflicted.
func (s *Store) InsertTx(ns walletdb.ReadWriteBucket, rec *TxRecord) error {
	existing, err := fetchTxRecord(ns, &rec.Hash)
	if err != nil {
		return err
	}
	if existing != nil {
		if !rec.Mined() || existing.Height == rec.Height {
			return nil
		}

		return s.SetMined(ns, &rec.Hash, rec.Height)
	}

	if err := putTxRecord(ns, rec); err != nil {
		return err
	}

	if !blockchain.IsCoinBaseTx(&rec.MsgTx) {
		for _, txIn := range rec.MsgTx.TxIn {
			err := putSpend(ns, &txIn.PreviousOutPoint, &rec.Hash)
			if err != nil {
				return err
			}
		}
	}

	if rec.Mined() {
		return s.markDoubleSpends(ns, rec)
	}

	return putUnmined(ns, &rec.Hash)
}

// TxDetails looks up the recorded transaction by hash.  If the transaction is
// not known to the store, a nil record is returned without error.
func (s *Store) TxDetails(ns walletdb.ReadBucket,
	txHash *chainhash.Hash) (*TxRecord, error) {

	return fetchTxRecord(ns, txHash)
}

// PreviousOutput returns the output referenced by the outpoint when its
// transaction is recorded by the store.  Nil is returned without error for
// outpoints of unknown transactions.
func (s *Store) PreviousOutput(ns walletdb.ReadBucket,
	op *wire.OutPoint) (*wire.TxOut, error) {

	rec, err := fetchTxRecord(ns, &op.Hash)
	if err != nil || rec == nil {
		return nil, err
	}

	if op.Index >= uint32(len(rec.MsgTx.TxOut)) {
		str := fmt.Sprintf("output %v does not exist", op)
		return nil, storeError(ErrInput, str, nil)
	}

	return rec.MsgTx.TxOut[op.Index], nil
}

// HasWalletSpend returns whether any recorded transaction spends an output of
// the transaction.
func (s *Store) HasWalletSpend(ns walletdb.ReadBucket,
	txHash *chainhash.Hash) bool {

	return existsSpendOf(ns, txHash)
}

// MarkReplaced annotates the transaction as replaced by the replacement
// transaction.  A transaction can only be replaced once.
func (s *Store) MarkReplaced(ns walletdb.ReadWriteBucket, txHash,
	replacement *chainhash.Hash) error {

	rec, err := s.mustFetch(ns, txHash)
	if err != nil {
		return err
	}

	if rec.Meta.ReplacedBy.IsSome() {
		str := fmt.Sprintf("transaction %v was already replaced",
			txHash)
		return storeError(ErrAlreadyReplaced, str, nil)
	}

	rec.Meta.ReplacedBy = fn.Some(*replacement)

	return putTxRecord(ns, rec)
}

// SetMined records the height of the block that mined the transaction. The
// unmined transactions double spending its inputs, such as the other members
// of its replacement chain, are marked as conflicted along with their wallet
// descendants.
func (s *Store) SetMined(ns walletdb.ReadWriteBucket, txHash *chainhash.Hash,
	height int32) error {

	if height < 0 {
		str := fmt.Sprintf("invalid block height %d", height)
		return storeError(ErrInput, str, nil)
	}

	rec, err := s.mustFetch(ns, txHash)
	if err != nil {
		return err
	}

	log.Debugf("Marking transaction %v mined at height %d", txHash,
		height)

	rec.Height = height
	if err := putTxRecord(ns, rec); err != nil {
		return err
	}
	if err := deleteUnmined(ns, txHash); err != nil {
		return err
	}

	return s.markDoubleSpends(ns, rec)
}

// markDoubleSpends marks every recorded transaction other than the mined one
// spending one of its inputs as conflicted.
func (s *Store) markDoubleSpends(ns walletdb.ReadWriteBucket,
	mined *TxRecord) error {

	if blockchain.IsCoinBaseTx(&mined.MsgTx) {
		return nil
	}

	for _, txIn := range mined.MsgTx.TxIn {
		spenders, err := fetchSpenders(ns, &txIn.PreviousOutPoint)
		if err != nil {
			return err
		}

		for i := range spenders {
			if spenders[i] == mined.Hash {
				continue
			}
			if err := s.markConflict(ns, &spenders[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

// markConflict marks an unmined transaction and every recorded transaction
// spending its outputs as conflicted.
func (s *Store) markConflict(ns walletdb.ReadWriteBucket,
	txHash *chainhash.Hash) error {

	rec, err := s.mustFetch(ns, txHash)
	if err != nil {
		return err
	}
	if rec.Mined() || rec.Meta.Conflicted {
		return nil
	}

	if err := s.MarkConflicted(ns, txHash); err != nil {
		return err
	}

	for i := range rec.MsgTx.TxOut {
		op := wire.NewOutPoint(txHash, uint32(i))
		spenders, err := fetchSpenders(ns, op)
		if err != nil {
			return err
		}

		for j := range spenders {
			if err := s.markConflict(ns, &spenders[j]); err != nil {
				return err
			}
		}
	}

	return nil
}

// MarkConflicted flags an unmined transaction as conflicting with a mined
// transaction. Conflicted transactions are no longer reported as unmined.
func (s *Store) MarkConflicted(ns walletdb.ReadWriteBucket,
	txHash *chainhash.Hash) error {

	rec, err := s.mustFetch(ns, txHash)
	if err != nil {
		return err
	}

	log.Infof("Transaction %v conflicts with the chain", txHash)

	rec.Meta.Conflicted = true
	if err := putTxRecord(ns, rec); err != nil {
		return err
	}

	return deleteUnmined(ns, txHash)
}

// UnminedTxs returns the records of all unmined transactions which are not
// known to conflict with the chain.
func (s *Store) UnminedTxs(ns walletdb.ReadBucket) ([]*TxRecord, error) {
	var recs []*TxRecord
	err := ns.NestedReadBucket(bucketUnmined).ForEach(func(k, _ []byte) error {
		var txHash chainhash.Hash
		if err := txHash.SetBytes(k); err != nil {
			return storeError(ErrData, "bad unmined key", err)
		}

		rec, err := s.mustFetch(ns, &txHash)
		if err != nil {
			return err
		}
		recs = append(recs, rec)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return recs, nil
}

// AddCredit marks the output of a recorded transaction as paying to the
// wallet.
func (s *Store) AddCredit(ns walletdb.ReadWriteBucket, txHash *chainhash.Hash,
	index uint32) error {

	rec, err := s.mustFetch(ns, txHash)
	if err != nil {
		return err
	}
	if index >= uint32(len(rec.MsgTx.TxOut)) {
		str := fmt.Sprintf("transaction %v has no output %d", txHash,
			index)
		return storeError(ErrInput, str, nil)
	}

	return putCredit(ns, wire.NewOutPoint(txHash, index))
}

// IsCredit returns whether the outpoint was marked as a wallet credit.
func (s *Store) IsCredit(ns walletdb.ReadBucket, op *wire.OutPoint) bool {
	return existsCredit(ns, op)
}

// Spenders returns the recorded transactions spending the outpoint. More
// than one spender is returned for replaced and conflicting transactions.
func (s *Store) Spenders(ns walletdb.ReadBucket,
	op *wire.OutPoint) ([]chainhash.Hash, error) {

	return fetchSpenders(ns, op)
}

// UnspentOutputs returns the wallet credits not spent by any recorded
// transaction that may still confirm. Outputs of conflicted and replaced
// transactions are left out.
func (s *Store) UnspentOutputs(ns walletdb.ReadBucket) ([]Credit, error) {
	var credits []Credit
	err := ns.NestedReadBucket(bucketCredits).ForEach(func(k, _ []byte) error {
		var op wire.OutPoint
		if err := readCanonicalOutPoint(k, &op); err != nil {
			return err
		}

		rec, err := s.mustFetch(ns, &op.Hash)
		if err != nil {
			return err
		}
		if rec.Meta.Conflicted || rec.Meta.ReplacedBy.IsSome() {
			return nil
		}

		spent, err := s.isSpent(ns, &op)
		if err != nil || spent {
			return err
		}

		txOut := rec.MsgTx.TxOut[op.Index]
		credits = append(credits, Credit{
			OutPoint:     op,
			Amount:       btcutil.Amount(txOut.Value),
			PkScript:     txOut.PkScript,
			Height:       rec.Height,
			FromCoinBase: blockchain.IsCoinBaseTx(&rec.MsgTx),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return credits, nil
}

// isSpent returns whether a recorded transaction which is not conflicted
// spends the outpoint.
func (s *Store) isSpent(ns walletdb.ReadBucket, op *wire.OutPoint) (bool,
	error) {

	spenders, err := fetchSpenders(ns, op)
	if err != nil {
		return false, err
	}

	for i := range spenders {
		rec, err := s.mustFetch(ns, &spenders[i])
		if err != nil {
			return false, err
		}
		if !rec.Meta.Conflicted {
			return true, nil
		}
	}

	return false, nil
}

// SyncedHeight returns the height of the last block scanned for wallet
// transactions. None is returned before the first scan.
func (s *Store) SyncedHeight(ns walletdb.ReadBucket) (fn.Option[int32],
	error) {

	return fetchSyncedHeight(ns)
}

// SetSyncedHeight records the height of the last block scanned for wallet
// transactions.
func (s *Store) SetSyncedHeight(ns walletdb.ReadWriteBucket,
	height int32) error {

	if height < 0 {
		str := fmt.Sprintf("invalid synced height %d", height)
		return storeError(ErrInput, str, nil)
	}

	return putSyncedHeight(ns, height)
}

// mustFetch fetches the record of the transaction and errors with
// ErrTxRecordNotFound when it is not recorded.
func (s *Store) mustFetch(ns walletdb.ReadBucket,
	txHash *chainhash.Hash) (*TxRecord, error) {

	rec, err := fetchTxRecord(ns, txHash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		str := fmt.Sprintf("missing transaction record for %v", txHash)
		return nil, storeError(ErrTxRecordNotFound, str, nil)
	}

	return rec, nil
}
