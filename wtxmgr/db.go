// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// Naming
//
// The following variables are universal among all buckets:
//
//   txHash: 32 byte transaction hash
//   outPoint: 36 byte canonical outpoint (txHash followed by the big endian
//     output index)
//
// The tx store namespace holds the version and synced height keys and four
// buckets:
//
//   Transaction records (txHash -> record)
//   Spends (outPoint | spender txHash -> empty)
//   Unmined (txHash -> empty)
//   Credits (outPoint -> empty)

// Big endian is the preferred byte order, due to cursor scans over integer
// keys iterating in order.
var byteOrder = binary.BigEndian

// Database versions.  Versions start at 1 and increment for each database
// change.
const (
	// LatestVersion is the most recent store version.
	LatestVersion = 1
)

// Key names for various database fields.
var (
	rootVersion      = []byte("ver")
	rootSyncedHeight = []byte("synced")

	bucketTxRecords = []byte("t")
	bucketSpends    = []byte("s")
	bucketUnmined   = []byte("m")
	bucketCredits   = []byte("c")
)

// Types of the optional record metadata fields.
const (
	typeReplaces   tlv.Type = 1
	typeReplacedBy tlv.Type = 3
	typeComment    tlv.Type = 5
	typeConflicted tlv.Type = 7
)

// unminedHeight is the height recorded for transactions not yet in a block.
const unminedHeight int32 = -1

// canonicalOutPoint serializes an outpoint as a 36 byte key.
func canonicalOutPoint(txHash *chainhash.Hash, index uint32) []byte {
	k := make([]byte, 36)
	copy(k, txHash[:])
	byteOrder.PutUint32(k[32:36], index)
	return k
}

// keySpend is the key of the spend index entry recording that spender spends
// the outpoint.
func keySpend(op *wire.OutPoint, spender *chainhash.Hash) []byte {
	k := make([]byte, 68)
	copy(k, canonicalOutPoint(&op.Hash, op.Index))
	copy(k[36:], spender[:])
	return k
}

// The record value is serialized as such:
//
//   [0:4]     Block height (4 bytes, -1 when unmined)
//   [4:12]    Received time (8 bytes, unix seconds)
//   [12:16]   Length of the serialized transaction (4 bytes)
//   [16:16+n] Serialized transaction
//   [16+n:]   TLV stream of the record metadata

func valueTxRecord(rec *TxRecord) ([]byte, error) {
	if rec.SerializedTx == nil {
		var buf bytes.Buffer
		buf.Grow(rec.MsgTx.SerializeSize())
		if err := rec.MsgTx.Serialize(&buf); err != nil {
			return nil, err
		}
		rec.SerializedTx = buf.Bytes()
	}

	var b bytes.Buffer
	var header [16]byte
	byteOrder.PutUint32(header[0:4], uint32(rec.Height))
	byteOrder.PutUint64(header[4:12], uint64(rec.Received.Unix()))
	byteOrder.PutUint32(header[12:16], uint32(len(rec.SerializedTx)))
	b.Write(header[:])
	b.Write(rec.SerializedTx)

	if err := encodeMeta(&b, &rec.Meta); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func readRawTxRecord(txHash *chainhash.Hash, v []byte, rec *TxRecord) error {
	if len(v) < 16 {
		str := fmt.Sprintf("%s: short read (expected %d bytes, read %d)",
			bucketTxRecords, 16, len(v))
		return storeError(ErrData, str, nil)
	}

	txLen := int(byteOrder.Uint32(v[12:16]))
	if len(v) < 16+txLen {
		str := fmt.Sprintf("%s: short read (expected %d bytes, read %d)",
			bucketTxRecords, 16+txLen, len(v))
		return storeError(ErrData, str, nil)
	}

	rec.Hash = *txHash
	rec.Height = int32(byteOrder.Uint32(v[0:4]))
	rec.Received = time.Unix(int64(byteOrder.Uint64(v[4:12])), 0)
	rec.SerializedTx = append([]byte(nil), v[16:16+txLen]...)

	err := rec.MsgTx.Deserialize(bytes.NewReader(rec.SerializedTx))
	if err != nil {
		str := fmt.Sprintf("failed to deserialize transaction %v",
			txHash)
		return storeError(ErrData, str, err)
	}

	err = decodeMeta(bytes.NewReader(v[16+txLen:]), &rec.Meta)
	if err != nil {
		str := fmt.Sprintf("failed to decode metadata of transaction %v",
			txHash)
		return storeError(ErrData, str, err)
	}

	return nil
}

// encodeMeta writes the set fields of the metadata as a TLV stream.
func encodeMeta(w io.Writer, meta *TxMeta) error {
	var (
		records    []tlv.Record
		replaces   [32]byte
		replacedBy [32]byte
		comment    = []byte(meta.Comment)
		conflicted uint8
	)

	meta.Replaces.WhenSome(func(h chainhash.Hash) {
		replaces = h
		records = append(records, tlv.MakePrimitiveRecord(
			typeReplaces, &replaces,
		))
	})
	meta.ReplacedBy.WhenSome(func(h chainhash.Hash) {
		replacedBy = h
		records = append(records, tlv.MakePrimitiveRecord(
			typeReplacedBy, &replacedBy,
		))
	})
	if len(comment) > 0 {
		records = append(records, tlv.MakePrimitiveRecord(
			typeComment, &comment,
		))
	}
	if meta.Conflicted {
		conflicted = 1
		records = append(records, tlv.MakePrimitiveRecord(
			typeConflicted, &conflicted,
		))
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// decodeMeta reads the metadata TLV stream. Fields absent from the stream are
// left unset.
func decodeMeta(r io.Reader, meta *TxMeta) error {
	var (
		replaces   [32]byte
		replacedBy [32]byte
		comment    []byte
		conflicted uint8
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeReplaces, &replaces),
		tlv.MakePrimitiveRecord(typeReplacedBy, &replacedBy),
		tlv.MakePrimitiveRecord(typeComment, &comment),
		tlv.MakePrimitiveRecord(typeConflicted, &conflicted),
	)
	if err != nil {
		return err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return err
	}

	*meta = TxMeta{}
	if _, ok := parsed[typeReplaces]; ok {
		meta.Replaces = fn.Some(chainhash.Hash(replaces))
	}
	if _, ok := parsed[typeReplacedBy]; ok {
		meta.ReplacedBy = fn.Some(chainhash.Hash(replacedBy))
	}
	if _, ok := parsed[typeComment]; ok {
		meta.Comment = string(comment)
	}
	if _, ok := parsed[typeConflicted]; ok {
		meta.Conflicted = conflicted != 0
	}

	return nil
}

func putTxRecord(ns walletdb.ReadWriteBucket, rec *TxRecord) error {
	v, err := valueTxRecord(rec)
	if err != nil {
		str := fmt.Sprintf("failed to serialize transaction %v",
			rec.Hash)
		return storeError(ErrInput, str, err)
	}

	err = ns.NestedReadWriteBucket(bucketTxRecords).Put(rec.Hash[:], v)
	if err != nil {
		str := fmt.Sprintf("%s: put failed for %v", bucketTxRecords,
			rec.Hash)
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

func fetchTxRecord(ns walletdb.ReadBucket,
	txHash *chainhash.Hash) (*TxRecord, error) {

	v := ns.NestedReadBucket(bucketTxRecords).Get(txHash[:])
	if v == nil {
		return nil, nil
	}

	rec := new(TxRecord)
	if err := readRawTxRecord(txHash, v, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

func putSpend(ns walletdb.ReadWriteBucket, op *wire.OutPoint,
	spender *chainhash.Hash) error {

	k := keySpend(op, spender)
	err := ns.NestedReadWriteBucket(bucketSpends).Put(k, []byte{})
	if err != nil {
		str := "failed to put spend"
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

// fetchSpenders returns the recorded transactions spending the outpoint.
func fetchSpenders(ns walletdb.ReadBucket,
	op *wire.OutPoint) ([]chainhash.Hash, error) {

	prefix := canonicalOutPoint(&op.Hash, op.Index)

	var spenders []chainhash.Hash
	c := ns.NestedReadBucket(bucketSpends).ReadCursor()
	for k, _ := c.Seek(prefix); bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		var spender chainhash.Hash
		if err := spender.SetBytes(k[36:]); err != nil {
			return nil, storeError(ErrData, "bad spend key", err)
		}
		spenders = append(spenders, spender)
	}

	return spenders, nil
}

// existsSpendOf returns whether any output of txHash has a recorded spender.
func existsSpendOf(ns walletdb.ReadBucket, txHash *chainhash.Hash) bool {
	c := ns.NestedReadBucket(bucketSpends).ReadCursor()
	k, _ := c.Seek(txHash[:])

	return k != nil && bytes.HasPrefix(k, txHash[:])
}

func putUnmined(ns walletdb.ReadWriteBucket, txHash *chainhash.Hash) error {
	err := ns.NestedReadWriteBucket(bucketUnmined).Put(txHash[:], []byte{})
	if err != nil {
		str := "failed to put unmined record"
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

func putCredit(ns walletdb.ReadWriteBucket, op *wire.OutPoint) error {
	k := canonicalOutPoint(&op.Hash, op.Index)
	err := ns.NestedReadWriteBucket(bucketCredits).Put(k, []byte{})
	if err != nil {
		str := "failed to put credit"
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

func existsCredit(ns walletdb.ReadBucket, op *wire.OutPoint) bool {
	k := canonicalOutPoint(&op.Hash, op.Index)
	return ns.NestedReadBucket(bucketCredits).Get(k) != nil
}

func readCanonicalOutPoint(k []byte, op *wire.OutPoint) error {
	if len(k) != 36 {
		str := fmt.Sprintf("malformed outpoint key of %d bytes", len(k))
		return storeError(ErrData, str, nil)
	}

	copy(op.Hash[:], k[:32])
	op.Index = byteOrder.Uint32(k[32:36])

	return nil
}

// fetchSyncedHeight returns the height of the last block scanned for wallet
// transactions, or None before the first scan.
func fetchSyncedHeight(ns walletdb.ReadBucket) (fn.Option[int32], error) {
	v := ns.Get(rootSyncedHeight)
	if v == nil {
		return fn.None[int32](), nil
	}
	if len(v) != 4 {
		str := "malformed synced height"
		return fn.None[int32](), storeError(ErrData, str, nil)
	}

	return fn.Some(int32(byteOrder.Uint32(v))), nil
}

func putSyncedHeight(ns walletdb.ReadWriteBucket, height int32) error {
	var v [4]byte
	byteOrder.PutUint32(v[:], uint32(height))
	if err := ns.Put(rootSyncedHeight, v[:]); err != nil {
		str := "failed to store synced height"
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

func deleteUnmined(ns walletdb.ReadWriteBucket, txHash *chainhash.Hash) error {
	err := ns.NestedReadWriteBucket(bucketUnmined).Delete(txHash[:])
	if err != nil {
		str := "failed to delete unmined record"
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

// createStore creates the tx store within the passed namespace bucket.
func createStore(ns walletdb.ReadWriteBucket) error {
	// Ensure that nothing currently exists in the namespace bucket.
	if ns.Get(rootVersion) != nil {
		str := "tx store already exists in namespace"
		return storeError(ErrAlreadyExists, str, nil)
	}

	var v [4]byte
	byteOrder.PutUint32(v[:], LatestVersion)
	if err := ns.Put(rootVersion, v[:]); err != nil {
		str := "failed to store latest database version"
		return storeError(ErrDatabase, str, err)
	}

	for _, name := range [][]byte{
		bucketTxRecords, bucketSpends, bucketUnmined, bucketCredits,
	} {
		if _, err := ns.CreateBucket(name); err != nil {
			str := fmt.Sprintf("failed to create %s bucket", name)
			return storeError(ErrDatabase, str, err)
		}
	}

	return nil
}

// openStore checks the version of an existing tx store.
func openStore(ns walletdb.ReadBucket) error {
	v := ns.Get(rootVersion)
	if v == nil {
		str := "no transaction store exists in namespace"
		return storeError(ErrNoExist, str, nil)
	}
	if len(v) != 4 {
		str := "malformed database version"
		return storeError(ErrData, str, nil)
	}

	if version := byteOrder.Uint32(v); version != LatestVersion {
		str := fmt.Sprintf("unknown tx store version %d", version)
		return storeError(ErrData, str, nil)
	}

	return nil
}
