// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// LatestMgrVersion is the most recent manager version.
	LatestMgrVersion = 1

	// externalBranch is the branch keys handed out through the keypool are
	// derived from.
	externalBranch uint32 = 0

	// internalBranch is the branch change keys are derived from.
	internalBranch uint32 = 1
)

// Key names for various database fields.
var (
	mgrVersionName   = []byte("mgrver")
	masterKeyName    = []byte("acctprivkey")
	nextExternalName = []byte("nextext")
	nextInternalName = []byte("nextint")

	// keyPoolBucketName is the bucket of external key indexes generated
	// ahead of use and not yet handed out.
	keyPoolBucketName = []byte("keypool")

	// scriptBucketName maps every output script paying to a wallet key to
	// the derivation path of the key.
	scriptBucketName = []byte("scripts")

	// addrBookBucketName maps encoded addresses to their address book
	// entry.
	addrBookBucketName = []byte("addrbook")
)

// Types of the address book entry fields.
const (
	typeAddrBookLabel   tlv.Type = 1
	typeAddrBookPurpose tlv.Type = 3
)

// byteOrder is the preferred byte order used for serializing numeric fields
// for storage in the database.
var byteOrder = binary.BigEndian

// keyPath is the derivation path of a wallet key below the account key.
type keyPath struct {
	branch uint32
	index  uint32
}

func serializeKeyPath(p keyPath) []byte {
	var v [8]byte
	byteOrder.PutUint32(v[0:4], p.branch)
	byteOrder.PutUint32(v[4:8], p.index)
	return v[:]
}

func deserializeKeyPath(v []byte) (keyPath, error) {
	if len(v) != 8 {
		str := fmt.Sprintf("malformed key path of %d bytes", len(v))
		return keyPath{}, managerError(ErrData, str, nil)
	}

	return keyPath{
		branch: byteOrder.Uint32(v[0:4]),
		index:  byteOrder.Uint32(v[4:8]),
	}, nil
}

func uint32Bytes(n uint32) []byte {
	var v [4]byte
	byteOrder.PutUint32(v[:], n)
	return v[:]
}

// fetchUint32 reads a numeric field of the namespace. Missing fields read as
// zero.
func fetchUint32(ns walletdb.ReadBucket, name []byte) (uint32, error) {
	v := ns.Get(name)
	if v == nil {
		return 0, nil
	}
	if len(v) != 4 {
		str := fmt.Sprintf("malformed %s field", name)
		return 0, managerError(ErrData, str, nil)
	}

	return byteOrder.Uint32(v), nil
}

func putUint32(ns walletdb.ReadWriteBucket, name []byte, n uint32) error {
	if err := ns.Put(name, uint32Bytes(n)); err != nil {
		str := fmt.Sprintf("failed to store %s", name)
		return managerError(ErrDatabase, str, err)
	}

	return nil
}

// nextIndexName returns the field holding the next unused index of the
// branch.
func nextIndexName(branch uint32) []byte {
	if branch == internalBranch {
		return nextInternalName
	}

	return nextExternalName
}

func putScript(ns walletdb.ReadWriteBucket, pkScript []byte, p keyPath) error {
	bucket := ns.NestedReadWriteBucket(scriptBucketName)
	if err := bucket.Put(pkScript, serializeKeyPath(p)); err != nil {
		str := "failed to store script"
		return managerError(ErrDatabase, str, err)
	}

	return nil
}

// fetchScript returns the key path of the script, or false when the script
// does not pay to a wallet key.
func fetchScript(ns walletdb.ReadBucket, pkScript []byte) (keyPath, bool,
	error) {

	v := ns.NestedReadBucket(scriptBucketName).Get(pkScript)
	if v == nil {
		return keyPath{}, false, nil
	}

	p, err := deserializeKeyPath(v)
	if err != nil {
		return keyPath{}, false, err
	}

	return p, true, nil
}

// AddressBookEntry is a labeled address of the wallet's address book.
type AddressBookEntry struct {
	Label   string
	Purpose string
}

func serializeAddrBookEntry(e *AddressBookEntry) ([]byte, error) {
	label := []byte(e.Label)
	purpose := []byte(e.Purpose)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeAddrBookLabel, &label),
		tlv.MakePrimitiveRecord(typeAddrBookPurpose, &purpose),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func deserializeAddrBookEntry(r io.Reader) (*AddressBookEntry, error) {
	var label, purpose []byte

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeAddrBookLabel, &label),
		tlv.MakePrimitiveRecord(typeAddrBookPurpose, &purpose),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	return &AddressBookEntry{
		Label:   string(label),
		Purpose: string(purpose),
	}, nil
}

func putAddrBookEntry(ns walletdb.ReadWriteBucket, addr string,
	e *AddressBookEntry) error {

	v, err := serializeAddrBookEntry(e)
	if err != nil {
		str := fmt.Sprintf("failed to encode address book entry for %s",
			addr)
		return managerError(ErrInput, str, err)
	}

	err = ns.NestedReadWriteBucket(addrBookBucketName).Put([]byte(addr), v)
	if err != nil {
		str := fmt.Sprintf("failed to store address book entry for %s",
			addr)
		return managerError(ErrDatabase, str, err)
	}

	return nil
}

func fetchAddrBookEntry(ns walletdb.ReadBucket,
	addr string) (*AddressBookEntry, error) {

	v := ns.NestedReadBucket(addrBookBucketName).Get([]byte(addr))
	if v == nil {
		return nil, nil
	}

	e, err := deserializeAddrBookEntry(bytes.NewReader(v))
	if err != nil {
		str := fmt.Sprintf("failed to decode address book entry for %s",
			addr)
		return nil, managerError(ErrData, str, err)
	}

	return e, nil
}

func deleteAddrBookEntry(ns walletdb.ReadWriteBucket, addr string) error {
	err := ns.NestedReadWriteBucket(addrBookBucketName).Delete([]byte(addr))
	if err != nil {
		str := fmt.Sprintf("failed to delete address book entry for %s",
			addr)
		return managerError(ErrDatabase, str, err)
	}

	return nil
}

// createManagerNS creates the buckets and fields of a new address manager.
func createManagerNS(ns walletdb.ReadWriteBucket, acctKey string) error {
	if ns.Get(mgrVersionName) != nil {
		str := "address manager already exists in namespace"
		return managerError(ErrAlreadyExists, str, nil)
	}

	if err := putUint32(ns, mgrVersionName, LatestMgrVersion); err != nil {
		return err
	}

	if err := ns.Put(masterKeyName, []byte(acctKey)); err != nil {
		str := "failed to store account key"
		return managerError(ErrDatabase, str, err)
	}

	for _, name := range [][]byte{
		keyPoolBucketName, scriptBucketName, addrBookBucketName,
	} {
		if _, err := ns.CreateBucket(name); err != nil {
			str := fmt.Sprintf("failed to create %s bucket", name)
			return managerError(ErrDatabase, str, err)
		}
	}

	return nil
}
