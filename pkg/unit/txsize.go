// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package unit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// WeightUnit defines a unit to express the transaction size. The tx weight is
// calculated using `Base tx size * 3 + Total tx size`.
//   - Base tx size is size of the transaction serialized without the witness
//     data.
//   - Total tx size is the transaction size in bytes serialized according
//     #BIP144.
type WeightUnit uint64

// NewWeightUnit creates a new WeightUnit from a uint64.
func NewWeightUnit(val uint64) WeightUnit {
	return WeightUnit(val)
}

// ToVB converts a value expressed in weight units to virtual bytes, rounding
// up to the next integer as required by BIP141.
func (wu WeightUnit) ToVB() VByte {
	scale := uint64(blockchain.WitnessScaleFactor)
	return VByte((uint64(wu) + scale - 1) / scale)
}

// String returns the string representation of the weight unit.
func (wu WeightUnit) String() string {
	return fmt.Sprintf("%d wu", uint64(wu))
}

// VByte defines a unit to express the transaction size. One virtual byte is
// four weight units.
type VByte uint64

// NewVByte creates a new VByte from a uint64.
func NewVByte(val uint64) VByte {
	return VByte(val)
}

// ToWU converts a value expressed in virtual bytes to weight units.
func (vb VByte) ToWU() WeightUnit {
	return WeightUnit(uint64(vb) * blockchain.WitnessScaleFactor)
}

// String returns the string representation of the virtual byte.
func (vb VByte) String() string {
	return fmt.Sprintf("%d vb", uint64(vb))
}

// TxWeight returns the weight of the transaction including whatever witness
// data it currently carries.
func TxWeight(tx *wire.MsgTx) WeightUnit {
	return WeightUnit(blockchain.GetTransactionWeight(btcutil.NewTx(tx)))
}

// TxVirtualSize returns the virtual size of the transaction. Signature sizes
// vary by a byte or so, so the result is only final for a signed transaction.
func TxVirtualSize(tx *wire.MsgTx) VByte {
	return TxWeight(tx).ToVB()
}
