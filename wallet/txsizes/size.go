// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txsizes provides serialize size estimates for the scripts, inputs
// and outputs handled by the wallet.
package txsizes

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Worst case script and input/output size estimates.
const (
	// RedeemP2PKHSigScriptSize is the worst case (largest) serialize size
	// of a transaction input script that redeems a compressed P2PKH output.
	// It is calculated as:
	//
	//   - OP_DATA_73
	//   - 72 bytes DER signature + 1 byte sighash
	//   - OP_DATA_33
	//   - 33 bytes serialized compressed pubkey
	RedeemP2PKHSigScriptSize = 1 + 73 + 1 + 33

	// P2PKHPkScriptSize is the size of a transaction output script that
	// pays to a compressed pubkey hash.
	P2PKHPkScriptSize = 1 + 1 + 1 + 20 + 1 + 1

	// RedeemP2PKHInputSize is the worst case (largest) serialize size of a
	// transaction input redeeming a compressed P2PKH output:
	//
	//   - 32 bytes previous tx
	//   - 4 bytes output index
	//   - 1 byte compact int encoding value 107
	//   - 107 bytes signature script
	//   - 4 bytes sequence
	RedeemP2PKHInputSize = 32 + 4 + 1 + RedeemP2PKHSigScriptSize + 4

	// RedeemP2WPKHInputSize is the worst case size of a transaction input
	// redeeming a P2WPKH output, without its witness. The signature
	// script of a P2WPKH spend is empty.
	RedeemP2WPKHInputSize = 32 + 4 + 1 + 4

	// RedeemNestedP2WPKHScriptSize is the size of the signature script
	// redeeming a P2WPKH output nested in P2SH:
	//
	//   - 1 byte compact int encoding value 22
	//   - OP_0
	//   - 1 byte compact int encoding value 20
	//   - 20 byte key hash
	RedeemNestedP2WPKHScriptSize = 1 + 1 + 1 + 20

	// RedeemNestedP2WPKHInputSize is the worst case size of a transaction
	// input redeeming a nested P2WPKH output, without its witness.
	RedeemNestedP2WPKHInputSize = 32 + 4 + 1 +
		RedeemNestedP2WPKHScriptSize + 4

	// RedeemP2WPKHInputWitnessWeight is the worst case weight of a witness
	// spending a P2WPKH or nested P2WPKH output:
	//
	//   - 1 wu compact int encoding value 2 (number of items)
	//   - 1 wu compact int encoding value 73
	//   - 72 wu DER signature + 1 wu sighash
	//   - 1 wu compact int encoding value 33
	//   - 33 wu serialized compressed pubkey
	RedeemP2WPKHInputWitnessWeight = 1 + 1 + 73 + 1 + 33

	// P2PKPkScriptSize is the size of a transaction output script that
	// pays to a compressed pubkey directly:
	//
	//   - OP_DATA_33
	//   - 33 bytes serialized compressed pubkey
	//   - OP_CHECKSIG
	P2PKPkScriptSize = 1 + 33 + 1

	// P2WPKHPkScriptSize is the size of a transaction output script that
	// pays to a witness pubkey hash.
	P2WPKHPkScriptSize = 1 + 1 + 20

	// DustSpendSize is the size assumed for the input that eventually
	// spends a non-witness output when deciding whether that output is
	// dust:
	//
	//   - 32 bytes previous tx
	//   - 4 bytes output index
	//   - 1 byte compact int encoding value 107
	//   - 107 bytes signature script
	//   - 4 bytes sequence
	DustSpendSize = 32 + 4 + 1 + 107 + 4

	// DustWitnessSpendSize is the virtual size assumed for the input that
	// eventually spends a witness program output, with the 107 bytes of
	// witness data discounted by the witness scale factor.
	DustWitnessSpendSize = 32 + 4 + 1 + 107/blockchain.WitnessScaleFactor + 4
)

// OutputSize returns the serialize size of a transaction output paying to a
// script of the given length:
//
//   - 8 bytes output value
//   - compact int encoding the script length
//   - the script itself
func OutputSize(pkScriptLen int) int {
	return 8 + wire.VarIntSerializeSize(uint64(pkScriptLen)) + pkScriptLen
}

// SpendSize returns the input size assumed for spending an output paying to
// pkScript.
func SpendSize(pkScript []byte) int {
	if txscript.IsWitnessProgram(pkScript) {
		return DustWitnessSpendSize
	}

	return DustSpendSize
}

// EstimateVirtualSize returns a worst case virtual size estimate for a signed
// transaction spending the given numbers of P2PKH, P2WPKH and nested P2WPKH
// outputs and paying to txOuts. A change output paying to a script of
// changeScriptSize bytes is added to the estimate when the size is positive.
func EstimateVirtualSize(numP2PKHIns, numP2WPKHIns, numNestedP2WPKHIns int,
	txOuts []*wire.TxOut, changeScriptSize int) int {

	outputCount := len(txOuts)
	changeOutputSize := 0
	if changeScriptSize > 0 {
		changeOutputSize = OutputSize(changeScriptSize)
		outputCount++
	}

	numIns := numP2PKHIns + numP2WPKHIns + numNestedP2WPKHIns

	// Version 4 bytes + LockTime 4 bytes + the counts of inputs and
	// outputs + the inputs without witness + the outputs.
	baseSize := 8 +
		wire.VarIntSerializeSize(uint64(numIns)) +
		wire.VarIntSerializeSize(uint64(outputCount)) +
		numP2PKHIns*RedeemP2PKHInputSize +
		numP2WPKHIns*RedeemP2WPKHInputSize +
		numNestedP2WPKHIns*RedeemNestedP2WPKHInputSize +
		changeOutputSize
	for _, txOut := range txOuts {
		baseSize += txOut.SerializeSize()
	}

	witnessWeight := 0
	if numWitness := numP2WPKHIns + numNestedP2WPKHIns; numWitness > 0 {
		// Two extra weight units for the segwit marker and flag.
		witnessWeight = 2 +
			wire.VarIntSerializeSize(uint64(numWitness)) +
			numWitness*RedeemP2WPKHInputWitnessWeight
	}

	// Adding 3 rounds the discounted witness weight up.
	return baseSize + (witnessWeight+3)/blockchain.WitnessScaleFactor
}
