// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txrules provides transaction rules that should be followed by
// transaction authors for wide mempool acceptance and quick mining.
package txrules

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/btcsuite/rbfwallet/wallet/txsizes"
)

// DefaultRelayFeePerKb is the default minimum relay fee policy for a mempool.
const DefaultRelayFeePerKb unit.SatPerKVByte = 1e3

// dustRelayMultiplier is how many times the relay fee for creating and
// spending an output its value must exceed to not be dust.
const dustRelayMultiplier = 3

// GetDustThreshold returns the smallest value an output paying to pkScript
// may carry without being dust under the given relay fee policy. The cost is
// the size of the output plus the size of an input spending it.
func GetDustThreshold(pkScript []byte, relayFee unit.SatPerKVByte) btcutil.Amount {
	totalSize := txsizes.OutputSize(len(pkScript)) +
		txsizes.SpendSize(pkScript)

	return dustRelayMultiplier * relayFee.FeeForVSize(unit.VByte(totalSize))
}

// IsDustAmount determines whether an output of the given value paying to
// pkScript would be considered dust.
func IsDustAmount(amount btcutil.Amount, pkScript []byte,
	relayFee unit.SatPerKVByte) bool {

	return amount < GetDustThreshold(pkScript, relayFee)
}

// IsDustOutput determines whether a transaction output is considered dust.
// Transactions with dust outputs are not standard and are rejected by mempools
// with default policies.
func IsDustOutput(output *wire.TxOut, relayFee unit.SatPerKVByte) bool {
	// Unspendable outputs which solely carry data are not checked for dust.
	if txscript.GetScriptClass(output.PkScript) == txscript.NullDataTy {
		return false
	}

	// All other unspendable outputs are considered dust.
	if txscript.IsUnspendable(output.PkScript) {
		return true
	}

	return IsDustAmount(
		btcutil.Amount(output.Value), output.PkScript, relayFee,
	)
}

// Transaction rule violations.
var (
	// ErrAmountNegative is returned for an output with a negative value.
	ErrAmountNegative = errors.New("transaction output amount is " +
		"negative")

	// ErrAmountExceedsMax is returned for an output above the money
	// supply.
	ErrAmountExceedsMax = errors.New("transaction output amount exceeds " +
		"maximum value")

	// ErrOutputIsDust is returned for an output below the dust threshold.
	ErrOutputIsDust = errors.New("transaction output is dust")
)

// CheckOutput performs simple consensus and policy tests on a transaction
// output.
func CheckOutput(output *wire.TxOut, relayFee unit.SatPerKVByte) error {
	if output.Value < 0 {
		return ErrAmountNegative
	}
	if output.Value > btcutil.MaxSatoshi {
		return ErrAmountExceedsMax
	}
	if IsDustOutput(output, relayFee) {
		return ErrOutputIsDust
	}
	return nil
}
