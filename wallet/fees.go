// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/rbfwallet/pkg/unit"
)

// feeRateForTarget returns the fee rate the wallet pays for confirmation
// within confTarget blocks: the configured pay-tx-fee, else the backend's
// estimate, else the fallback fee.
func (w *Wallet) feeRateForTarget(confTarget uint32) (unit.SatPerKVByte,
	error) {

	if w.cfg.PayTxFee > 0 {
		return w.cfg.PayTxFee, nil
	}

	estimate, err := w.chainClient.EstimateSmartFee(confTarget)
	if err != nil {
		return 0, newError(ErrBackend, "unable to estimate fee", err)
	}

	return estimate.UnwrapOr(w.cfg.FallbackFee), nil
}

// relayFee returns the minimum relay fee rate of the backend.
func (w *Wallet) relayFee() (unit.SatPerKVByte, error) {
	relay, err := w.chainClient.RelayFee()
	if err != nil {
		return 0, newError(ErrBackend, "unable to query relay fee", err)
	}

	return relay, nil
}

// MinimumFee returns the fee the wallet pays for a transaction of the given
// virtual size. It is never below the fee required by the configured minimum
// and the backend's relay fee, and never above the configured maximum.
func (w *Wallet) MinimumFee(vsize unit.VByte,
	confTarget uint32) (btcutil.Amount, error) {

	rate, err := w.feeRateForTarget(confTarget)
	if err != nil {
		return 0, err
	}

	relay, err := w.relayFee()
	if err != nil {
		return 0, err
	}

	fee := rate.FeeForVSize(vsize)
	required := unit.MaxRate(w.cfg.MinTxFee, relay).FeeForVSize(vsize)
	if fee < required {
		fee = required
	}
	if fee > w.cfg.MaxTxFee {
		fee = w.cfg.MaxTxFee
	}

	return fee, nil
}
