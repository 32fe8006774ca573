// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package unit provides a set of types for dealing with bitcoin units.
package unit

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// SatsPerKilo is the number of size units a fee rate is denominated in.
const SatsPerKilo = 1000

// SatPerKVByte represents a fee rate in sat/kvb. The rate is integral so the
// fee computed while building a transaction is exactly the fee a relaying
// node recomputes when checking it.
type SatPerKVByte btcutil.Amount

// NewSatPerKVByte creates a new fee rate in sat/kvb from the fee paid by a
// transaction of the given virtual size. A zero size yields a zero rate.
func NewSatPerKVByte(fee btcutil.Amount, vb VByte) SatPerKVByte {
	if vb == 0 {
		return 0
	}

	return SatPerKVByte(int64(fee) * SatsPerKilo / int64(vb))
}

// FromBTCPerKVByte converts a rate expressed in BTC/kvB, as reported by
// bitcoind, to sat/kvb.
func FromBTCPerKVByte(btcPerKVByte float64) (SatPerKVByte, error) {
	amt, err := btcutil.NewAmount(btcPerKVByte)
	if err != nil {
		return 0, err
	}

	return SatPerKVByte(amt), nil
}

// FeeForVSize calculates the fee resulting from this fee rate and the given
// vsize in vbytes. The result is rounded down, except that a non-zero rate
// applied to a non-empty transaction never yields a zero fee.
func (s SatPerKVByte) FeeForVSize(vb VByte) btcutil.Amount {
	fee := int64(s) * int64(vb) / SatsPerKilo

	if fee == 0 && vb != 0 {
		switch {
		case s > 0:
			fee = 1
		case s < 0:
			fee = -1
		}
	}

	return btcutil.Amount(fee)
}

// Add returns the sum of both fee rates.
func (s SatPerKVByte) Add(other SatPerKVByte) SatPerKVByte {
	return s + other
}

// ToBTCPerKVByte returns the rate in BTC/kvB.
func (s SatPerKVByte) ToBTCPerKVByte() float64 {
	return btcutil.Amount(s).ToBTC()
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	return fmt.Sprintf("%d sat/kvb", int64(s))
}

// MaxRate returns the highest of the given fee rates, or zero when none are
// given.
func MaxRate(rates ...SatPerKVByte) SatPerKVByte {
	var highest SatPerKVByte
	for _, r := range rates {
		if r > highest {
			highest = r
		}
	}

	return highest
}
