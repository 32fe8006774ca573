// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"strconv"

	"github.com/btcsuite/rbfwallet/pkg/unit"
)

// FeeRateFlag embeds a unit.SatPerKVByte and implements the flags.Marshaler
// and Unmarshaler interfaces.  Rates are given in BTC/kvB, the unit used by
// bitcoind for its fee options.
type FeeRateFlag struct {
	unit.SatPerKVByte
}

// NewFeeRateFlag creates a FeeRateFlag with a default rate.
func NewFeeRateFlag(defaultValue unit.SatPerKVByte) *FeeRateFlag {
	return &FeeRateFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (f *FeeRateFlag) MarshalFlag() (string, error) {
	btc := strconv.FormatFloat(f.ToBTCPerKVByte(), 'f', -1, 64)
	return btc + " BTC/kvB", nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (f *FeeRateFlag) UnmarshalFlag(value string) error {
	amount, err := parseBTC(value, " BTC/kvB")
	if err != nil {
		return err
	}
	f.SatPerKVByte = unit.SatPerKVByte(amount)
	return nil
}
