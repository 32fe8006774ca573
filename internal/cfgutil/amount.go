// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// AmountFlag embeds a btcutil.Amount and implements the flags.Marshaler and
// Unmarshaler interfaces so it can be used as a config struct field.  Values
// are given in bitcoin, optionally followed by the " BTC" unit.
type AmountFlag struct {
	btcutil.Amount
}

// NewAmountFlag creates an AmountFlag with a default btcutil.Amount.
func NewAmountFlag(defaultValue btcutil.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return a.Amount.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	amount, err := parseBTC(value, " BTC")
	if err != nil {
		return err
	}
	a.Amount = amount
	return nil
}

// parseBTC parses a non-negative bitcoin value with an optional unit suffix.
func parseBTC(value, suffix string) (btcutil.Amount, error) {
	value = strings.TrimSuffix(strings.TrimSpace(value), suffix)
	valueF64, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	amount, err := btcutil.NewAmount(valueF64)
	if err != nil {
		return 0, err
	}
	if amount < 0 {
		return 0, fmt.Errorf("negative amount %v", amount)
	}
	return amount, nil
}
