// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rbfjson defines the JSON-RPC commands and results of the fee bump
// and key sweep wallet methods. Commands are registered with btcjson so they
// can be marshaled, unmarshaled and documented like any other btcjson
// command.
package rbfjson

import "github.com/btcsuite/btcd/btcjson"

// BumpFeeOptions are the optional parameters of a bumpfee request. The usage
// tags keep the camel case keys in the one line usage, which otherwise shows
// lowercased field names the request parser does not accept.
type BumpFeeOptions struct {
	ConfTarget *int64 `json:"confTarget,omitempty" jsonrpcusage:"\"confTarget\":n"`
	TotalFee   *int64 `json:"totalFee,omitempty" jsonrpcusage:"\"totalFee\":n"`
}

// BumpFeeCmd defines the bumpfee JSON-RPC command.
type BumpFeeCmd struct {
	TxID    string
	Options *BumpFeeOptions
}

// NewBumpFeeCmd returns a new instance which can be used to issue a bumpfee
// JSON-RPC command.
//
// The parameters which are pointers indicate they are optional.  Passing nil
// for optional parameters will use the default value.
func NewBumpFeeCmd(txID string, options *BumpFeeOptions) *BumpFeeCmd {
	return &BumpFeeCmd{
		TxID:    txID,
		Options: options,
	}
}

// SweepPrivKeysOptions are the parameters of a sweepprivkeys request.
type SweepPrivKeysOptions struct {
	PrivKeys []string `json:"privkeys"`
	Label    *string  `json:"label,omitempty"`
	Comment  *string  `json:"comment,omitempty"`
}

// SweepPrivKeysCmd defines the sweepprivkeys JSON-RPC command.
type SweepPrivKeysCmd struct {
	Options SweepPrivKeysOptions
}

// NewSweepPrivKeysCmd returns a new instance which can be used to issue a
// sweepprivkeys JSON-RPC command.
func NewSweepPrivKeysCmd(privKeys []string, label,
	comment *string) *SweepPrivKeysCmd {

	return &SweepPrivKeysCmd{
		Options: SweepPrivKeysOptions{
			PrivKeys: privKeys,
			Label:    label,
			Comment:  comment,
		},
	}
}

func init() {
	// The commands in this file are only usable with a wallet server.
	flags := btcjson.UFWalletOnly

	btcjson.MustRegisterCmd("bumpfee", (*BumpFeeCmd)(nil), flags)
	btcjson.MustRegisterCmd("sweepprivkeys", (*SweepPrivKeysCmd)(nil), flags)
}
