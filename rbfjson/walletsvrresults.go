// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rbfjson

// BumpFeeResult models the data from the bumpfee command. Fees are in BTC.
type BumpFeeResult struct {
	TxID   string  `json:"txid"`
	OldFee float64 `json:"oldfee"`
	Fee    float64 `json:"fee"`
}
