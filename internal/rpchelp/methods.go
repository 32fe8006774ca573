// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpchelp

import "github.com/btcsuite/rbfwallet/rbfjson"

// Common return types.
var (
	returnsString = []interface{}{(*string)(nil)}
)

// Methods contains all methods and result types that help is generated for,
// for every locale.
var Methods = []struct {
	Method      string
	ResultTypes []interface{}
}{
	{"bumpfee", []interface{}{(*rbfjson.BumpFeeResult)(nil)}},
	{"getnewaddress", returnsString},
	{"help", append(returnsString, returnsString[0])},
	{"sendtoaddress", returnsString},
	{"stop", returnsString},
	{"sweepprivkeys", returnsString},
}

// HelpDescs contains the locale-specific help strings along with the locale.
var HelpDescs = []struct {
	Locale   string // Actual locale, e.g. en_US
	GoLocale string // Locale used in Go names, e.g. EnUS
	Descs    map[string]string
}{
	{"en_US", "EnUS", helpDescsEnUS}, // helpdescs_en_US.go
}
