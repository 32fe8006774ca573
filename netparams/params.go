// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// RPCClientPort is the default RPC port of bitcoind on the network.
	RPCClientPort string

	// RPCServerPort is the default port of the wallet RPC server.
	RPCServerPort string
}

// MainNetParams contains parameters specific running rbfwallet and
// bitcoind on the main network (wire.MainNet).
var MainNetParams = Params{
	Params:        &chaincfg.MainNetParams,
	RPCClientPort: "8332",
	RPCServerPort: "8338",
}

// TestNet3Params contains parameters specific running rbfwallet and
// bitcoind on the test network (version 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:        &chaincfg.TestNet3Params,
	RPCClientPort: "18332",
	RPCServerPort: "18338",
}

// TestNet4Params contains parameters specific running rbfwallet and
// bitcoind on the test network (version 4).
var TestNet4Params = Params{
	Params:        &TestNet4ChainParams,
	RPCClientPort: "48332",
	RPCServerPort: "48338",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:        &chaincfg.RegressionNetParams,
	RPCClientPort: "18443",
	RPCServerPort: "18448",
}

// SigNetParams contains parameters specific to the default signet
// (wire.SigNet).
var SigNetParams = Params{
	Params:        &chaincfg.SigNetParams,
	RPCClientPort: "38332",
	RPCServerPort: "38338",
}

// ByName returns the parameters of the named network.
func ByName(name string) (*Params, error) {
	for _, params := range []*Params{
		&MainNetParams, &TestNet3Params, &TestNet4Params,
		&RegressionNetParams, &SigNetParams,
	} {
		if params.Name == name {
			return params, nil
		}
	}

	return nil, fmt.Errorf("unknown network %q", name)
}
