// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/rbfwallet/internal/cfgutil"
	"github.com/btcsuite/rbfwallet/netparams"
	"github.com/btcsuite/rbfwallet/rbfjson"
	"github.com/jessevdk/go-flags"
	"golang.org/x/term"
)

var newlineBytes = []byte{'\n'}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Stderr.Write(newlineBytes)
	os.Exit(1)
}

func errContext(err error, context string) error {
	return fmt.Errorf("%s: %w", context, err)
}

// Flags.
var opts = struct {
	TestNet3    bool   `long:"testnet" description:"Use the test bitcoin network (version 3)"`
	TestNet4    bool   `long:"testnet4" description:"Use the test bitcoin network (version 4)"`
	RegTest     bool   `long:"regtest" description:"Use the regression test network"`
	SigNet      bool   `long:"signet" description:"Use the default signet network"`
	RPCConnect  string `short:"c" long:"connect" description:"Hostname[:port] of wallet RPC server"`
	RPCUsername string `short:"u" long:"rpcuser" description:"Wallet RPC username"`
	Label       string `short:"l" long:"label" description:"Address book label of the receiving address"`
	Comment     string `long:"comment" description:"Comment recorded with the sweep transaction"`
}{
	RPCConnect: "localhost",
}

var activeNet = &netparams.MainNetParams

// parseFlags parses and validates the flags.
func parseFlags() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	numNets := 0
	if opts.TestNet3 {
		activeNet = &netparams.TestNet3Params
		numNets++
	}
	if opts.TestNet4 {
		activeNet = &netparams.TestNet4Params
		numNets++
	}
	if opts.RegTest {
		activeNet = &netparams.RegressionNetParams
		numNets++
	}
	if opts.SigNet {
		activeNet = &netparams.SigNetParams
		numNets++
	}
	if numNets > 1 {
		fatalf("Multiple bitcoin networks may not be used simultaneously")
	}

	if opts.RPCConnect == "" {
		fatalf("RPC hostname[:port] is required")
	}
	rpcConnect, err := cfgutil.NormalizeAddress(opts.RPCConnect, activeNet.RPCServerPort)
	if err != nil {
		fatalf("Invalid RPC network address `%v`: %v", opts.RPCConnect, err)
	}
	opts.RPCConnect = rpcConnect

	if opts.RPCUsername == "" {
		fatalf("RPC username is required")
	}
}

func main() {
	parseFlags()

	err := sweep()
	if err != nil {
		fatalf("%v", err)
	}
}

func sweep() error {
	rpcPassword, err := promptSecret("Wallet RPC password")
	if err != nil {
		return errContext(err, "failed to read RPC password")
	}

	// Keys are read until an empty line is entered.
	var keys []string
	for {
		key, err := promptSecret(fmt.Sprintf("Private key #%d (WIF, "+
			"empty to finish)", len(keys)+1))
		if err != nil {
			return errContext(err, "failed to read private key")
		}
		if key == "" {
			break
		}
		keys = append(keys, key)
	}

	params, err := sweepParams(keys, opts.Label, opts.Comment,
		activeNet.Params)
	if err != nil {
		return err
	}

	rpcClient, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         opts.RPCConnect,
		User:         opts.RPCUsername,
		Pass:         rpcPassword,
		DisableTLS:   true,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return errContext(err, "failed to create RPC client")
	}
	defer rpcClient.Shutdown()

	result, err := rpcClient.RawRequest("sweepprivkeys", params)
	if err != nil {
		return errContext(err, "failed to sweep keys")
	}

	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return errContext(err, "unexpected sweepprivkeys result")
	}

	fmt.Printf("Swept %d %s with transaction %v\n", len(keys),
		pickNoun(len(keys), "key", "keys"), txid)

	return nil
}

// sweepParams checks the keys belong to the network and returns the
// parameters of the sweepprivkeys request.
func sweepParams(keys []string, label, comment string,
	params *chaincfg.Params) ([]json.RawMessage, error) {

	if len(keys) == 0 {
		return nil, errors.New("no private keys to sweep")
	}
	for i, key := range keys {
		wif, err := btcutil.DecodeWIF(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("private key #%d is invalid: %w",
				i+1, err)
		}
		if !wif.IsForNet(params) {
			return nil, fmt.Errorf("private key #%d is not for %s",
				i+1, params.Name)
		}
		keys[i] = strings.TrimSpace(key)
	}

	var labelPtr, commentPtr *string
	if label != "" {
		labelPtr = &label
	}
	if comment != "" {
		commentPtr = &comment
	}
	cmd := rbfjson.NewSweepPrivKeysCmd(keys, labelPtr, commentPtr)

	// Marshal through the registered command so the request is checked
	// against the method's parameters.
	marshaled, err := btcjson.MarshalCmd(btcjson.RpcVersion1, 1, cmd)
	if err != nil {
		return nil, err
	}
	var request btcjson.Request
	if err := json.Unmarshal(marshaled, &request); err != nil {
		return nil, err
	}

	return request.Params, nil
}

func promptSecret(what string) (string, error) {
	fmt.Printf("%s: ", what)
	fd := int(os.Stdin.Fd())
	input, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(input), nil
}

func pickNoun(n int, singularForm, pluralForm string) string {
	if n == 1 {
		return singularForm
	}
	return pluralForm
}
