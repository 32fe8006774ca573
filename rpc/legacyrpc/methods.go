// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package legacyrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/rbfwallet/internal/rpchelp"
	"github.com/btcsuite/rbfwallet/rbfjson"
	"github.com/btcsuite/rbfwallet/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// rpcWallet is the part of the wallet used by the RPC handlers.
type rpcWallet interface {
	BumpFee(txHash *chainhash.Hash,
		req *wallet.BumpFeeRequest) (*wallet.BumpFeeResult, error)

	SweepPrivKeys(req *wallet.SweepRequest) (*chainhash.Hash, error)

	NewAddress(label string) (btcutil.Address, error)

	SendToAddress(req *wallet.SendRequest) (*chainhash.Hash, error)

	ChainParams() *chaincfg.Params
}

// A compile-time assertion to ensure the wallet serves the handlers.
var _ rpcWallet = (*wallet.Wallet)(nil)

// requestHandler is a handler function to handle an unmarshaled and parsed
// request into a marshalable response.  If the error is a *btcjson.RPCError
// or any of the above special error classes, the server will respond with
// the JSON-RPC appropiate error code.  All other errors use the wallet
// catch-all error code, btcjson.ErrRPCWallet.
type requestHandler func(interface{}, rpcWallet) (interface{}, error)

// requestParser parses the parameters of a request into the command passed
// to its handler.
type requestParser func(*btcjson.Request) (interface{}, error)

var rpcHandlers = map[string]struct {
	handler requestHandler

	// parse replaces btcjson.UnmarshalCmd for requests whose
	// parameters btcjson can not describe.
	parse requestParser

	// noWallet marks handlers that can run before a wallet is loaded.
	noWallet bool

	// Function variables cannot be compared against anything but nil, so
	// use a boolean to record whether help generation is necessary.  This
	// is used by the tests to ensure that help can be generated for every
	// implemented method.
	noHelp bool
}{
	"bumpfee":       {handler: bumpFee, parse: parseBumpFee},
	"getnewaddress": {handler: getNewAddress},
	"help":          {handler: help, noWallet: true},
	"sendtoaddress": {handler: sendToAddress},
	"sweepprivkeys": {handler: sweepPrivKeys, parse: parseSweepPrivKeys},
}

// lazyHandler is a closure over a requestHandler with the RPC server's wallet
// as part of the closure context.
type lazyHandler func() (interface{}, *btcjson.RPCError)

// lazyApplyHandler looks up the request handler func for the method,
// returning a closure that will execute it with the wallet.  The wallet may
// be nil for handlers that do not need one.
func lazyApplyHandler(request *btcjson.Request, w rpcWallet) lazyHandler {
	handlerData, ok := rpcHandlers[request.Method]
	if !ok {
		return func() (interface{}, *btcjson.RPCError) {
			return nil, btcjson.ErrRPCMethodNotFound
		}
	}

	if w == nil && !handlerData.noWallet {
		return func() (interface{}, *btcjson.RPCError) {
			return nil, &ErrUnloadedWallet
		}
	}

	parse := handlerData.parse
	if parse == nil {
		parse = unmarshalCmd
	}

	return func() (interface{}, *btcjson.RPCError) {
		cmd, err := parse(request)
		if err != nil {
			return nil, jsonError(err)
		}

		resp, err := handlerData.handler(cmd, w)
		if err != nil {
			return nil, jsonError(err)
		}

		return resp, nil
	}
}

// unmarshalCmd unmarshals the request into its registered btcjson command.
func unmarshalCmd(request *btcjson.Request) (interface{}, error) {
	cmd, err := btcjson.UnmarshalCmd(request)
	if err != nil {
		return nil, InvalidParameterError{err}
	}

	return cmd, nil
}

// checkOptionKeys returns an error when the JSON object holds keys other than
// the known ones.
func checkOptionKeys(raw json.RawMessage, known ...string) error {
	var options map[string]json.RawMessage
	if err := json.Unmarshal(raw, &options); err != nil {
		return InvalidParameterError{
			fmt.Errorf("Expected type object: %v", err),
		}
	}

	if len(options) > len(known) {
		return ErrTooManyOptions
	}

	// Report the first unknown key in a stable order.
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		found := false
		for _, k := range known {
			if key == k {
				found = true
				break
			}
		}
		if !found {
			return InvalidParameterError{
				fmt.Errorf("Unexpected key %s", key),
			}
		}
	}

	return nil
}

// isJSONNumber returns whether the raw parameter is a JSON number.
func isJSONNumber(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}

	var n json.Number
	return raw[0] != '"' && json.Unmarshal(raw, &n) == nil
}

// bumpFeeCmd is a parsed bumpfee request.
type bumpFeeCmd struct {
	*rbfjson.BumpFeeCmd

	// changeIndex is the change output selected by the legacy
	// positional parameter.
	changeIndex fn.Option[int]
}

// parseBumpFee parses the bumpfee parameters.  Besides the registered form
// bumpfee "txid" ( options ), the legacy form bumpfee "txid" changeindex
// ( options ) is accepted.
func parseBumpFee(request *btcjson.Request) (interface{}, error) {
	params := request.Params
	if len(params) < 1 || len(params) > 3 {
		return nil, InvalidParameterError{
			fmt.Errorf("bumpfee takes 1 to 3 parameters, got %d",
				len(params)),
		}
	}

	changeIndex := fn.None[int]()
	if len(params) > 1 && isJSONNumber(params[1]) {
		var idx int
		if err := json.Unmarshal(params[1], &idx); err != nil {
			return nil, InvalidParameterError{
				fmt.Errorf("Invalid change index: %v", err),
			}
		}
		changeIndex = fn.Some(idx)

		// Drop the index so the rest parses as the registered form.
		params = append([]json.RawMessage{params[0]}, params[2:]...)
	} else if len(params) > 2 {
		return nil, InvalidParameterError{
			fmt.Errorf("Expected change index as parameter #2"),
		}
	}

	if len(params) > 1 {
		err := checkOptionKeys(params[1], "confTarget", "totalFee")
		if err != nil {
			return nil, err
		}
	}

	cmd, err := unmarshalCmd(&btcjson.Request{
		Jsonrpc: request.Jsonrpc,
		Method:  request.Method,
		Params:  params,
		ID:      request.ID,
	})
	if err != nil {
		return nil, err
	}

	return &bumpFeeCmd{
		BumpFeeCmd:  cmd.(*rbfjson.BumpFeeCmd),
		changeIndex: changeIndex,
	}, nil
}

// parseSweepPrivKeys parses the sweepprivkeys parameters, refusing options it
// does not know.
func parseSweepPrivKeys(request *btcjson.Request) (interface{}, error) {
	if len(request.Params) == 1 {
		var options map[string]json.RawMessage
		err := json.Unmarshal(request.Params[0], &options)
		if err == nil {
			for _, key := range []string{"privkeys", "label",
				"comment"} {

				delete(options, key)
			}

			keys := make([]string, 0, len(options))
			for key := range options {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			if len(keys) > 0 {
				return nil, InvalidParameterError{
					fmt.Errorf("Unrecognised option '%s'",
						keys[0]),
				}
			}
		}
	}

	return unmarshalCmd(request)
}

// bumpFee handles a bumpfee request by replacing a wallet transaction by one
// paying a higher fee.
func bumpFee(icmd interface{}, w rpcWallet) (interface{}, error) {
	cmd := icmd.(*bumpFeeCmd)

	txHash, err := chainhash.NewHashFromStr(cmd.TxID)
	if err != nil {
		return nil, DeserializationError{err}
	}

	req := &wallet.BumpFeeRequest{
		ChangeIndex: cmd.changeIndex,
	}
	if opts := cmd.Options; opts != nil {
		if opts.ConfTarget != nil {
			req.ConfTarget = fn.Some(*opts.ConfTarget)
		}
		if opts.TotalFee != nil {
			req.TotalFee = fn.Some(btcutil.Amount(*opts.TotalFee))
		}
	}

	result, err := w.BumpFee(txHash, req)
	if err != nil {
		return nil, err
	}

	return &rbfjson.BumpFeeResult{
		TxID:   result.Txid.String(),
		OldFee: result.OldFee.ToBTC(),
		Fee:    result.Fee.ToBTC(),
	}, nil
}

// sweepPrivKeys handles a sweepprivkeys request by moving the funds of the
// keys to a new wallet address.
func sweepPrivKeys(icmd interface{}, w rpcWallet) (interface{}, error) {
	cmd := icmd.(*rbfjson.SweepPrivKeysCmd)

	req := &wallet.SweepRequest{
		PrivKeys: cmd.Options.PrivKeys,
	}
	if cmd.Options.Label != nil {
		req.Label = *cmd.Options.Label
	}
	if cmd.Options.Comment != nil {
		req.Comment = *cmd.Options.Comment
	}

	txHash, err := w.SweepPrivKeys(req)
	if err != nil {
		return nil, err
	}

	return txHash.String(), nil
}

// getNewAddress handles a getnewaddress request by returning a new receiving
// address labeled with the account name.
func getNewAddress(icmd interface{}, w rpcWallet) (interface{}, error) {
	cmd := icmd.(*btcjson.GetNewAddressCmd)

	var label string
	if cmd.Account != nil {
		label = *cmd.Account
	}
	if label == "*" {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCWalletInvalidAccountName,
			Message: "Invalid account name",
		}
	}

	// Only witness key hash addresses are handed out.
	if cmd.AddressType != nil && *cmd.AddressType != "bech32" {
		return nil, InvalidParameterError{
			fmt.Errorf("Unknown address type '%s'",
				*cmd.AddressType),
		}
	}

	addr, err := w.NewAddress(label)
	if err != nil {
		return nil, err
	}

	return addr.EncodeAddress(), nil
}

// sendToAddress handles a sendtoaddress request by paying the amount to the
// address. The comment is recorded with the transaction while comment-to is
// not kept.
func sendToAddress(icmd interface{}, w rpcWallet) (interface{}, error) {
	cmd := icmd.(*btcjson.SendToAddressCmd)

	addr, err := btcutil.DecodeAddress(cmd.Address, w.ChainParams())
	if err != nil || !addr.IsForNet(w.ChainParams()) {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCInvalidAddressOrKey,
			Message: "Invalid Bitcoin address",
		}
	}

	amt, err := btcutil.NewAmount(cmd.Amount)
	if err != nil || amt <= 0 {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCType,
			Message: "Invalid amount for send",
		}
	}

	req := &wallet.SendRequest{
		Address: addr,
		Amount:  amt,
	}
	if cmd.Comment != nil {
		req.Comment = *cmd.Comment
	}

	txHash, err := w.SendToAddress(req)
	if err != nil {
		return nil, err
	}

	return txHash.String(), nil
}

var (
	helpDescs   map[string]string
	helpUsages  string
	helpDescsMu sync.Mutex // Help may execute concurrently, so synchronize access.
)

// generateHelp generates the help texts of every method from the en_US
// descriptions, along with the one line usages of all methods.
func generateHelp() (map[string]string, string, error) {
	var descs map[string]string
	for _, locale := range rpchelp.HelpDescs {
		if locale.Locale == "en_US" {
			descs = locale.Descs
		}
	}

	helpTexts := make(map[string]string, len(rpchelp.Methods))
	usages := make([]string, 0, len(rpchelp.Methods))
	for _, m := range rpchelp.Methods {
		helpText, err := btcjson.GenerateHelp(
			m.Method, descs, m.ResultTypes...,
		)
		if err != nil {
			return nil, "", err
		}
		helpTexts[m.Method] = helpText

		usage, err := btcjson.MethodUsageText(m.Method)
		if err != nil {
			return nil, "", err
		}
		usages = append(usages, usage)
	}

	return helpTexts, strings.Join(usages, "\n"), nil
}

// help handles the help request by returning one line usage of all available
// methods, or full help for a specific method.
func help(icmd interface{}, _ rpcWallet) (interface{}, error) {
	cmd := icmd.(*btcjson.HelpCmd)

	defer helpDescsMu.Unlock()
	helpDescsMu.Lock()

	if helpDescs == nil {
		descs, usages, err := generateHelp()
		if err != nil {
			return nil, err
		}
		helpDescs, helpUsages = descs, usages
	}

	if cmd.Command == nil || *cmd.Command == "" {
		return helpUsages, nil
	}

	helpText, ok := helpDescs[*cmd.Command]
	if ok {
		return helpText, nil
	}

	return nil, &btcjson.RPCError{
		Code:    btcjson.ErrRPCInvalidParameter,
		Message: fmt.Sprintf("No help for method '%s'", *cmd.Command),
	}
}
