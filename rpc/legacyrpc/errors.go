// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package legacyrpc

import (
	"errors"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/rbfwallet/wallet"
)

// errRPCVerifyRejected is the code of transactions rejected by the network
// rules.
const errRPCVerifyRejected btcjson.RPCErrorCode = -26

// Error types to simplify the reporting of specific categories of
// errors, and their *btcjson.RPCError creation.
type (
	// DeserializationError describes a failed deserializaion due to bad
	// user input.  It corresponds to btcjson.ErrRPCDeserialization.
	DeserializationError struct {
		error
	}

	// InvalidParameterError describes an invalid parameter passed by
	// the user.  It corresponds to btcjson.ErrRPCInvalidParameter.
	InvalidParameterError struct {
		error
	}

	// ParseError describes a failed parse due to bad user input.  It
	// corresponds to btcjson.ErrRPCParse.
	ParseError struct {
		error
	}
)

// Errors variables that are defined once here to avoid duplication below.
var (
	ErrTooManyOptions = InvalidParameterError{
		errors.New("Too many optional parameters"),
	}

	ErrUnloadedWallet = btcjson.RPCError{
		Code:    btcjson.ErrRPCWallet,
		Message: "Request requires a wallet but wallet has not loaded yet",
	}
)

// walletErrorCodes maps the kinds of wallet errors to the codes reported to
// RPC clients.  Unlisted kinds use btcjson.ErrRPCWallet.
var walletErrorCodes = map[wallet.ErrorKind]btcjson.RPCErrorCode{
	wallet.ErrInvalidKeyEncoding:  btcjson.ErrRPCInvalidAddressOrKey,
	wallet.ErrInvalidAddress:      btcjson.ErrRPCInvalidAddressOrKey,
	wallet.ErrNotEligible:         btcjson.ErrRPCInvalidAddressOrKey,
	wallet.ErrAlreadyBumped:       btcjson.ErrRPCInvalidRequest.Code,
	wallet.ErrHasDescendants:      btcjson.ErrRPCMisc,
	wallet.ErrNoChangeOutput:      btcjson.ErrRPCMisc,
	wallet.ErrFeeTooLow:           btcjson.ErrRPCInvalidParameter,
	wallet.ErrInvalidParameter:    btcjson.ErrRPCInvalidParameter,
	wallet.ErrBelowMempoolMinimum: btcjson.ErrRPCMisc,
	wallet.ErrChangeTooSmall:      btcjson.ErrRPCMisc,
	wallet.ErrNothingToSweep:      btcjson.ErrRPCWalletInsufficientFunds,
	wallet.ErrInsufficientFunds:   btcjson.ErrRPCWalletInsufficientFunds,
	wallet.ErrSweptValueIsDust:    errRPCVerifyRejected,
	wallet.ErrRejectedByPolicy:    errRPCVerifyRejected,
	wallet.ErrKeypoolRanOut:       btcjson.ErrRPCWalletKeypoolRanOut,
}

// jsonError creates a JSON-RPC error from the Go error.
func jsonError(err error) *btcjson.RPCError {
	if err == nil {
		return nil
	}

	var walletErr *wallet.Error
	if errors.As(err, &walletErr) {
		code, ok := walletErrorCodes[walletErr.Kind]
		if !ok {
			code = btcjson.ErrRPCWallet
		}

		return &btcjson.RPCError{
			Code:    code,
			Message: walletErr.Description,
		}
	}

	code := btcjson.ErrRPCWallet
	switch e := err.(type) {
	case btcjson.RPCError:
		return &e
	case *btcjson.RPCError:
		return e
	case DeserializationError:
		code = btcjson.ErrRPCDeserialization
	case InvalidParameterError:
		code = btcjson.ErrRPCInvalidParameter
	case ParseError:
		code = btcjson.ErrRPCParse.Code
	}
	return &btcjson.RPCError{
		Code:    code,
		Message: err.Error(),
	}
}
