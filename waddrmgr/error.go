// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific ManagerError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the ManagerError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrData indicates stored data could not be decoded.
	ErrData

	// ErrInput indicates the caller passed an invalid argument.
	ErrInput

	// ErrAlreadyExists indicates the specified address manager already
	// exists in the namespace.
	ErrAlreadyExists

	// ErrNoExist indicates that no address manager exists in the
	// namespace.
	ErrNoExist

	// ErrKeyChain indicates an error with the key chain typically either
	// due to the inability to create an extended key or deriving a child
	// extended key.
	ErrKeyChain

	// ErrKeypoolRanOut indicates that no unreserved key is left in the
	// keypool.
	ErrKeypoolRanOut

	// ErrAddressNotFound indicates that the requested address is not
	// known to the address manager.
	ErrAddressNotFound
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:        "ErrDatabase",
	ErrData:            "ErrData",
	ErrInput:           "ErrInput",
	ErrAlreadyExists:   "ErrAlreadyExists",
	ErrNoExist:         "ErrNoExist",
	ErrKeyChain:        "ErrKeyChain",
	ErrKeypoolRanOut:   "ErrKeypoolRanOut",
	ErrAddressNotFound: "ErrAddressNotFound",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// ManagerError provides a single type for errors that can happen during
// address manager operation.  It is used to indicate several types of
// failures including errors with the database (ErrDatabase), running out of
// reserved keys (ErrKeypoolRanOut) and unknown addresses
// (ErrAddressNotFound).
//
// The caller can use type assertions to determine if an error is a
// ManagerError and access the ErrorCode field to ascertain the specific
// reason for the failure.
type ManagerError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ManagerError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e ManagerError) Unwrap() error {
	return e.Err
}

// managerError creates a ManagerError given a set of arguments.
func managerError(c ErrorCode, desc string, err error) ManagerError {
	return ManagerError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is a ManagerError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	var e ManagerError
	return errors.As(err, &e) && e.ErrorCode == code
}
