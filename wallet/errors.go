// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import "fmt"

// ErrorKind identifies a kind of error returned by the payment, fee bump and
// sweep operations of the wallet. It can be matched against with errors.Is.
type ErrorKind uint8

const (
	// ErrInvalidKeyEncoding indicates a private key that could not be
	// decoded or that belongs to another network.
	ErrInvalidKeyEncoding ErrorKind = iota

	// ErrNotEligible indicates a transaction that can not be replaced.
	ErrNotEligible

	// ErrFeeTooLow indicates an explicit fee below the minimum needed to
	// replace the transaction.
	ErrFeeTooLow

	// ErrBelowMempoolMinimum indicates a new fee rate that would not let
	// the replacement enter the mempool.
	ErrBelowMempoolMinimum

	// ErrChangeTooSmall indicates a change output that can not pay for
	// the fee increase.
	ErrChangeTooSmall

	// ErrNothingToSweep indicates that no spendable outputs were found
	// for the swept keys.
	ErrNothingToSweep

	// ErrSweptValueIsDust indicates swept funds that would not cover the
	// fee with a non-dust output left.
	ErrSweptValueIsDust

	// ErrSigningFailed indicates an input that could not be signed.
	ErrSigningFailed

	// ErrRejectedByPolicy indicates a transaction refused by the mempool
	// policy of the chain backend.
	ErrRejectedByPolicy

	// ErrInvalidParameter indicates an invalid request parameter.
	ErrInvalidParameter

	// ErrKeypoolRanOut indicates that no keypool key could be reserved.
	ErrKeypoolRanOut

	// ErrNotConverged indicates a sweep fee that did not settle within
	// the iteration bound.
	ErrNotConverged

	// ErrBackend indicates a failure of the chain backend.
	ErrBackend

	// ErrDatabase indicates a failure of the wallet database.
	ErrDatabase

	// ErrInvalidAddress indicates a destination address that could not be
	// used on the wallet's network.
	ErrInvalidAddress

	// ErrInsufficientFunds indicates spendable wallet outputs that can not
	// pay for a payment and its fee.
	ErrInsufficientFunds

	// ErrAlreadyBumped indicates a transaction that was already replaced
	// by a fee bump. It also matches ErrNotEligible.
	ErrAlreadyBumped

	// ErrHasDescendants indicates a transaction spent by another wallet or
	// mempool transaction. It also matches ErrNotEligible.
	ErrHasDescendants

	// ErrNoChangeOutput indicates a transaction without a single change
	// output to take the fee increase from. It also matches
	// ErrNotEligible.
	ErrNoChangeOutput
)

// Map of ErrorKind values back to their constant names for pretty printing.
var errorKindStrings = map[ErrorKind]string{
	ErrInvalidKeyEncoding:  "ErrInvalidKeyEncoding",
	ErrNotEligible:         "ErrNotEligible",
	ErrFeeTooLow:           "ErrFeeTooLow",
	ErrBelowMempoolMinimum: "ErrBelowMempoolMinimum",
	ErrChangeTooSmall:      "ErrChangeTooSmall",
	ErrNothingToSweep:      "ErrNothingToSweep",
	ErrSweptValueIsDust:    "ErrSweptValueIsDust",
	ErrSigningFailed:       "ErrSigningFailed",
	ErrRejectedByPolicy:    "ErrRejectedByPolicy",
	ErrInvalidParameter:    "ErrInvalidParameter",
	ErrKeypoolRanOut:       "ErrKeypoolRanOut",
	ErrNotConverged:        "ErrNotConverged",
	ErrBackend:             "ErrBackend",
	ErrDatabase:            "ErrDatabase",
	ErrInvalidAddress:      "ErrInvalidAddress",
	ErrInsufficientFunds:   "ErrInsufficientFunds",
	ErrAlreadyBumped:       "ErrAlreadyBumped",
	ErrHasDescendants:      "ErrHasDescendants",
	ErrNoChangeOutput:      "ErrNoChangeOutput",
}

// String returns the ErrorKind as a human-readable name.
func (k ErrorKind) String() string {
	if s := errorKindStrings[k]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorKind (%d)", uint8(k))
}

// Error implements the error interface so that kinds can be used as targets
// of errors.Is.
func (k ErrorKind) Error() string {
	return k.String()
}

// Error is the error returned by the fee bump and sweep operations. The
// description is the message shown to RPC clients.
type Error struct {
	Kind        ErrorKind
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// notEligible returns whether the kind refuses a fee bump for a property of
// the transaction.
func (k ErrorKind) notEligible() bool {
	switch k {
	case ErrNotEligible, ErrAlreadyBumped, ErrHasDescendants,
		ErrNoChangeOutput:

		return true
	}

	return false
}

// Is returns whether the target is the kind of the error. Every eligibility
// failure matches ErrNotEligible.
func (e *Error) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	switch {
	case !ok:
		return false

	case kind == ErrNotEligible:
		return e.Kind.notEligible()
	}

	return kind == e.Kind
}

func newError(kind ErrorKind, desc string, err error) *Error {
	return &Error{Kind: kind, Description: desc, Err: err}
}

func errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return newError(kind, fmt.Sprintf(format, args...), nil)
}
