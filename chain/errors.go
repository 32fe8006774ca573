// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrUnknownNetwork is returned when the genesis block of the node is
	// not one of a known network.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrWrongNetwork is returned when the node runs a different network
	// than the one configured.
	ErrWrongNetwork = errors.New("backend runs a different network")

	// ErrMempoolAccept is returned when the mempool acceptance test
	// returned an unexpected number of results.
	ErrMempoolAccept = errors.New("expected 1 result from " +
		"TestMempoolAccept")

	// ErrMalformedResponse is returned when a raw RPC response could not
	// be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// RejectError is returned when the node refuses a transaction under its
// mempool policy.
type RejectError struct {
	Code   wire.RejectCode
	Reason string
}

// Error returns the reject code and reason.
func (e *RejectError) Error() string {
	return fmt.Sprintf("%d: %s", int(e.Code), e.Reason)
}

// rejectCodes maps reject reasons reported by bitcoind to the reject code of
// the rule they fall under.
var rejectCodes = map[string]wire.RejectCode{
	"insufficient fee":               wire.RejectInsufficientFee,
	"min relay fee not met":          wire.RejectInsufficientFee,
	"mempool min fee not met":        wire.RejectInsufficientFee,
	"mempool full":                   wire.RejectInsufficientFee,
	"dust":                           wire.RejectDust,
	"txn mempool conflict":           wire.RejectDuplicate,
	"txn already in mempool":         wire.RejectDuplicate,
	"txn already known":              wire.RejectDuplicate,
	"too long mempool chain":         wire.RejectNonstandard,
	"non bip68 final":                wire.RejectNonstandard,
	"non final":                      wire.RejectNonstandard,
	"tx size":                        wire.RejectNonstandard,
	"scriptsig size":                 wire.RejectNonstandard,
	"scriptpubkey":                   wire.RejectNonstandard,
	"bare multisig":                  wire.RejectNonstandard,
	"multi op return":                wire.RejectNonstandard,
	"max fee exceeded":               wire.RejectNonstandard,
	"absurdly high fee":              wire.RejectNonstandard,
	"bad txns inputs missingorspent": wire.RejectInvalid,
	"missing inputs":                 wire.RejectInvalid,
}

// normalizeReason lowercases the reason and replaces dashes by spaces, so
// both bitcoind and btcd spellings of a reason match.
func normalizeReason(reason string) string {
	return strings.ReplaceAll(strings.ToLower(reason), "-", " ")
}

// newRejectError builds a RejectError from a reject reason. Reasons of the
// form "<code>: <reason>" carry their code, others are looked up by their
// leading rule name.
func newRejectError(reason string) *RejectError {
	reason = strings.TrimSpace(reason)

	if prefix, rest, ok := strings.Cut(reason, ": "); ok {
		code, err := strconv.ParseUint(prefix, 10, 8)
		if err == nil {
			return &RejectError{
				Code:   wire.RejectCode(code),
				Reason: rest,
			}
		}
	}

	normalized := normalizeReason(reason)
	for rule, code := range rejectCodes {
		if strings.HasPrefix(normalized, rule) {
			return &RejectError{Code: code, Reason: reason}
		}
	}

	return &RejectError{Code: wire.RejectInvalid, Reason: reason}
}
