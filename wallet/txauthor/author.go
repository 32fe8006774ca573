// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txauthor provides the signing code used by the wallet to produce
// input scripts for transactions it authors or replaces.
package txauthor

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrSigningFailed is returned when an input of a transaction could
	// not be signed. No input script of the transaction is modified when
	// this is returned.
	ErrSigningFailed = errors.New("unable to sign transaction input")

	// ErrPrevOutsMismatch is returned when the number of previous outputs
	// does not match the number of transaction inputs.
	ErrPrevOutsMismatch = errors.New("tx.TxIn and previous outputs " +
		"must have equal length")
)

// SumOutputValues sums up the list of TxOuts and returns an Amount.
func SumOutputValues(outputs []*wire.TxOut) (totalOutput btcutil.Amount) {
	for _, txOut := range outputs {
		totalOutput += btcutil.Amount(txOut.Value)
	}
	return totalOutput
}

// SecretsSource provides private keys and redeem scripts necessary for
// constructing transaction input signatures.  Secrets are looked up by the
// corresponding Address for the previous output script.  Addresses for lookup
// are created using the source's blockchain parameters and means a single
// SecretsSource can only manage secrets for a single chain.
type SecretsSource interface {
	txscript.KeyDB
	txscript.ScriptDB
	ChainParams() *chaincfg.Params
}

// InputScript holds the unlocking data produced for a single input.
type InputScript struct {
	SigScript []byte
	Witness   wire.TxWitness
}

// Signer produces the unlocking data for one input of a transaction given
// the output it spends.
type Signer interface {
	SignInput(tx *wire.MsgTx, idx int, prevOut *wire.TxOut,
		sigHashes *txscript.TxSigHashes) (*InputScript, error)
}

// SecretsSigner is a Signer backed by a SecretsSource.
type SecretsSigner struct {
	secrets SecretsSource
}

// A compile-time assertion to ensure SecretsSigner implements Signer.
var _ Signer = (*SecretsSigner)(nil)

// NewSecretsSigner returns a Signer using the keys of the given source.
func NewSecretsSigner(secrets SecretsSource) *SecretsSigner {
	return &SecretsSigner{secrets: secrets}
}

// SignInput produces the input script for spending prevOut with input idx of
// tx.
func (s *SecretsSigner) SignInput(tx *wire.MsgTx, idx int,
	prevOut *wire.TxOut, sigHashes *txscript.TxSigHashes) (*InputScript,
	error) {

	pkScript := prevOut.PkScript
	chainParams := s.secrets.ChainParams()

	switch {
	// If this is a p2sh output, who's script hash pre-image is a
	// witness program, then we'll need to use a modified signing
	// function which generates both the sigScript, and the witness
	// script.
	case txscript.IsPayToScriptHash(pkScript):
		return spendNestedWitnessPubKeyHash(
			pkScript, prevOut.Value, chainParams, s.secrets, tx,
			sigHashes, idx,
		)

	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		witness, err := spendWitnessKeyHash(
			pkScript, prevOut.Value, chainParams, s.secrets, tx,
			sigHashes, idx,
		)
		if err != nil {
			return nil, err
		}

		return &InputScript{Witness: witness}, nil

	default:
		sigScript, err := txscript.SignTxOutput(
			chainParams, tx, idx, pkScript, txscript.SigHashAll,
			s.secrets, s.secrets, nil,
		)
		if err != nil {
			return nil, err
		}

		return &InputScript{SigScript: sigScript}, nil
	}
}

// spendWitnessKeyHash generates a valid witness for spending the passed
// pkScript with the specified input amount. The input amount *must*
// correspond to the output value of the previous pkScript, or else
// verification will fail since the new sighash digest algorithm defined in
// BIP0143 includes the input value in the sighash.
func spendWitnessKeyHash(pkScript []byte, inputValue int64,
	chainParams *chaincfg.Params, secrets SecretsSource, tx *wire.MsgTx,
	hashCache *txscript.TxSigHashes, idx int) (wire.TxWitness, error) {

	// First obtain the key pair associated with this p2wkh address.
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript,
		chainParams)
	if err != nil {
		return nil, err
	}
	if len(addrs) != 1 {
		return nil, fmt.Errorf("unexpected address count %d",
			len(addrs))
	}
	privKey, compressed, err := secrets.GetKey(addrs[0])
	if err != nil {
		return nil, err
	}

	return txscript.WitnessSignature(tx, hashCache, idx, inputValue,
		pkScript, txscript.SigHashAll, privKey, compressed)
}

// spendNestedWitnessPubKeyHash generates both a sigScript, and valid witness
// for spending the passed pkScript with the specified input amount. The
// generated sigScript is the version 0 p2wkh witness program corresponding
// to the queried key. The witness stack is identical to that of one which
// spends a regular p2wkh output.
func spendNestedWitnessPubKeyHash(pkScript []byte, inputValue int64,
	chainParams *chaincfg.Params, secrets SecretsSource, tx *wire.MsgTx,
	hashCache *txscript.TxSigHashes, idx int) (*InputScript, error) {

	// First we need to obtain the key pair related to this p2sh output.
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript,
		chainParams)
	if err != nil {
		return nil, err
	}
	if len(addrs) != 1 {
		return nil, fmt.Errorf("unexpected address count %d",
			len(addrs))
	}
	privKey, compressed, err := secrets.GetKey(addrs[0])
	if err != nil {
		return nil, err
	}

	pubKey := privKey.PubKey()
	var pubKeyHash []byte
	if compressed {
		pubKeyHash = btcutil.Hash160(pubKey.SerializeCompressed())
	} else {
		pubKeyHash = btcutil.Hash160(pubKey.SerializeUncompressed())
	}

	// The sigScript is a single push of the p2wkh witness program of the
	// key.
	p2wkhAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		pubKeyHash, chainParams,
	)
	if err != nil {
		return nil, err
	}
	witnessProgram, err := txscript.PayToAddrScript(p2wkhAddr)
	if err != nil {
		return nil, err
	}
	sigScript, err := txscript.NewScriptBuilder().
		AddData(witnessProgram).Script()
	if err != nil {
		return nil, err
	}

	witness, err := txscript.WitnessSignature(tx, hashCache, idx,
		inputValue, witnessProgram, txscript.SigHashAll, privKey,
		compressed)
	if err != nil {
		return nil, err
	}

	return &InputScript{SigScript: sigScript, Witness: witness}, nil
}

// PrevOutFetcher creates a txscript.PrevOutputFetcher for the inputs of tx
// spending the given previous outputs.
func PrevOutFetcher(tx *wire.MsgTx,
	prevOuts []*wire.TxOut) (*txscript.MultiPrevOutFetcher, error) {

	if len(tx.TxIn) != len(prevOuts) {
		return nil, ErrPrevOutsMismatch
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range tx.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOuts[idx])
	}

	return fetcher, nil
}

// AddAllInputScripts signs every input of tx with the signer. Each
// signature is verified by executing the previous output script. Either all
// inputs receive their new scripts or, when any input fails, none does and an
// error wrapping ErrSigningFailed is returned.
func AddAllInputScripts(tx *wire.MsgTx, prevOuts []*wire.TxOut,
	signer Signer) error {

	fetcher, err := PrevOutFetcher(tx, prevOuts)
	if err != nil {
		return err
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	signed := tx.Copy()
	for i := range tx.TxIn {
		script, err := signer.SignInput(tx, i, prevOuts[i], sigHashes)
		if err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrSigningFailed,
				i, err)
		}

		signed.TxIn[i].SignatureScript = script.SigScript
		signed.TxIn[i].Witness = script.Witness
	}

	for i, prevOut := range prevOuts {
		vm, err := txscript.NewEngine(
			prevOut.PkScript, signed, i,
			txscript.StandardVerifyFlags, nil, sigHashes,
			prevOut.Value, fetcher,
		)
		if err == nil {
			err = vm.Execute()
		}
		if err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrSigningFailed,
				i, err)
		}
	}

	for i, txIn := range signed.TxIn {
		tx.TxIn[i].SignatureScript = txIn.SignatureScript
		tx.TxIn[i].Witness = txIn.Witness
	}

	return nil
}
