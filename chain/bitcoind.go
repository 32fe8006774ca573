// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/rbfwallet/netparams"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// rpcVerifyRejected is the code bitcoind returns for transactions refused by
// sendrawtransaction under its mempool policy.
const rpcVerifyRejected btcjson.RPCErrorCode = -26

// maxFeeRate is the highest fee rate in BTC/kvB a published transaction may
// pay. It matches the limit sendrawtransaction applies when high fees are not
// allowed, so the acceptance test and the submission agree.
const maxFeeRate = 0.1

// rpcClient is the subset of *rpcclient.Client the bitcoind backend uses.
type rpcClient interface {
	GetBlock(blockHash *chainhash.Hash) (*wire.MsgBlock, error)
	GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
	GetBlockCount() (int64, error)
	GetNetworkInfo() (*btcjson.GetNetworkInfoResult, error)
	EstimateSmartFee(confTarget int64,
		mode *btcjson.EstimateSmartFeeMode) (
		*btcjson.EstimateSmartFeeResult, error)
	GetMempoolEntry(txHash string) (*btcjson.GetMempoolEntryResult, error)
	GetRawMempool() ([]*chainhash.Hash, error)
	GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)
	GetRawTransactionVerbose(txHash *chainhash.Hash) (
		*btcjson.TxRawResult, error)
	RawRequest(method string, params []json.RawMessage) (json.RawMessage,
		error)
	TestMempoolAccept(txns []*wire.MsgTx,
		maxFeeRate float64) ([]*btcjson.TestMempoolAcceptResult, error)
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (
		*chainhash.Hash, error)
	Shutdown()
	WaitForShutdown()
}

// A compile-time assertion to ensure *rpcclient.Client implements rpcClient.
var _ rpcClient = (*rpcclient.Client)(nil)

// BitcoindConfig contains all of the parameters required to establish a
// connection to a bitcoind's RPC.
type BitcoindConfig struct {
	// ChainParams are the chain parameters the bitcoind server is running
	// on.
	ChainParams *chaincfg.Params

	// Host is the IP address and port of the bitcoind's RPC server.
	Host string

	// User is the username to use to authenticate to bitcoind's RPC
	// server.
	User string

	// Pass is the passphrase to use to authenticate to bitcoind's RPC
	// server.
	Pass string
}

// BitcoindClient represents a persistent client connection to a bitcoind
// server for information regarding the current best block chain and the
// mempool.
type BitcoindClient struct {
	chainParams *chaincfg.Params
	client      rpcClient

	stopOnce sync.Once
}

// A compile-time assertion to ensure BitcoindClient implements Interface.
var _ Interface = (*BitcoindClient)(nil)

// NewBitcoindClient creates a client connection to the node described by the
// config. The node must run the configured network.
func NewBitcoindClient(cfg *BitcoindConfig) (*BitcoindClient, error) {
	clientCfg := &rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		DisableAutoReconnect: false,
		DisableConnectOnNew:  true,
		DisableTLS:           true,
		HTTPPostMode:         true,
	}
	client, err := rpcclient.New(clientCfg, nil)
	if err != nil {
		return nil, err
	}

	c := newBitcoindClient(cfg.ChainParams, client)
	if err := c.checkNetwork(); err != nil {
		c.Stop()
		return nil, err
	}

	return c, nil
}

func newBitcoindClient(chainParams *chaincfg.Params,
	client rpcClient) *BitcoindClient {

	return &BitcoindClient{
		chainParams: chainParams,
		client:      client,
	}
}

// checkNetwork verifies that the node is running on the expected network.
func (c *BitcoindClient) checkNetwork() error {
	hash, err := c.client.GetBlockHash(0)
	if err != nil {
		return err
	}

	var net wire.BitcoinNet
	switch *hash {
	case *chaincfg.TestNet3Params.GenesisHash:
		net = chaincfg.TestNet3Params.Net
	case *chaincfg.RegressionNetParams.GenesisHash:
		net = chaincfg.RegressionNetParams.Net
	case *chaincfg.SigNetParams.GenesisHash:
		net = chaincfg.SigNetParams.Net
	case *netparams.TestNet4ChainParams.GenesisHash:
		net = netparams.TestNet4ChainParams.Net
	case *chaincfg.MainNetParams.GenesisHash:
		net = chaincfg.MainNetParams.Net
	default:
		return fmt.Errorf("%w: genesis hash %v", ErrUnknownNetwork, hash)
	}

	if net != c.chainParams.Net {
		return fmt.Errorf("%w: expected %v, got %v", ErrWrongNetwork,
			c.chainParams.Net, net)
	}

	return nil
}

// BackEnd returns the name of the driver.
func (c *BitcoindClient) BackEnd() string {
	return "bitcoind"
}

// Stop disconnects the client and waits for the connection to shut down.
func (c *BitcoindClient) Stop() {
	c.stopOnce.Do(func() {
		c.client.Shutdown()
		c.client.WaitForShutdown()
	})
}

// RelayFee returns the minimum relay fee rate of the node.
func (c *BitcoindClient) RelayFee() (unit.SatPerKVByte, error) {
	info, err := c.client.GetNetworkInfo()
	if err != nil {
		return 0, err
	}

	return unit.FromBTCPerKVByte(info.RelayFee)
}

// mempoolInfo is the part of the getmempoolinfo result the backend reads.
type mempoolInfo struct {
	MempoolMinFee float64 `json:"mempoolminfee"`
}

// MempoolMinFee returns the fee rate a transaction needs to enter the
// mempool of the node.
func (c *BitcoindClient) MempoolMinFee() (unit.SatPerKVByte, error) {
	resp, err := c.client.RawRequest("getmempoolinfo", nil)
	if err != nil {
		return 0, err
	}

	var info mempoolInfo
	if err := json.Unmarshal(resp, &info); err != nil {
		return 0, fmt.Errorf("%w: getmempoolinfo: %v",
			ErrMalformedResponse, err)
	}

	return unit.FromBTCPerKVByte(info.MempoolMinFee)
}

// EstimateSmartFee returns the node's fee rate estimate for confirmation
// within confTarget blocks. None is returned when the node has no estimate.
func (c *BitcoindClient) EstimateSmartFee(
	confTarget uint32) (fn.Option[unit.SatPerKVByte], error) {

	none := fn.None[unit.SatPerKVByte]()

	result, err := c.client.EstimateSmartFee(int64(confTarget), nil)
	if err != nil {
		return none, err
	}

	if result.FeeRate == nil || len(result.Errors) > 0 {
		log.Debugf("No fee estimate for %d blocks: %v", confTarget,
			result.Errors)
		return none, nil
	}

	rate, err := unit.FromBTCPerKVByte(*result.FeeRate)
	if err != nil {
		return none, err
	}
	if rate <= 0 {
		return none, nil
	}

	return fn.Some(rate), nil
}

// isNotFoundErr returns whether the error is bitcoind reporting an unknown
// transaction.
func isNotFoundErr(err error) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) &&
		rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey
}

// MempoolDescendants returns the number of mempool transactions descending
// from the transaction, itself included.
func (c *BitcoindClient) MempoolDescendants(txHash *chainhash.Hash) (int64,
	error) {

	entry, err := c.client.GetMempoolEntry(txHash.String())
	switch {
	case isNotFoundErr(err):
		return 0, nil

	case err != nil:
		return 0, err
	}

	return entry.DescendantCount, nil
}

// BestHeight returns the height of the best block of the node.
func (c *BitcoindClient) BestHeight() (int32, error) {
	count, err := c.client.GetBlockCount()
	if err != nil {
		return 0, err
	}

	return int32(count), nil
}

// BlockTransactions returns the transactions of the main chain block at the
// height.
func (c *BitcoindClient) BlockTransactions(height int32) ([]*wire.MsgTx,
	error) {

	hash, err := c.client.GetBlockHash(int64(height))
	if err != nil {
		return nil, err
	}

	block, err := c.client.GetBlock(hash)
	if err != nil {
		return nil, err
	}

	return block.Transactions, nil
}

// MempoolTransactions returns the transactions in the mempool of the node.
// Transactions leaving the mempool while it is listed are skipped.
func (c *BitcoindClient) MempoolTransactions() ([]*wire.MsgTx, error) {
	hashes, err := c.client.GetRawMempool()
	if err != nil {
		return nil, err
	}

	txs := make([]*wire.MsgTx, 0, len(hashes))
	for _, hash := range hashes {
		tx, err := c.client.GetRawTransaction(hash)
		switch {
		case isNotFoundErr(err):
			continue

		case err != nil:
			return nil, err
		}

		txs = append(txs, tx.MsgTx())
	}

	return txs, nil
}

// TxConfirmation returns the confirmation state of the transaction. Mined
// transactions are only found when the node keeps a transaction index.
func (c *BitcoindClient) TxConfirmation(
	txHash *chainhash.Hash) (*TxConfirmation, error) {

	result, err := c.client.GetRawTransactionVerbose(txHash)
	switch {
	case isNotFoundErr(err):
		return &TxConfirmation{Status: TxNotFound}, nil

	case err != nil:
		return nil, err
	}

	if result.Confirmations == 0 {
		return &TxConfirmation{Status: TxInMempool}, nil
	}

	best, err := c.BestHeight()
	if err != nil {
		return nil, err
	}

	return &TxConfirmation{
		Status: TxMined,
		Height: best - int32(result.Confirmations) + 1,
	}, nil
}

// scanUnspent is an unspent output in the scantxoutset result.
type scanUnspent struct {
	TxID         string  `json:"txid"`
	Vout         uint32  `json:"vout"`
	ScriptPubKey string  `json:"scriptPubKey"`
	Amount       float64 `json:"amount"`
}

// scanResult is the scantxoutset result.
type scanResult struct {
	Success  bool          `json:"success"`
	Unspents []scanUnspent `json:"unspents"`
}

// scanDescriptor is a scan object of scantxoutset.
type scanDescriptor struct {
	Desc string `json:"desc"`
}

// FindScriptOutputs returns the unspent outputs of the UTXO set and the
// mempool paying to any of the scripts. Outputs spent by mempool
// transactions are left out.
func (c *BitcoindClient) FindScriptOutputs(
	scripts fn.Set[string]) ([]ScriptOutput, error) {

	if len(scripts) == 0 {
		return nil, nil
	}

	found := make(map[wire.OutPoint]*wire.TxOut)
	if err := c.scanUTXOSet(scripts, found); err != nil {
		return nil, err
	}
	if err := c.scanMempool(scripts, found); err != nil {
		return nil, err
	}

	outputs := make([]ScriptOutput, 0, len(found))
	for op, txOut := range found {
		outputs = append(outputs, ScriptOutput{
			OutPoint: op,
			Output:   txOut,
		})
	}

	// Order by outpoint so the inputs of a sweep are deterministic.
	sort.Slice(outputs, func(i, j int) bool {
		a, b := outputs[i].OutPoint, outputs[j].OutPoint
		if cmp := bytes.Compare(a.Hash[:], b.Hash[:]); cmp != 0 {
			return cmp < 0
		}
		return a.Index < b.Index
	})

	return outputs, nil
}

// scanUTXOSet adds the outputs of the UTXO set paying to the scripts.
func (c *BitcoindClient) scanUTXOSet(scripts fn.Set[string],
	found map[wire.OutPoint]*wire.TxOut) error {

	descs := make([]scanDescriptor, 0, len(scripts))
	for script := range scripts {
		descs = append(descs, scanDescriptor{
			Desc: fmt.Sprintf("raw(%x)", script),
		})
	}

	action, err := json.Marshal("start")
	if err != nil {
		return err
	}
	objects, err := json.Marshal(descs)
	if err != nil {
		return err
	}

	resp, err := c.client.RawRequest(
		"scantxoutset", []json.RawMessage{action, objects},
	)
	if err != nil {
		return err
	}

	var result scanResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("%w: scantxoutset: %v", ErrMalformedResponse,
			err)
	}
	if !result.Success {
		return fmt.Errorf("%w: scantxoutset did not complete",
			ErrMalformedResponse)
	}

	for _, utxo := range result.Unspents {
		hash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			return fmt.Errorf("%w: scantxoutset: %v",
				ErrMalformedResponse, err)
		}
		pkScript, err := hex.DecodeString(utxo.ScriptPubKey)
		if err != nil {
			return fmt.Errorf("%w: scantxoutset: %v",
				ErrMalformedResponse, err)
		}
		amount, err := btcutil.NewAmount(utxo.Amount)
		if err != nil {
			return fmt.Errorf("%w: scantxoutset: %v",
				ErrMalformedResponse, err)
		}

		op := wire.OutPoint{Hash: *hash, Index: utxo.Vout}
		found[op] = wire.NewTxOut(int64(amount), pkScript)
	}

	log.Debugf("Found %d unspent outputs in the UTXO set",
		len(result.Unspents))

	return nil
}

// scanMempool adds the mempool outputs paying to the scripts and removes every
// found output a mempool transaction spends.
func (c *BitcoindClient) scanMempool(scripts fn.Set[string],
	found map[wire.OutPoint]*wire.TxOut) error {

	txs, err := c.MempoolTransactions()
	if err != nil {
		return err
	}

	spent := make(map[wire.OutPoint]struct{})
	for _, msgTx := range txs {
		hash := msgTx.TxHash()
		for _, txIn := range msgTx.TxIn {
			spent[txIn.PreviousOutPoint] = struct{}{}
		}
		for i, txOut := range msgTx.TxOut {
			if !scripts.Contains(string(txOut.PkScript)) {
				continue
			}

			op := wire.OutPoint{Hash: hash, Index: uint32(i)}
			found[op] = txOut
		}
	}

	for op := range spent {
		delete(found, op)
	}

	return nil
}

// PublishTransaction tests the transaction against the mempool policy of the
// node and submits it when accepted.
func (c *BitcoindClient) PublishTransaction(tx *wire.MsgTx) error {
	results, err := c.client.TestMempoolAccept(
		[]*wire.MsgTx{tx}, maxFeeRate,
	)
	switch {
	// Nodes too old to test acceptance only get the submission.
	case errors.Is(err, rpcclient.ErrBackendVersion):
		log.Warnf("Backend does not support mempool acceptance test, "+
			"broadcasting directly: %v", err)

	case err != nil:
		return err

	case len(results) != 1:
		return ErrMempoolAccept

	case !results[0].Allowed:
		return newRejectError(results[0].RejectReason)
	}

	_, err = c.client.SendRawTransaction(tx, false)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == rpcVerifyRejected {
			return newRejectError(rpcErr.Message)
		}

		return err
	}

	log.Infof("Published transaction %v", tx.TxHash())

	return nil
}
