package chain

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/rbfwallet/netparams"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockRPCClient is a mock implementation of rpcClient.
type mockRPCClient struct {
	mock.Mock
}

var _ rpcClient = (*mockRPCClient)(nil)

func (m *mockRPCClient) GetBlock(
	blockHash *chainhash.Hash) (*wire.MsgBlock, error) {

	args := m.Called(blockHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*wire.MsgBlock), args.Error(1)
}

func (m *mockRPCClient) GetBlockHash(height int64) (*chainhash.Hash, error) {
	args := m.Called(height)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

func (m *mockRPCClient) GetBlockCount() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRPCClient) GetNetworkInfo() (*btcjson.GetNetworkInfoResult,
	error) {

	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcjson.GetNetworkInfoResult), args.Error(1)
}

func (m *mockRPCClient) EstimateSmartFee(confTarget int64,
	mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult,
	error) {

	args := m.Called(confTarget, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcjson.EstimateSmartFeeResult), args.Error(1)
}

func (m *mockRPCClient) GetMempoolEntry(
	txHash string) (*btcjson.GetMempoolEntryResult, error) {

	args := m.Called(txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcjson.GetMempoolEntryResult), args.Error(1)
}

func (m *mockRPCClient) GetRawMempool() ([]*chainhash.Hash, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*chainhash.Hash), args.Error(1)
}

func (m *mockRPCClient) GetRawTransaction(
	txHash *chainhash.Hash) (*btcutil.Tx, error) {

	args := m.Called(txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcutil.Tx), args.Error(1)
}

func (m *mockRPCClient) GetRawTransactionVerbose(
	txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {

	args := m.Called(txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcjson.TxRawResult), args.Error(1)
}

func (m *mockRPCClient) RawRequest(method string,
	params []json.RawMessage) (json.RawMessage, error) {

	args := m.Called(method, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *mockRPCClient) TestMempoolAccept(txns []*wire.MsgTx,
	maxFeeRate float64) ([]*btcjson.TestMempoolAcceptResult, error) {

	args := m.Called(txns, maxFeeRate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*btcjson.TestMempoolAcceptResult), args.Error(1)
}

func (m *mockRPCClient) SendRawTransaction(tx *wire.MsgTx,
	allowHighFees bool) (*chainhash.Hash, error) {

	args := m.Called(tx, allowHighFees)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

func (m *mockRPCClient) Shutdown() {
	m.Called()
}

func (m *mockRPCClient) WaitForShutdown() {
	m.Called()
}

func newTestClient(t *testing.T) (*BitcoindClient, *mockRPCClient) {
	t.Helper()

	m := &mockRPCClient{}
	t.Cleanup(func() {
		m.AssertExpectations(t)
	})

	return newBitcoindClient(&chaincfg.RegressionNetParams, m), m
}

var errNotFound = &btcjson.RPCError{
	Code:    btcjson.ErrRPCInvalidAddressOrKey,
	Message: "No such mempool or blockchain transaction",
}

// TestCheckNetwork checks that the genesis hash of the node must match the
// configured network.
func TestCheckNetwork(t *testing.T) {
	t.Parallel()

	c, m := newTestClient(t)
	m.On("GetBlockHash", int64(0)).Return(
		chaincfg.RegressionNetParams.GenesisHash, nil,
	).Once()
	require.NoError(t, c.checkNetwork())

	m.On("GetBlockHash", int64(0)).Return(
		chaincfg.MainNetParams.GenesisHash, nil,
	).Once()
	require.ErrorIs(t, c.checkNetwork(), ErrWrongNetwork)

	m.On("GetBlockHash", int64(0)).Return(
		netparams.TestNet4ChainParams.GenesisHash, nil,
	).Once()
	require.ErrorIs(t, c.checkNetwork(), ErrWrongNetwork)

	m.On("GetBlockHash", int64(0)).Return(
		&chainhash.Hash{0x01}, nil,
	).Once()
	require.ErrorIs(t, c.checkNetwork(), ErrUnknownNetwork)
}

// TestRelayFee checks the conversion of the node's fee rates.
func TestRelayFee(t *testing.T) {
	t.Parallel()

	c, m := newTestClient(t)
	m.On("GetNetworkInfo").Return(&btcjson.GetNetworkInfoResult{
		RelayFee: 0.00001,
	}, nil).Once()
	m.On("RawRequest", "getmempoolinfo", []json.RawMessage(nil)).Return(
		json.RawMessage(`{"size":3,"mempoolminfee":0.00002}`), nil,
	).Once()

	relay, err := c.RelayFee()
	require.NoError(t, err)
	require.Equal(t, unit.SatPerKVByte(1000), relay)

	minFee, err := c.MempoolMinFee()
	require.NoError(t, err)
	require.Equal(t, unit.SatPerKVByte(2000), minFee)
}

// TestEstimateSmartFee checks that missing estimates are reported as None.
func TestEstimateSmartFee(t *testing.T) {
	t.Parallel()

	rate := 0.0002

	testCases := []struct {
		name     string
		result   *btcjson.EstimateSmartFeeResult
		expected fn.Option[unit.SatPerKVByte]
	}{
		{
			name:     "estimate",
			result:   &btcjson.EstimateSmartFeeResult{FeeRate: &rate},
			expected: fn.Some(unit.SatPerKVByte(20_000)),
		},
		{
			name:     "no rate",
			result:   &btcjson.EstimateSmartFeeResult{},
			expected: fn.None[unit.SatPerKVByte](),
		},
		{
			name: "estimation errors",
			result: &btcjson.EstimateSmartFeeResult{
				FeeRate: &rate,
				Errors:  []string{"Insufficient data"},
			},
			expected: fn.None[unit.SatPerKVByte](),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, m := newTestClient(t)
			m.On("EstimateSmartFee", int64(6),
				(*btcjson.EstimateSmartFeeMode)(nil)).Return(
				tc.result, nil,
			)

			estimate, err := c.EstimateSmartFee(6)
			require.NoError(t, err)
			require.Equal(t, tc.expected, estimate)
		})
	}
}

// TestMempoolDescendants checks that transactions outside the mempool have
// no descendants.
func TestMempoolDescendants(t *testing.T) {
	t.Parallel()

	c, m := newTestClient(t)

	inPool := chainhash.Hash{0x01}
	m.On("GetMempoolEntry", inPool.String()).Return(
		&btcjson.GetMempoolEntryResult{DescendantCount: 2}, nil,
	)
	missing := chainhash.Hash{0x02}
	m.On("GetMempoolEntry", missing.String()).Return(nil, errNotFound)
	failing := chainhash.Hash{0x03}
	m.On("GetMempoolEntry", failing.String()).Return(
		nil, errors.New("connection refused"),
	)

	count, err := c.MempoolDescendants(&inPool)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	count, err = c.MempoolDescendants(&missing)
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = c.MempoolDescendants(&failing)
	require.Error(t, err)
}

// TestTxConfirmation checks the mapping of confirmations to a status.
func TestTxConfirmation(t *testing.T) {
	t.Parallel()

	c, m := newTestClient(t)

	mined := chainhash.Hash{0x01}
	m.On("GetRawTransactionVerbose", &mined).Return(
		&btcjson.TxRawResult{Confirmations: 3}, nil,
	)
	m.On("GetBlockCount").Return(int64(110), nil)

	pending := chainhash.Hash{0x02}
	m.On("GetRawTransactionVerbose", &pending).Return(
		&btcjson.TxRawResult{}, nil,
	)

	missing := chainhash.Hash{0x03}
	m.On("GetRawTransactionVerbose", &missing).Return(nil, errNotFound)

	conf, err := c.TxConfirmation(&mined)
	require.NoError(t, err)
	require.Equal(t, &TxConfirmation{Status: TxMined, Height: 108}, conf)

	conf, err = c.TxConfirmation(&pending)
	require.NoError(t, err)
	require.Equal(t, TxInMempool, conf.Status)

	conf, err = c.TxConfirmation(&missing)
	require.NoError(t, err)
	require.Equal(t, TxNotFound, conf.Status)
}

// TestFindScriptOutputs checks that outputs are gathered from the UTXO set
// and the mempool, without those spent in the mempool.
func TestFindScriptOutputs(t *testing.T) {
	t.Parallel()

	c, m := newTestClient(t)

	script := []byte{0x76, 0xa9, 0x14}
	other := []byte{0x00, 0x14}

	confirmedA := chainhash.Hash{0x0a}
	confirmedB := chainhash.Hash{0x0b}

	scan := map[string]any{
		"success": true,
		"unspents": []map[string]any{
			{
				"txid":         confirmedA.String(),
				"vout":         1,
				"scriptPubKey": hex.EncodeToString(script),
				"amount":       0.0005,
			},
			{
				"txid":         confirmedB.String(),
				"vout":         0,
				"scriptPubKey": hex.EncodeToString(script),
				"amount":       0.0001,
			},
		},
	}
	scanResp, err := json.Marshal(scan)
	require.NoError(t, err)
	m.On("RawRequest", "scantxoutset", mock.Anything).Return(
		json.RawMessage(scanResp), nil,
	)

	// The mempool transaction spends confirmedB and pays 30,000 to the
	// script.
	poolTx := wire.NewMsgTx(wire.TxVersion)
	poolTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&confirmedB, 0), nil, nil))
	poolTx.AddTxOut(wire.NewTxOut(1_000, other))
	poolTx.AddTxOut(wire.NewTxOut(30_000, script))
	poolHash := poolTx.TxHash()

	gone := chainhash.Hash{0xff}
	m.On("GetRawMempool").Return([]*chainhash.Hash{&poolHash, &gone}, nil)
	m.On("GetRawTransaction", &poolHash).Return(btcutil.NewTx(poolTx), nil)
	m.On("GetRawTransaction", &gone).Return(nil, errNotFound)

	outputs, err := c.FindScriptOutputs(fn.NewSet(string(script)))
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	var total int64
	ops := make(map[wire.OutPoint]int64)
	for _, out := range outputs {
		total += out.Output.Value
		ops[out.OutPoint] = out.Output.Value
	}
	require.EqualValues(t, 80_000, total)
	require.Equal(t, map[wire.OutPoint]int64{
		{Hash: confirmedA, Index: 1}: 50_000,
		{Hash: poolHash, Index: 1}:   30_000,
	}, ops)
}

// TestBlockTransactions checks that blocks are fetched by height.
func TestBlockTransactions(t *testing.T) {
	t.Parallel()

	c, m := newTestClient(t)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(5_000, []byte{0x51}))
	block := &wire.MsgBlock{Transactions: []*wire.MsgTx{tx}}
	blockHash := chainhash.Hash{0x42}

	m.On("GetBlockHash", int64(101)).Return(&blockHash, nil)
	m.On("GetBlock", &blockHash).Return(block, nil)
	m.On("GetBlockHash", int64(102)).Return(nil, errors.New("out of range"))

	txs, err := c.BlockTransactions(101)
	require.NoError(t, err)
	require.Equal(t, []*wire.MsgTx{tx}, txs)

	_, err = c.BlockTransactions(102)
	require.Error(t, err)
}

// TestFindScriptOutputsEmpty checks that an empty script set queries
// nothing.
func TestFindScriptOutputsEmpty(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)

	outputs, err := c.FindScriptOutputs(fn.NewSet[string]())
	require.NoError(t, err)
	require.Empty(t, outputs)
}

// TestPublishTransaction checks that policy rejections surface as
// RejectErrors.
func TestPublishTransaction(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(1_000, []byte{0x51}))
	txns := []*wire.MsgTx{tx}
	hash := tx.TxHash()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()

		c, m := newTestClient(t)
		m.On("TestMempoolAccept", txns, maxFeeRate).Return(
			[]*btcjson.TestMempoolAcceptResult{{Allowed: true}}, nil,
		)
		m.On("SendRawTransaction", tx, false).Return(&hash, nil)

		require.NoError(t, c.PublishTransaction(tx))
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()

		c, m := newTestClient(t)
		m.On("TestMempoolAccept", txns, maxFeeRate).Return(
			[]*btcjson.TestMempoolAcceptResult{{
				Allowed:      false,
				RejectReason: "min relay fee not met",
			}}, nil,
		)

		err := c.PublishTransaction(tx)

		var rejectErr *RejectError
		require.ErrorAs(t, err, &rejectErr)
		require.Equal(t, wire.RejectInsufficientFee, rejectErr.Code)
		require.Equal(t, "66: min relay fee not met", err.Error())
	})

	t.Run("old backend", func(t *testing.T) {
		t.Parallel()

		c, m := newTestClient(t)
		m.On("TestMempoolAccept", txns, maxFeeRate).Return(
			nil, rpcclient.ErrBackendVersion,
		)
		m.On("SendRawTransaction", tx, false).Return(nil,
			&btcjson.RPCError{
				Code:    rpcVerifyRejected,
				Message: "txn-mempool-conflict",
			},
		)

		var rejectErr *RejectError
		require.ErrorAs(t, c.PublishTransaction(tx), &rejectErr)
		require.Equal(t, wire.RejectDuplicate, rejectErr.Code)
	})
}
