package wallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/rbfwallet/chain"
	"github.com/btcsuite/rbfwallet/pkg/unit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

type mockChainClient struct {
	relayFee      unit.SatPerKVByte
	mempoolMinFee unit.SatPerKVByte
	estimate      fn.Option[unit.SatPerKVByte]
	bestHeight    int32

	// descendants holds the mempool descendant counts by transaction.
	descendants map[chainhash.Hash]int64

	// outputs are the unspent outputs returned by script searches.
	outputs []chain.ScriptOutput

	// confirmations holds the confirmation state by transaction.
	// Unlisted transactions are in the mempool.
	confirmations map[chainhash.Hash]*chain.TxConfirmation

	// blocks holds the transactions of the blocks by height.
	blocks map[int32][]*wire.MsgTx

	// mempool holds the transactions in the mempool.
	mempool []*wire.MsgTx

	// publishErr is returned by PublishTransaction when set.
	publishErr error

	// published records the transactions accepted by PublishTransaction.
	published []*wire.MsgTx

	// mu protects concurrent reads and writes to the mock state.
	mu sync.Mutex
}

var _ chain.Interface = (*mockChainClient)(nil)

func newMockChainClient() *mockChainClient {
	return &mockChainClient{
		relayFee:      1_000,
		mempoolMinFee: 1_000,
		estimate:      fn.None[unit.SatPerKVByte](),
		bestHeight:    100,
		descendants:   make(map[chainhash.Hash]int64),
		confirmations: make(map[chainhash.Hash]*chain.TxConfirmation),
		blocks:        make(map[int32][]*wire.MsgTx),
	}
}

func (m *mockChainClient) RelayFee() (unit.SatPerKVByte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.relayFee, nil
}

func (m *mockChainClient) MempoolMinFee() (unit.SatPerKVByte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.mempoolMinFee, nil
}

func (m *mockChainClient) EstimateSmartFee(
	uint32) (fn.Option[unit.SatPerKVByte], error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.estimate, nil
}

func (m *mockChainClient) MempoolDescendants(
	txHash *chainhash.Hash) (int64, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if count, ok := m.descendants[*txHash]; ok {
		return count, nil
	}

	return 1, nil
}

func (m *mockChainClient) FindScriptOutputs(
	scripts fn.Set[string]) ([]chain.ScriptOutput, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var found []chain.ScriptOutput
	for _, output := range m.outputs {
		if scripts.Contains(string(output.Output.PkScript)) {
			found = append(found, output)
		}
	}

	return found, nil
}

func (m *mockChainClient) BestHeight() (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.bestHeight, nil
}

func (m *mockChainClient) BlockTransactions(height int32) ([]*wire.MsgTx,
	error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if height > m.bestHeight {
		return nil, fmt.Errorf("no block at height %d", height)
	}

	return m.blocks[height], nil
}

func (m *mockChainClient) MempoolTransactions() ([]*wire.MsgTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*wire.MsgTx(nil), m.mempool...), nil
}

func (m *mockChainClient) TxConfirmation(
	txHash *chainhash.Hash) (*chain.TxConfirmation, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if conf, ok := m.confirmations[*txHash]; ok {
		return conf, nil
	}

	return &chain.TxConfirmation{Status: chain.TxInMempool}, nil
}

func (m *mockChainClient) PublishTransaction(tx *wire.MsgTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}

	m.published = append(m.published, tx.Copy())

	return nil
}

func (m *mockChainClient) Stop() {}

// setConfirmation sets the confirmation state of a transaction.
func (m *mockChainClient) setConfirmation(txHash chainhash.Hash,
	conf *chain.TxConfirmation) {

	m.mu.Lock()
	m.confirmations[txHash] = conf
	m.mu.Unlock()
}

// publishedTxs returns the transactions accepted so far.
func (m *mockChainClient) publishedTxs() []*wire.MsgTx {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*wire.MsgTx(nil), m.published...)
}

// addBlock connects a block holding the transactions on top of the best
// block. Transactions of the block leave the mempool and are reported as
// mined.
func (m *mockChainClient) addBlock(txs ...*wire.MsgTx) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bestHeight++
	m.blocks[m.bestHeight] = txs

	mined := make(map[chainhash.Hash]struct{}, len(txs))
	for _, tx := range txs {
		hash := tx.TxHash()
		mined[hash] = struct{}{}
		m.confirmations[hash] = &chain.TxConfirmation{
			Status: chain.TxMined,
			Height: m.bestHeight,
		}
	}

	pool := m.mempool[:0]
	for _, tx := range m.mempool {
		if _, ok := mined[tx.TxHash()]; !ok {
			pool = append(pool, tx)
		}
	}
	m.mempool = pool

	return m.bestHeight
}

// addMempoolTx adds transactions to the mempool.
func (m *mockChainClient) addMempoolTx(txs ...*wire.MsgTx) {
	m.mu.Lock()
	m.mempool = append(m.mempool, txs...)
	m.mu.Unlock()
}
