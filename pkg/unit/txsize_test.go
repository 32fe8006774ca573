package unit

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestTxSizeConversion checks that the conversion between weight units and
// virtual bytes is correct.
func TestTxSizeConversion(t *testing.T) {
	t.Parallel()

	wu := NewWeightUnit(1000)
	require.Equal(t, NewVByte(250), wu.ToVB())
	require.Equal(t, wu, NewVByte(250).ToWU())

	// Partial virtual bytes are rounded up.
	require.Equal(t, NewVByte(251), NewWeightUnit(1001).ToVB())
}

// TestTxSizeStringer tests the stringer methods of the tx size types.
func TestTxSizeStringer(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1000 wu", NewWeightUnit(1000).String())
	require.Equal(t, "250 vb", NewVByte(250).String())
}

// TestTxVirtualSize checks that witness data is discounted.
func TestTxVirtualSize(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(1000, make([]byte, 22)))

	// Without witness data the weight is four times the size.
	baseSize := tx.SerializeSizeStripped()
	require.Equal(t, NewVByte(uint64(baseSize)), TxVirtualSize(tx))

	tx.TxIn[0].Witness = wire.TxWitness{make([]byte, 72), make([]byte, 33)}
	totalSize := tx.SerializeSize()
	weight := uint64(baseSize*3 + totalSize)
	require.Equal(t, NewWeightUnit(weight), TxWeight(tx))
	require.Equal(t, NewWeightUnit(weight).ToVB(), TxVirtualSize(tx))
	require.Less(t, uint64(TxVirtualSize(tx)), uint64(totalSize))
}
