package mempool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/types"
)

func TestTxMempoolProperties(t *testing.T) {
	rapid.Check(t, rapid.Run(&mempoolModel{}))
}

var modelSenders = []string{"alice", "bob", "carol", "dave"}

type mempoolModel struct {
	cfg  *config.MempoolConfig
	txmp *TxMempool
}

func (m *mempoolModel) Init(t *rapid.T) {
	m.cfg = config.TestMempoolConfig()
	m.cfg.Capacity = 6
	m.cfg.CapacityBytes = 60
	m.cfg.CapacityPerUser = 3
	m.txmp = NewTxMempool(log.NewNopLogger(), m.cfg, AcceptAll)
}

func drawTx(t *rapid.T) types.Tx {
	return types.Tx{
		Sender:   rapid.SampledFrom(modelSenders).Draw(t, "sender").(string),
		Sequence: rapid.Uint64Range(0, 6).Draw(t, "sequence").(uint64),
		Priority: rapid.Uint64Range(0, 10).Draw(t, "priority").(uint64),
		Payload:  make([]byte, rapid.IntRange(0, 20).Draw(t, "size").(int)),
	}
}

func (m *mempoolModel) Submit(t *rapid.T) {
	tx := drawTx(t)

	before := m.txmp.Stats()
	existing, had := m.txmp.GetTx(tx.Key())

	err := m.txmp.CheckTx(context.Background(), tx, TxInfo{})
	switch {
	case err == nil:
		stored, ok := m.txmp.GetTx(tx.Key())
		require.True(t, ok)
		require.Equal(t, tx.Priority, stored.Priority)

	case errors.As(err, &types.ErrTxDuplicate{}):
		// a non-increasing resubmission leaves the pool untouched
		require.True(t, had)
		require.LessOrEqual(t, tx.Priority, existing.Priority)
		require.Equal(t, before, m.txmp.Stats())
		stored, _ := m.txmp.GetTx(tx.Key())
		require.Equal(t, existing, stored)

	default:
		require.True(t, types.IsAdmissionError(err), err.Error())
		require.Equal(t, before, m.txmp.Stats())
	}
}

func (m *mempoolModel) Commit(t *rapid.T) {
	sender := rapid.SampledFrom(modelSenders).Draw(t, "sender").(string)
	seq := rapid.Uint64Range(0, 6).Draw(t, "sequence").(uint64)

	m.txmp.Update(sender, seq)
	for s := uint64(0); s <= seq; s++ {
		_, ok := m.txmp.GetTx(types.TxKey{Sender: sender, Sequence: s})
		require.False(t, ok, fmt.Sprintf("%s:%d survived commit", sender, s))
	}
}

func (m *mempoolModel) Select(t *rapid.T) {
	maxCount := rapid.IntRange(1, 8).Draw(t, "max_count").(int)
	maxBytes := rapid.IntRange(1, 40).Draw(t, "max_bytes").(int)

	batch := m.txmp.SelectBatch(NewPeerCursor(), maxCount, maxBytes)
	require.LessOrEqual(t, len(batch.Txs), maxCount)
	if len(batch.Txs) > 1 {
		require.LessOrEqual(t, batch.Bytes(), maxBytes)
	}
	for i := 1; i < len(batch.Txs); i++ {
		require.GreaterOrEqual(t, batch.Txs[i-1].Priority, batch.Txs[i].Priority)
	}
}

func (m *mempoolModel) Check(t *rapid.T) {
	require.LessOrEqual(t, m.txmp.Size(), m.cfg.Capacity)
	require.LessOrEqual(t, m.txmp.SizeBytes(), m.cfg.CapacityBytes)
	for _, sender := range modelSenders {
		require.LessOrEqual(t, m.txmp.SenderSize(sender), m.cfg.CapacityPerUser)
	}
}
