package mempool

import (
	"time"

	"github.com/google/btree"

	"github.com/tendermint/sharedmempool/types"
)

// bTreeDegree is the branching factor of every index in the pool.
const bTreeDegree = 32

// TxInfo are parameters that get passed when attempting to add a tx to the
// mempool.
type TxInfo struct {
	// SenderNodeID is the peer the transaction was received from. It is empty
	// for locally submitted transactions.
	SenderNodeID types.NodeID
}

// IsLocal reports whether the transaction was submitted locally.
func (info TxInfo) IsLocal() bool { return info.SenderNodeID == "" }

// WrappedTx defines a wrapper around a raw transaction with additional metadata
// that is used for indexing.
type WrappedTx struct {
	tx types.Tx

	// timestamp is the time at which the node first received the transaction
	timestamp time.Time

	// seq is a pool-wide insertion counter. It breaks priority ties and
	// orders insertions that share a timestamp.
	seq uint64

	// origin is the peer the transaction came from; empty for local txs
	origin types.NodeID

	// committedAt is set once a commit notification covered the transaction
	committedAt time.Time
}

func (wtx *WrappedTx) Tx() types.Tx         { return wtx.tx }
func (wtx *WrappedTx) Key() types.TxKey     { return wtx.tx.Key() }
func (wtx *WrappedTx) Priority() uint64     { return wtx.tx.Priority }
func (wtx *WrappedTx) Size() int            { return wtx.tx.Size() }
func (wtx *WrappedTx) Timestamp() time.Time { return wtx.timestamp }
func (wtx *WrappedTx) Origin() types.NodeID { return wtx.origin }
func (wtx *WrappedTx) IsCommitted() bool    { return !wtx.committedAt.IsZero() }

// selectable reports whether the transaction may still be gossiped.
func (wtx *WrappedTx) selectable(now time.Time) bool {
	return !wtx.IsCommitted() && !wtx.tx.Expired(now)
}

// broadcastItem orders transactions by priority descending, then insertion
// ascending.
type broadcastItem struct{ *WrappedTx }

func (a broadcastItem) Less(than btree.Item) bool {
	b := than.(broadcastItem)
	if a.tx.Priority != b.tx.Priority {
		return a.tx.Priority > b.tx.Priority
	}
	return a.seq < b.seq
}

// evictionItem orders transactions by priority ascending, then insertion
// ascending: the first item is the next eviction victim.
type evictionItem struct{ *WrappedTx }

func (a evictionItem) Less(than btree.Item) bool {
	b := than.(evictionItem)
	if a.tx.Priority != b.tx.Priority {
		return a.tx.Priority < b.tx.Priority
	}
	return a.seq < b.seq
}

// insertionItem orders transactions by insertion.
type insertionItem struct{ *WrappedTx }

func (a insertionItem) Less(than btree.Item) bool {
	return a.seq < than.(insertionItem).seq
}

// expiryItem orders transactions by expiration timestamp, then insertion.
// Transactions without an expiration are not indexed.
type expiryItem struct {
	expiration time.Time
	seq        uint64
	wtx        *WrappedTx
}

func newExpiryItem(wtx *WrappedTx) expiryItem {
	return expiryItem{expiration: wtx.tx.Expiration, seq: wtx.seq, wtx: wtx}
}

func (a expiryItem) Less(than btree.Item) bool {
	b := than.(expiryItem)
	if !a.expiration.Equal(b.expiration) {
		return a.expiration.Before(b.expiration)
	}
	return a.seq < b.seq
}

// sequenceItem orders one sender's transactions by sequence number.
type sequenceItem struct {
	sequence uint64
	wtx      *WrappedTx
}

func (a sequenceItem) Less(than btree.Item) bool {
	return a.sequence < than.(sequenceItem).sequence
}
