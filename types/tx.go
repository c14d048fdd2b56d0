package types

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Tx is a candidate transaction as seen by the mempool: an opaque payload
// plus the few attributes admission and gossip decisions depend on.
type Tx struct {
	Sender     string    `json:"sender"`
	Sequence   uint64    `json:"sequence"`
	Priority   uint64    `json:"priority"`
	Payload    []byte    `json:"payload"`
	Expiration time.Time `json:"expiration"`
}

// TxKey uniquely identifies a transaction in the pool. At most one
// transaction per key is retained.
type TxKey struct {
	Sender   string `json:"sender"`
	Sequence uint64 `json:"sequence"`
}

func (k TxKey) String() string {
	return fmt.Sprintf("%s:%d", k.Sender, k.Sequence)
}

// Key returns the (sender, sequence) key of the transaction.
func (tx Tx) Key() TxKey {
	return TxKey{Sender: tx.Sender, Sequence: tx.Sequence}
}

// Size is the number of payload bytes the transaction accounts for.
func (tx Tx) Size() int {
	return len(tx.Payload)
}

// Hash returns the SHA-256 digest of the payload.
func (tx Tx) Hash() []byte {
	h := sha256.Sum256(tx.Payload)
	return h[:]
}

// Expired reports whether the expiration timestamp is at or before now. A
// zero expiration never expires.
func (tx Tx) Expired(now time.Time) bool {
	return !tx.Expiration.IsZero() && !now.Before(tx.Expiration)
}

// ValidateBasic performs stateless checks on the transaction.
func (tx Tx) ValidateBasic() error {
	if tx.Sender == "" {
		return fmt.Errorf("empty sender")
	}
	return nil
}

func (tx Tx) String() string {
	return fmt.Sprintf("Tx{%v prio:%d size:%d}", tx.Key(), tx.Priority, tx.Size())
}

// Txs is a slice of transactions.
type Txs []Tx

// Size returns the total payload bytes of all transactions.
func (txs Txs) Size() int {
	var n int
	for _, tx := range txs {
		n += tx.Size()
	}
	return n
}
