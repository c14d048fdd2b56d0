package mempool

import (
	"fmt"

	"github.com/tendermint/sharedmempool/types"
)

// BroadcastBatch is a group of transactions sent to one peer in a single
// attempt.
type BroadcastBatch struct {
	// AttemptID is echoed back in the ack so that acks for abandoned
	// attempts can be discarded.
	AttemptID uint64
	Txs       types.Txs
}

// ValidateBasic performs basic validation of the batch.
func (b *BroadcastBatch) ValidateBasic() error {
	if b == nil {
		return fmt.Errorf("empty broadcast batch")
	}
	if len(b.Txs) == 0 {
		return fmt.Errorf("broadcast batch %d has no transactions", b.AttemptID)
	}
	return nil
}

// BroadcastAck is a peer's response to a BroadcastBatch.
type BroadcastAck struct {
	AttemptID uint64
	// Busy is set when the peer had no free inbound slot and processed
	// nothing; the sender retries after backing off.
	Busy     bool
	Accepted int
	Rejected int
}

func (a *BroadcastAck) String() string {
	if a.Busy {
		return fmt.Sprintf("BroadcastAck{%d busy}", a.AttemptID)
	}
	return fmt.Sprintf("BroadcastAck{%d accepted:%d rejected:%d}", a.AttemptID, a.Accepted, a.Rejected)
}
