package mempool

import (
	"github.com/tendermint/sharedmempool/types"
)

// senderCursor is the broadcast progress of one sender towards one peer:
// every sequence up to and including mark has been sent, and so has every
// sequence in sent. Entries in sent always lie above mark.
type senderCursor struct {
	mark   uint64
	marked bool
	sent   map[uint64]struct{}
}

func (sc senderCursor) has(seq uint64) bool {
	if sc.marked && seq <= sc.mark {
		return true
	}
	_, ok := sc.sent[seq]
	return ok
}

func (sc senderCursor) empty() bool { return !sc.marked && len(sc.sent) == 0 }

func (sc senderCursor) clone() senderCursor {
	out := senderCursor{mark: sc.mark, marked: sc.marked}
	if len(sc.sent) > 0 {
		out.sent = make(map[uint64]struct{}, len(sc.sent))
		for seq := range sc.sent {
			out.sent[seq] = struct{}{}
		}
	}
	return out
}

// raise moves the mark up to seq and drops the sent entries it now covers.
func (sc *senderCursor) raise(seq uint64) {
	if sc.marked && seq <= sc.mark {
		return
	}
	sc.mark, sc.marked = seq, true
	for s := range sc.sent {
		if s <= seq {
			delete(sc.sent, s)
		}
	}
	if len(sc.sent) == 0 {
		sc.sent = nil
	}
}

func (sc *senderCursor) add(seq uint64) {
	if sc.has(seq) {
		return
	}
	if sc.sent == nil {
		sc.sent = make(map[uint64]struct{})
	}
	sc.sent[seq] = struct{}{}
}

// PeerCursor records, per sender, which sequence numbers are known to have
// been broadcast to a peer: a contiguous prefix up to a mark plus the
// sequences sent out of order above it. A transaction is eligible for a
// peer when its sequence is in neither.
type PeerCursor map[string]senderCursor

// NewPeerCursor returns an empty cursor.
func NewPeerCursor() PeerCursor { return make(PeerCursor) }

// Eligible reports whether the transaction with the given key has not been
// sent yet.
func (c PeerCursor) Eligible(key types.TxKey) bool {
	return !c[key.Sender].has(key.Sequence)
}

// Clone returns a deep copy of the cursor.
func (c PeerCursor) Clone() PeerCursor {
	out := make(PeerCursor, len(c))
	for k, v := range c {
		out[k] = v.clone()
	}
	return out
}

func (c PeerCursor) set(sender string, sc senderCursor) {
	if sc.empty() {
		delete(c, sender)
		return
	}
	c[sender] = sc
}

// cursorRollback holds the sender entries a batch overwrote, as they were
// before the batch.
type cursorRollback map[string]senderCursor

// Advance records every transaction of batch as sent, moves each sender's
// mark to batch.Advance and returns what is needed to undo the move.
func (c PeerCursor) Advance(batch Batch) cursorRollback {
	rb := make(cursorRollback)
	save := func(sender string) senderCursor {
		if _, ok := rb[sender]; !ok {
			rb[sender] = c[sender].clone()
		}
		return c[sender]
	}

	for _, tx := range batch.Txs {
		sc := save(tx.Sender)
		sc.add(tx.Sequence)
		c.set(tx.Sender, sc)
	}
	for sender, seq := range batch.Advance {
		sc := save(sender)
		sc.raise(seq)
		c.set(sender, sc)
	}
	return rb
}

// Rollback undoes an Advance. A sequence stays sent only if it was sent
// before the advance and has not been rewound since.
func (c PeerCursor) Rollback(rb cursorRollback) {
	for sender, prev := range rb {
		cur := c[sender]

		next := senderCursor{}
		if prev.marked && cur.marked {
			next.mark, next.marked = prev.mark, true
			if cur.mark < next.mark {
				next.mark = cur.mark
			}
		}
		for seq := range prev.sent {
			if cur.has(seq) {
				next.add(seq)
			}
		}
		if prev.marked {
			for seq := range cur.sent {
				if seq <= prev.mark {
					next.add(seq)
				}
			}
		}
		c.set(sender, next)
	}
}

// Rewind makes seq eligible again for the sender. When seq lies under the
// mark, the mark drops below it and every sequence above it is resent. It
// reports whether the cursor changed.
func (c PeerCursor) Rewind(sender string, seq uint64) bool {
	sc, ok := c[sender]
	if !ok {
		return false
	}
	switch {
	case sc.marked && seq <= sc.mark:
		if seq == 0 {
			sc.marked, sc.mark = false, 0
		} else {
			sc.mark = seq - 1
		}
	case sc.has(seq):
		delete(sc.sent, seq)
		if len(sc.sent) == 0 {
			sc.sent = nil
		}
	default:
		return false
	}
	c.set(sender, sc)
	return true
}

// Prune drops the entries of senders for which keep returns false.
func (c PeerCursor) Prune(keep func(sender string) bool) {
	for sender := range c {
		if !keep(sender) {
			delete(c, sender)
		}
	}
}
