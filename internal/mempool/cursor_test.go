package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tendermint/sharedmempool/types"
)

// markedCursor builds a cursor holding only contiguous marks.
func markedCursor(marks map[string]uint64) PeerCursor {
	c := NewPeerCursor()
	for sender, mark := range marks {
		c[sender] = senderCursor{mark: mark, marked: true}
	}
	return c
}

func batchOf(advance map[string]uint64, keys ...types.TxKey) Batch {
	b := Batch{Advance: advance}
	for _, k := range keys {
		b.Txs = append(b.Txs, types.Tx{Sender: k.Sender, Sequence: k.Sequence})
	}
	return b
}

func key(sender string, seq uint64) types.TxKey {
	return types.TxKey{Sender: sender, Sequence: seq}
}

func TestPeerCursorEligible(t *testing.T) {
	cursor := markedCursor(map[string]uint64{"alice": 3})
	cursor.Advance(batchOf(nil, key("alice", 6)))

	require.False(t, cursor.Eligible(key("alice", 2)))
	require.False(t, cursor.Eligible(key("alice", 3)))
	require.True(t, cursor.Eligible(key("alice", 4)))
	require.True(t, cursor.Eligible(key("alice", 5)))
	require.False(t, cursor.Eligible(key("alice", 6)))
	require.True(t, cursor.Eligible(key("alice", 7)))
	require.True(t, cursor.Eligible(key("bob", 0)))
}

func TestPeerCursorAdvanceRollback(t *testing.T) {
	cursor := markedCursor(map[string]uint64{"alice": 3, "bob": 7})

	rb := cursor.Advance(batchOf(
		map[string]uint64{"alice": 5, "bob": 6, "carol": 1},
		key("alice", 4), key("alice", 5), key("carol", 1), key("dave", 9),
	))
	require.False(t, cursor.Eligible(key("alice", 5)))
	require.False(t, cursor.Eligible(key("carol", 0)))
	require.False(t, cursor.Eligible(key("dave", 9)))
	require.True(t, cursor.Eligible(key("dave", 8)))
	require.Equal(t, uint64(7), cursor["bob"].mark)

	cursor.Rollback(rb)
	require.Equal(t, markedCursor(map[string]uint64{"alice": 3, "bob": 7}), cursor)
}

func TestPeerCursorOutOfOrderSendsCompact(t *testing.T) {
	cursor := NewPeerCursor()

	// alice:1 goes first, alice:0 is still unsent so the mark cannot move
	cursor.Advance(batchOf(nil, key("alice", 1)))
	require.True(t, cursor.Eligible(key("alice", 0)))
	require.False(t, cursor.Eligible(key("alice", 1)))

	cursor.Advance(batchOf(map[string]uint64{"alice": 1}, key("alice", 0)))
	require.Equal(t, markedCursor(map[string]uint64{"alice": 1}), cursor)
}

func TestPeerCursorRollbackKeepsRewind(t *testing.T) {
	cursor := markedCursor(map[string]uint64{"alice": 3})

	rb := cursor.Advance(batchOf(map[string]uint64{"alice": 5}, key("alice", 4), key("alice", 5)))
	require.True(t, cursor.Rewind("alice", 2))
	require.Equal(t, markedCursor(map[string]uint64{"alice": 1}), cursor)

	cursor.Rollback(rb)
	require.Equal(t, markedCursor(map[string]uint64{"alice": 1}), cursor)

	require.True(t, cursor.Rewind("alice", 0))
	require.Empty(t, cursor)
	cursor.Rollback(rb)
	require.Empty(t, cursor)
}

func TestPeerCursorRollbackKeepsEarlierOutOfOrderSends(t *testing.T) {
	cursor := NewPeerCursor()
	cursor.Advance(batchOf(nil, key("alice", 2)))

	rb := cursor.Advance(batchOf(nil, key("alice", 3)))
	cursor.Rollback(rb)

	require.False(t, cursor.Eligible(key("alice", 2)))
	require.True(t, cursor.Eligible(key("alice", 3)))
}

func TestPeerCursorRewind(t *testing.T) {
	cursor := markedCursor(map[string]uint64{"alice": 3})
	cursor.Advance(batchOf(nil, key("alice", 6)))

	require.False(t, cursor.Rewind("alice", 4))
	require.False(t, cursor.Rewind("bob", 1))

	require.True(t, cursor.Rewind("alice", 6))
	require.True(t, cursor.Eligible(key("alice", 6)))
	require.Equal(t, markedCursor(map[string]uint64{"alice": 3}), cursor)

	require.True(t, cursor.Rewind("alice", 3))
	require.Equal(t, markedCursor(map[string]uint64{"alice": 2}), cursor)
}

func TestPeerCursorCloneAndPrune(t *testing.T) {
	cursor := markedCursor(map[string]uint64{"alice": 1, "bob": 2})
	cursor.Advance(batchOf(nil, key("bob", 5)))

	clone := cursor.Clone()
	clone.Prune(func(sender string) bool { return sender == "bob" })
	clone.Rewind("bob", 5)

	require.Equal(t, markedCursor(map[string]uint64{"bob": 2}), clone)
	require.Len(t, cursor, 2)
	require.False(t, cursor.Eligible(key("bob", 5)))
}
