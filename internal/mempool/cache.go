package mempool

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/tendermint/sharedmempool/types"
)

// CommittedCache remembers, for a bounded number of senders, the highest
// sequence number seen committed. Transactions at or below that watermark
// can never execute and are rejected on admission.
type CommittedCache interface {
	// Reset removes all cached entries.
	Reset()

	// Push records that the sender's transactions up to seq are committed.
	Push(sender string, seq uint64)

	// Has reports whether the key is at or below its sender's watermark.
	Has(key types.TxKey) bool
}

var _ CommittedCache = (*LRUCommittedCache)(nil)

// LRUCommittedCache is a thread-safe CommittedCache evicting the least
// recently committed senders first.
type LRUCommittedCache struct {
	cache *lru.Cache
}

// NewLRUCommittedCache returns a cache holding watermarks for up to size
// senders.
func NewLRUCommittedCache(size int) *LRUCommittedCache {
	cache, err := lru.New(size)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &LRUCommittedCache{cache: cache}
}

func (c *LRUCommittedCache) Reset() { c.cache.Purge() }

func (c *LRUCommittedCache) Push(sender string, seq uint64) {
	// callers serialize pushes under the mempool lock
	if v, ok := c.cache.Get(sender); ok && v.(uint64) >= seq {
		return
	}
	c.cache.Add(sender, seq)
}

func (c *LRUCommittedCache) Has(key types.TxKey) bool {
	v, ok := c.cache.Peek(key.Sender)
	return ok && key.Sequence <= v.(uint64)
}

// NopCommittedCache defines a no-op cache.
type NopCommittedCache struct{}

var _ CommittedCache = (*NopCommittedCache)(nil)

func (NopCommittedCache) Reset()               {}
func (NopCommittedCache) Push(string, uint64)  {}
func (NopCommittedCache) Has(types.TxKey) bool { return false }
