package mempool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/btree"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/types"
)

// TxMempoolOption sets an optional parameter on the TxMempool.
type TxMempoolOption func(*TxMempool)

// TxAdmittedFunc is called after a transaction was admitted, outside of the
// mempool lock.
type TxAdmittedFunc func(key types.TxKey)

// TxMempool is the bounded, indexed set of transactions waiting to be
// committed. Every record is reachable through several indexes sharing the
// same *WrappedTx:
//
//   - broadcastIndex: priority descending, insertion ascending
//   - evictionIndex: priority ascending, insertion ascending
//   - insertionIndex: insertion ascending
//   - expiryIndex: expiration ascending (txs with an expiration only)
//   - senders: per-sender sequence order
//
// Structural changes take the write lock for the duration of the index
// update only; batch selection and stats take the read lock.
type TxMempool struct {
	logger    log.Logger
	metrics   *Metrics
	config    *config.MempoolConfig
	clock     clock.Clock
	validator Validator

	// cache remembers committed sequence watermarks so late gossip of
	// committed transactions is dropped early.
	cache CommittedCache

	listenersMtx sync.RWMutex
	listeners    []TxAdmittedFunc

	mtx            sync.RWMutex
	txs            map[types.TxKey]*WrappedTx
	senders        map[string]*btree.BTree
	broadcastIndex *btree.BTree
	evictionIndex  *btree.BTree
	insertionIndex *btree.BTree
	expiryIndex    *btree.BTree
	committed      map[types.TxKey]*WrappedTx

	// sizeBytes is the total payload size of all transactions
	sizeBytes int64
	// senderTxs counts the records held by all sender indexes
	senderTxs int
	nextSeq   uint64
}

// NewTxMempool returns a mempool bounded by cfg that admits transactions
// accepted by validator.
func NewTxMempool(
	logger log.Logger,
	cfg *config.MempoolConfig,
	validator Validator,
	options ...TxMempoolOption,
) *TxMempool {
	txmp := &TxMempool{
		logger:         logger,
		config:         cfg,
		validator:      validator,
		clock:          clock.New(),
		cache:          NopCommittedCache{},
		metrics:        NopMetrics(),
		txs:            make(map[types.TxKey]*WrappedTx),
		senders:        make(map[string]*btree.BTree),
		broadcastIndex: btree.New(bTreeDegree),
		evictionIndex:  btree.New(bTreeDegree),
		insertionIndex: btree.New(bTreeDegree),
		expiryIndex:    btree.New(bTreeDegree),
		committed:      make(map[types.TxKey]*WrappedTx),
	}

	if cfg.CommittedCacheSize > 0 {
		txmp.cache = NewLRUCommittedCache(cfg.CommittedCacheSize)
	}
	if txmp.validator == nil {
		txmp.validator = AcceptAll
	}

	for _, opt := range options {
		opt(txmp)
	}

	return txmp
}

// WithMetrics sets the mempool's metrics collector.
func WithMetrics(metrics *Metrics) TxMempoolOption {
	return func(txmp *TxMempool) { txmp.metrics = metrics }
}

// WithClock sets the clock used for insertion, expiry and commit
// timestamps.
func WithClock(c clock.Clock) TxMempoolOption {
	return func(txmp *TxMempool) { txmp.clock = c }
}

// WithCommittedCache overrides the cache built from the config.
func WithCommittedCache(c CommittedCache) TxMempoolOption {
	return func(txmp *TxMempool) { txmp.cache = c }
}

// OnTxAdmitted registers fn to be called for every admitted transaction.
func (txmp *TxMempool) OnTxAdmitted(fn TxAdmittedFunc) {
	txmp.listenersMtx.Lock()
	defer txmp.listenersMtx.Unlock()
	txmp.listeners = append(txmp.listeners, fn)
}

// Size returns the number of transactions in the mempool.
func (txmp *TxMempool) Size() int {
	txmp.mtx.RLock()
	defer txmp.mtx.RUnlock()
	return len(txmp.txs)
}

// SizeBytes return the total payload size of all transactions in the
// mempool.
func (txmp *TxMempool) SizeBytes() int64 {
	txmp.mtx.RLock()
	defer txmp.mtx.RUnlock()
	return txmp.sizeBytes
}

// SenderSize returns the number of transactions held for sender.
func (txmp *TxMempool) SenderSize(sender string) int {
	txmp.mtx.RLock()
	defer txmp.mtx.RUnlock()
	if idx, ok := txmp.senders[sender]; ok {
		return idx.Len()
	}
	return 0
}

// HasSender reports whether any transaction of sender is held.
func (txmp *TxMempool) HasSender(sender string) bool {
	return txmp.SenderSize(sender) > 0
}

// GetTx returns the transaction stored under key.
func (txmp *TxMempool) GetTx(key types.TxKey) (types.Tx, bool) {
	txmp.mtx.RLock()
	defer txmp.mtx.RUnlock()
	if wtx, ok := txmp.txs[key]; ok {
		return wtx.tx, true
	}
	return types.Tx{}, false
}

// CheckTx runs admission for tx. A nil error means the transaction was
// accepted; otherwise the error is one of the admission errors in the types
// package and the pool is unchanged.
//
// Admission may evict strictly lower priority transactions (globally for
// capacity, within the sender for its quota) or replace an existing
// transaction with the same key and a lower priority.
func (txmp *TxMempool) CheckTx(ctx context.Context, tx types.Tx, txInfo TxInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := tx.Key()
	err := txmp.precheck(tx)
	if err == nil {
		err = txmp.addNewTransaction(tx, txInfo)
	}
	if err != nil {
		txmp.metrics.RejectedTxs.With("reason", types.RejectReason(err)).Add(1)
		txmp.logger.Debug(
			"rejected transaction",
			"tx", key,
			"peer", txInfo.SenderNodeID,
			"err", err,
		)
		return err
	}

	txmp.metrics.TxSizeBytes.Observe(float64(tx.Size()))
	txmp.notifyTxAdmitted(key)
	return nil
}

// precheck runs the checks that do not need the pool lock.
func (txmp *TxMempool) precheck(tx types.Tx) error {
	key := tx.Key()
	if err := tx.ValidateBasic(); err != nil {
		return types.ErrInvalidTx{Key: key, Reason: err}
	}
	if tx.Expired(txmp.clock.Now()) {
		return types.ErrTxExpired{Key: key, Expiration: tx.Expiration}
	}
	if txmp.cache.Has(key) {
		return types.ErrTxRecentlyCommitted
	}
	if !txmp.validator.ValidateTx(tx) {
		return types.ErrInvalidTx{Key: key}
	}
	return nil
}

func (txmp *TxMempool) notifyTxAdmitted(key types.TxKey) {
	txmp.listenersMtx.RLock()
	defer txmp.listenersMtx.RUnlock()
	for _, fn := range txmp.listeners {
		fn(key)
	}
}

// addNewTransaction decides admission and applies it atomically: the victim
// set is computed first and nothing is mutated unless the transaction fits.
func (txmp *TxMempool) addNewTransaction(tx types.Tx, txInfo TxInfo) error {
	txmp.mtx.Lock()
	defer txmp.mtx.Unlock()

	key := tx.Key()
	size := int64(tx.Size())

	if size > txmp.config.CapacityBytes {
		return txmp.fullError()
	}

	var (
		replaced   *WrappedTx
		quota      *WrappedTx
		victims    = make(map[*WrappedTx]struct{})
		freedCount int
		freedBytes int64
	)
	addVictim := func(wtx *WrappedTx) {
		victims[wtx] = struct{}{}
		freedCount++
		freedBytes += int64(wtx.Size())
	}

	if existing, ok := txmp.txs[key]; ok {
		if tx.Priority <= existing.Priority() {
			return types.ErrTxDuplicate{
				Key:              key,
				Priority:         tx.Priority,
				ExistingPriority: existing.Priority(),
			}
		}
		replaced = existing
		addVictim(existing)
	} else if n := txmp.senderLen(tx.Sender); n >= txmp.config.CapacityPerUser {
		lowest := txmp.lowestOfSender(tx.Sender)
		if lowest == nil || tx.Priority <= lowest.Priority() {
			return types.ErrSenderQuotaExceeded{
				Sender: tx.Sender,
				NumTxs: n,
				MaxTxs: txmp.config.CapacityPerUser,
			}
		}
		quota = lowest
		addVictim(lowest)
	}

	fits := func() bool {
		return len(txmp.txs)-freedCount+1 <= txmp.config.Capacity &&
			txmp.sizeBytes-freedBytes+size <= txmp.config.CapacityBytes
	}

	if !fits() {
		// Walk candidates from the lowest priority up, oldest first within a
		// priority, and stop at the first one that is not strictly lower
		// than the incoming transaction.
		txmp.evictionIndex.Ascend(func(i btree.Item) bool {
			wtx := i.(evictionItem).WrappedTx
			if wtx.Priority() >= tx.Priority {
				return false
			}
			if _, ok := victims[wtx]; !ok {
				addVictim(wtx)
			}
			return !fits()
		})

		if !fits() {
			return txmp.fullError()
		}
	}

	for wtx := range victims {
		txmp.removeTx(wtx)
		switch wtx {
		case replaced:
			txmp.metrics.ReplacedTxs.Add(1)
		case quota:
			txmp.metrics.EvictedTxs.Add(1)
			txmp.logger.Debug("evicted transaction over sender quota", "tx", wtx.Key(), "priority", wtx.Priority())
		default:
			txmp.metrics.EvictedTxs.Add(1)
			txmp.logger.Debug(
				"evicted transaction to make room",
				"tx", wtx.Key(),
				"priority", wtx.Priority(),
				"incoming", key,
				"incoming_priority", tx.Priority,
			)
		}
	}

	wtx := &WrappedTx{
		tx:        tx,
		timestamp: txmp.clock.Now(),
		seq:       txmp.nextSeq,
		origin:    txInfo.SenderNodeID,
	}
	txmp.nextSeq++
	txmp.insertTx(wtx)

	txmp.logger.Debug(
		"inserted transaction",
		"tx", key,
		"priority", tx.Priority,
		"num_txs", len(txmp.txs),
		"size_bytes", txmp.sizeBytes,
	)

	return nil
}

func (txmp *TxMempool) fullError() error {
	return types.ErrMempoolIsFull{
		NumTxs:      len(txmp.txs),
		MaxTxs:      txmp.config.Capacity,
		TxsBytes:    txmp.sizeBytes,
		MaxTxsBytes: txmp.config.CapacityBytes,
	}
}

func (txmp *TxMempool) senderLen(sender string) int {
	if idx, ok := txmp.senders[sender]; ok {
		return idx.Len()
	}
	return 0
}

// lowestOfSender returns the sender's lowest priority transaction, oldest
// first on ties. The caller must hold the lock.
func (txmp *TxMempool) lowestOfSender(sender string) *WrappedTx {
	idx, ok := txmp.senders[sender]
	if !ok {
		return nil
	}

	var lowest *WrappedTx
	idx.Ascend(func(i btree.Item) bool {
		wtx := i.(sequenceItem).wtx
		if lowest == nil || (evictionItem{wtx}).Less(evictionItem{lowest}) {
			lowest = wtx
		}
		return true
	})
	return lowest
}

// Batch is the result of SelectBatch.
type Batch struct {
	Txs types.Txs

	// Advance maps each sender in the batch to the sequence the peer's
	// cursor mark may move to once the batch is delivered: the end of the
	// run of that sender's transactions that are then all sent.
	Advance map[string]uint64
}

// Bytes returns the total payload size of the batch.
func (b Batch) Bytes() int { return b.Txs.Size() }

// SelectBatch returns the transactions not yet sent according to cursor in
// broadcast order, priority descending then insertion ascending, bounded by
// maxCount entries and maxBytes total payload. A first transaction larger
// than maxBytes is returned on its own. Committed and expired transactions
// are skipped.
//
// The cursor is not modified.
func (txmp *TxMempool) SelectBatch(cursor PeerCursor, maxCount, maxBytes int) Batch {
	txmp.mtx.RLock()
	defer txmp.mtx.RUnlock()

	now := txmp.clock.Now()
	var (
		batch    = Batch{Advance: make(map[string]uint64)}
		selected = make(map[types.TxKey]struct{})
		bytes    int
	)

	if maxCount <= 0 {
		return batch
	}

	txmp.broadcastIndex.Ascend(func(i btree.Item) bool {
		wtx := i.(broadcastItem).WrappedTx
		if !wtx.selectable(now) || !cursor.Eligible(wtx.Key()) {
			return true
		}

		size := wtx.Size()
		if len(batch.Txs) > 0 && bytes+size > maxBytes {
			return false
		}

		batch.Txs = append(batch.Txs, wtx.tx)
		selected[wtx.Key()] = struct{}{}
		bytes += size

		return len(batch.Txs) < maxCount && bytes < maxBytes
	})

	for _, tx := range batch.Txs {
		if _, ok := batch.Advance[tx.Sender]; ok {
			continue
		}
		if seq, ok := txmp.contiguousRun(tx.Sender, cursor, selected, now); ok {
			batch.Advance[tx.Sender] = seq
		}
	}

	return batch
}

// contiguousRun walks the sender's transactions above the cursor mark in
// sequence order and returns the last sequence before the first one that
// would still be unsent after the batch. Transactions sent earlier, selected
// now, committed or expired all extend the run.
func (txmp *TxMempool) contiguousRun(
	sender string,
	cursor PeerCursor,
	selected map[types.TxKey]struct{},
	now time.Time,
) (uint64, bool) {
	idx, ok := txmp.senders[sender]
	if !ok {
		return 0, false
	}

	var (
		last  uint64
		found bool
	)
	visit := func(i btree.Item) bool {
		wtx := i.(sequenceItem).wtx
		key := wtx.Key()
		if _, ok := selected[key]; ok || !cursor.Eligible(key) || !wtx.selectable(now) {
			last, found = key.Sequence, true
			return true
		}
		return false
	}

	if sc, ok := cursor[sender]; ok && sc.marked {
		if sc.mark == ^uint64(0) {
			return 0, false
		}
		idx.AscendGreaterOrEqual(sequenceItem{sequence: sc.mark + 1}, visit)
	} else {
		idx.Ascend(visit)
	}

	return last, found
}

// RemoveTxs removes the transactions with the given keys and returns how
// many were present. Concurrent readers observe either none or all of the
// removals.
func (txmp *TxMempool) RemoveTxs(keys ...types.TxKey) int {
	txmp.mtx.Lock()
	defer txmp.mtx.Unlock()

	var n int
	for _, key := range keys {
		if wtx, ok := txmp.txs[key]; ok {
			txmp.removeTx(wtx)
			n++
		}
	}
	return n
}

// Update processes a commit notification for sender up to and including
// sequence. Covered transactions stop being gossiped immediately and are
// removed once the early expiry grace window has passed (immediately when
// the window is zero). It returns the number of transactions covered.
func (txmp *TxMempool) Update(sender string, sequence uint64) int {
	txmp.mtx.Lock()
	defer txmp.mtx.Unlock()

	txmp.cache.Push(sender, sequence)

	idx, ok := txmp.senders[sender]
	if !ok {
		return 0
	}

	var covered []*WrappedTx
	idx.AscendLessThan(sequenceItem{sequence: sequence}, func(i btree.Item) bool {
		covered = append(covered, i.(sequenceItem).wtx)
		return true
	})
	if it := idx.Get(sequenceItem{sequence: sequence}); it != nil {
		covered = append(covered, it.(sequenceItem).wtx)
	}

	now := txmp.clock.Now()
	immediate := txmp.config.EarlyExpiry() == 0
	for _, wtx := range covered {
		if immediate {
			txmp.removeTx(wtx)
			txmp.metrics.CommittedTxs.Add(1)
			continue
		}
		if !wtx.IsCommitted() {
			wtx.committedAt = now
			txmp.committed[wtx.Key()] = wtx
		}
	}

	return len(covered)
}

// PurgeExpired removes transactions whose expiration lies at least the
// system transaction timeout in the past, and committed transactions whose
// grace window has elapsed.
func (txmp *TxMempool) PurgeExpired() (expired, committed int) {
	txmp.mtx.Lock()
	defer txmp.mtx.Unlock()

	now := txmp.clock.Now()
	cutoff := now.Add(-txmp.config.SystemTransactionTimeout())

	var victims []*WrappedTx
	txmp.expiryIndex.AscendLessThan(expiryItem{expiration: cutoff, seq: ^uint64(0)}, func(i btree.Item) bool {
		victims = append(victims, i.(expiryItem).wtx)
		return true
	})
	for _, wtx := range victims {
		txmp.removeTx(wtx)
	}
	expired = len(victims)

	grace := txmp.config.EarlyExpiry()
	for _, wtx := range txmp.committed {
		if !now.Before(wtx.committedAt.Add(grace)) {
			txmp.removeTx(wtx)
			committed++
		}
	}

	txmp.metrics.ExpiredTxs.Add(float64(expired))
	txmp.metrics.CommittedTxs.Add(float64(committed))

	return expired, committed
}

// Flush removes every transaction and resets the committed cache.
func (txmp *TxMempool) Flush() {
	txmp.mtx.Lock()
	defer txmp.mtx.Unlock()

	for _, wtx := range txmp.txs {
		txmp.removeTx(wtx)
	}
	txmp.cache.Reset()
}

// Stats is a point-in-time summary of the pool.
type Stats struct {
	Size      int       `json:"size"`
	SizeBytes int64     `json:"size_bytes"`
	Senders   int       `json:"senders"`
	Committed int       `json:"committed"`
	Oldest    time.Time `json:"oldest"`
	Newest    time.Time `json:"newest"`
}

// Stats returns counts, byte totals and the insertion time range.
func (txmp *TxMempool) Stats() Stats {
	txmp.mtx.RLock()
	defer txmp.mtx.RUnlock()

	s := Stats{
		Size:      len(txmp.txs),
		SizeBytes: txmp.sizeBytes,
		Senders:   len(txmp.senders),
		Committed: len(txmp.committed),
	}
	if it := txmp.insertionIndex.Min(); it != nil {
		s.Oldest = it.(insertionItem).timestamp
	}
	if it := txmp.insertionIndex.Max(); it != nil {
		s.Newest = it.(insertionItem).timestamp
	}
	return s
}

// insertTx adds wtx to every index. The caller must hold the write lock.
func (txmp *TxMempool) insertTx(wtx *WrappedTx) {
	key := wtx.Key()
	txmp.txs[key] = wtx

	idx, ok := txmp.senders[key.Sender]
	if !ok {
		idx = btree.New(bTreeDegree)
		txmp.senders[key.Sender] = idx
	}
	idx.ReplaceOrInsert(sequenceItem{sequence: key.Sequence, wtx: wtx})
	txmp.senderTxs++

	txmp.broadcastIndex.ReplaceOrInsert(broadcastItem{wtx})
	txmp.evictionIndex.ReplaceOrInsert(evictionItem{wtx})
	txmp.insertionIndex.ReplaceOrInsert(insertionItem{wtx})
	if !wtx.tx.Expiration.IsZero() {
		txmp.expiryIndex.ReplaceOrInsert(newExpiryItem(wtx))
	}

	txmp.sizeBytes += int64(wtx.Size())
	txmp.assertInvariants()
}

// removeTx drops wtx from every index. The caller must hold the write lock.
func (txmp *TxMempool) removeTx(wtx *WrappedTx) {
	key := wtx.Key()
	if txmp.txs[key] != wtx {
		panic(fmt.Sprintf("mempool: removing %v which is not the stored record", key))
	}
	delete(txmp.txs, key)
	delete(txmp.committed, key)

	idx := txmp.senders[key.Sender]
	if idx == nil || idx.Delete(sequenceItem{sequence: key.Sequence}) == nil {
		panic(fmt.Sprintf("mempool: %v missing from sender index", key))
	}
	if idx.Len() == 0 {
		delete(txmp.senders, key.Sender)
	}
	txmp.senderTxs--

	if txmp.broadcastIndex.Delete(broadcastItem{wtx}) == nil ||
		txmp.evictionIndex.Delete(evictionItem{wtx}) == nil ||
		txmp.insertionIndex.Delete(insertionItem{wtx}) == nil {
		panic(fmt.Sprintf("mempool: %v missing from priority indexes", key))
	}
	if !wtx.tx.Expiration.IsZero() && txmp.expiryIndex.Delete(newExpiryItem(wtx)) == nil {
		panic(fmt.Sprintf("mempool: %v missing from expiry index", key))
	}

	txmp.sizeBytes -= int64(wtx.Size())
	txmp.assertInvariants()
}

// assertInvariants panics when the indexes or accumulators disagree. Such a
// mismatch is a logic error and continuing would spread the corruption.
func (txmp *TxMempool) assertInvariants() {
	n := len(txmp.txs)
	switch {
	case txmp.broadcastIndex.Len() != n,
		txmp.evictionIndex.Len() != n,
		txmp.insertionIndex.Len() != n,
		txmp.senderTxs != n:
		panic(fmt.Sprintf(
			"mempool: index size mismatch: txs=%d broadcast=%d eviction=%d insertion=%d senders=%d",
			n, txmp.broadcastIndex.Len(), txmp.evictionIndex.Len(), txmp.insertionIndex.Len(), txmp.senderTxs,
		))
	case n > txmp.config.Capacity:
		panic(fmt.Sprintf("mempool: %d txs exceed capacity %d", n, txmp.config.Capacity))
	case txmp.sizeBytes < 0 || txmp.sizeBytes > txmp.config.CapacityBytes:
		panic(fmt.Sprintf("mempool: %d bytes outside [0, %d]", txmp.sizeBytes, txmp.config.CapacityBytes))
	}

	txmp.metrics.Size.Set(float64(n))
	txmp.metrics.SizeBytes.Set(float64(txmp.sizeBytes))
}
