package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/sharedmempool/internal/mempool"
)

/*
SnapshotStore is a simple low level store for mempool snapshots.

Every snapshot saved gets the next height, starting at 1. The store keeps
all contiguous snapshots between base and height (inclusive) and, when a
retention is set, prunes the oldest ones after each save so that at most
retain snapshots remain.

// NOTE: SnapshotStore methods will panic if they encounter errors
// deserializing loaded data, indicating probable corruption on disk.
*/
type SnapshotStore struct {
	db     dbm.DB
	retain int64

	mtx    sync.Mutex
	base   int64
	height int64
}

// NewSnapshotStore returns a new SnapshotStore with the given DB, initialized
// to the last height that was saved to the DB. A retain of zero or less keeps
// every snapshot.
func NewSnapshotStore(db dbm.DB, retain int) *SnapshotStore {
	ss := &SnapshotStore{db: db, retain: int64(retain)}
	ss.base, ss.height = ss.loadRange()
	return ss
}

// Base returns the first known contiguous snapshot height, or 0 for empty
// stores.
func (ss *SnapshotStore) Base() int64 {
	ss.mtx.Lock()
	defer ss.mtx.Unlock()
	return ss.base
}

// Height returns the last known contiguous snapshot height, or 0 for empty
// stores.
func (ss *SnapshotStore) Height() int64 {
	ss.mtx.Lock()
	defer ss.mtx.Unlock()
	return ss.height
}

// Size returns the number of snapshots in the store.
func (ss *SnapshotStore) Size() int64 {
	ss.mtx.Lock()
	defer ss.mtx.Unlock()
	if ss.height == 0 {
		return 0
	}
	return ss.height - ss.base + 1
}

func (ss *SnapshotStore) loadRange() (base, height int64) {
	iter, err := ss.db.Iterator(snapshotKey(1), snapshotKey(1<<63-1))
	if err != nil {
		panic(err)
	}
	if iter.Valid() {
		base = mustDecodeSnapshotKey(iter.Key())
	}
	if err := iter.Error(); err != nil {
		panic(err)
	}
	iter.Close()

	iter, err = ss.db.ReverseIterator(snapshotKey(1), snapshotKey(1<<63-1))
	if err != nil {
		panic(err)
	}
	defer iter.Close()
	if iter.Valid() {
		height = mustDecodeSnapshotKey(iter.Key())
	}
	if err := iter.Error(); err != nil {
		panic(err)
	}
	return base, height
}

// SaveSnapshot persists snap under the next height and prunes snapshots
// that fall out of the retention window.
func (ss *SnapshotStore) SaveSnapshot(snap mempool.Snapshot) error {
	bz, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("unable to marshal snapshot: %w", err)
	}

	ss.mtx.Lock()
	defer ss.mtx.Unlock()

	height := ss.height + 1
	if err := ss.db.SetSync(snapshotKey(height), bz); err != nil {
		return err
	}
	ss.height = height
	if ss.base == 0 {
		ss.base = height
	}

	if ss.retain > 0 && ss.height-ss.base+1 > ss.retain {
		retainHeight := ss.height - ss.retain + 1
		if _, err := ss.pruneRange(snapshotKey(ss.base), snapshotKey(retainHeight)); err != nil {
			return fmt.Errorf("failed to prune snapshots below %d: %w", retainHeight, err)
		}
		ss.base = retainHeight
	}
	return nil
}

// LoadSnapshot returns the snapshot with the given height.
// If no snapshot is found for that height, it returns nil.
func (ss *SnapshotStore) LoadSnapshot(height int64) *mempool.Snapshot {
	bz, err := ss.db.Get(snapshotKey(height))
	if err != nil {
		panic(err)
	}
	if len(bz) == 0 {
		return nil
	}
	return mustDecodeSnapshot(bz)
}

// Latest returns the most recently saved snapshot, or nil for empty stores.
func (ss *SnapshotStore) Latest() *mempool.Snapshot {
	height := ss.Height()
	if height == 0 {
		return nil
	}
	return ss.LoadSnapshot(height)
}

// List returns up to limit snapshots, newest first. A limit of zero or less
// returns every stored snapshot.
func (ss *SnapshotStore) List(limit int) ([]mempool.Snapshot, error) {
	iter, err := ss.db.ReverseIterator(snapshotKey(1), snapshotKey(1<<63-1))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var snaps []mempool.Snapshot
	for ; iter.Valid(); iter.Next() {
		if limit > 0 && len(snaps) >= limit {
			break
		}
		var snap mempool.Snapshot
		if err := json.Unmarshal(iter.Value(), &snap); err != nil {
			return nil, fmt.Errorf("decoding snapshot at key %X: %w", iter.Key(), err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, iter.Error()
}

// pruneRange deletes every key from start up to but excluding end, using
// batches of at most 1000 keys.
func (ss *SnapshotStore) pruneRange(start, end []byte) (uint64, error) {
	var (
		err         error
		pruned      uint64
		totalPruned uint64
	)

	batch := ss.db.NewBatch()
	defer batch.Close()

	pruned, start, err = ss.batchDelete(batch, start, end)
	if err != nil {
		return totalPruned, err
	}

	for !bytes.Equal(start, end) {
		if err := batch.Write(); err != nil {
			return totalPruned, err
		}
		totalPruned += pruned

		if err := batch.Close(); err != nil {
			return totalPruned, err
		}
		batch = ss.db.NewBatch()

		pruned, start, err = ss.batchDelete(batch, start, end)
		if err != nil {
			return totalPruned, err
		}
	}

	if err := batch.WriteSync(); err != nil {
		return totalPruned, err
	}
	totalPruned += pruned
	return totalPruned, nil
}

// batchDelete adds keys from start to the batch until either 1000 keys have
// been added or end is reached. It returns the key to resume from.
func (ss *SnapshotStore) batchDelete(batch dbm.Batch, start, end []byte) (uint64, []byte, error) {
	var pruned uint64
	iter, err := ss.db.Iterator(start, end)
	if err != nil {
		return pruned, start, err
	}
	defer iter.Close()

	for ; iter.Valid(); iter.Next() {
		key := iter.Key()
		if err := batch.Delete(key); err != nil {
			return 0, start, fmt.Errorf("pruning error at key %X: %w", key, err)
		}

		pruned++
		if pruned == 1000 {
			iter.Next()
			if iter.Valid() {
				return pruned, iter.Key(), iter.Error()
			}
			break
		}
	}

	return pruned, end, iter.Error()
}

func (ss *SnapshotStore) Close() error {
	return ss.db.Close()
}

//---------------------------------- KEY ENCODING -----------------------------------------

const (
	prefixSnapshot = int64(0)
)

func snapshotKey(height int64) []byte {
	key, err := orderedcode.Append(nil, prefixSnapshot, height)
	if err != nil {
		panic(err)
	}
	return key
}

func decodeSnapshotKey(key []byte) (height int64, err error) {
	var prefix int64
	remaining, err := orderedcode.Parse(string(key), &prefix, &height)
	if err != nil {
		return
	}
	if len(remaining) != 0 {
		return -1, fmt.Errorf("expected complete key but got remainder: %s", remaining)
	}
	if prefix != prefixSnapshot {
		return -1, fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixSnapshot, prefix)
	}
	return
}

func mustDecodeSnapshotKey(key []byte) int64 {
	height, err := decodeSnapshotKey(key)
	if err != nil {
		panic(err)
	}
	return height
}

func mustDecodeSnapshot(bz []byte) *mempool.Snapshot {
	snap := new(mempool.Snapshot)
	if err := json.Unmarshal(bz, snap); err != nil {
		panic(fmt.Errorf("error reading snapshot: %w", err))
	}
	return snap
}
