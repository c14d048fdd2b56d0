package mempool

import (
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when every inbound sync slot is taken.
var ErrBusy = errors.New("too many concurrent inbound broadcasts")

// SyncLimiter bounds the number of inbound broadcasts processed at once.
// Excess requests are rejected immediately instead of queueing.
type SyncLimiter struct {
	sem *semaphore.Weighted
	max int64
}

// NewSyncLimiter returns a limiter admitting up to max concurrent syncs.
func NewSyncLimiter(max int) *SyncLimiter {
	return &SyncLimiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: int64(max),
	}
}

// Ticket is a held inbound sync slot. Release is idempotent.
type Ticket struct {
	once sync.Once
	sem  *semaphore.Weighted
}

// Release returns the slot to the limiter.
func (t *Ticket) Release() {
	t.once.Do(func() { t.sem.Release(1) })
}

// Acquire takes a slot or fails with ErrBusy without blocking.
func (l *SyncLimiter) Acquire() (*Ticket, error) {
	if !l.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	return &Ticket{sem: l.sem}, nil
}

// Capacity returns the maximum number of concurrent syncs.
func (l *SyncLimiter) Capacity() int { return int(l.max) }
