package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrTxRecentlyCommitted is returned when a transaction with the same key
// was committed recently and is still remembered by the pool.
var ErrTxRecentlyCommitted = errors.New("tx was recently committed")

// ErrMempoolIsFull is returned when admitting a transaction would exceed the
// pool-wide count or byte capacity and no lower priority transactions can be
// evicted to make room.
type ErrMempoolIsFull struct {
	NumTxs      int
	MaxTxs      int
	TxsBytes    int64
	MaxTxsBytes int64
}

func (e ErrMempoolIsFull) Error() string {
	return fmt.Sprintf(
		"mempool is full: number of txs %d (max: %d), total txs bytes %d (max: %d)",
		e.NumTxs,
		e.MaxTxs,
		e.TxsBytes,
		e.MaxTxsBytes,
	)
}

// ErrSenderQuotaExceeded is returned when a sender already holds its quota
// of transactions and the new one does not outrank the sender's lowest.
type ErrSenderQuotaExceeded struct {
	Sender string
	NumTxs int
	MaxTxs int
}

func (e ErrSenderQuotaExceeded) Error() string {
	return fmt.Sprintf("sender %s holds %d txs (max: %d)", e.Sender, e.NumTxs, e.MaxTxs)
}

// ErrTxDuplicate is returned when a transaction with the same key is already
// in the pool with an equal or higher priority.
type ErrTxDuplicate struct {
	Key              TxKey
	Priority         uint64
	ExistingPriority uint64
}

func (e ErrTxDuplicate) Error() string {
	return fmt.Sprintf("tx %v already exists with priority %d (got %d)",
		e.Key, e.ExistingPriority, e.Priority)
}

// ErrTxExpired is returned when a transaction's expiration is already in the
// past at submission time.
type ErrTxExpired struct {
	Key        TxKey
	Expiration time.Time
}

func (e ErrTxExpired) Error() string {
	return fmt.Sprintf("tx %v expired at %s", e.Key, e.Expiration.Format(time.RFC3339))
}

// ErrInvalidTx is returned when the validity oracle rejects a transaction.
type ErrInvalidTx struct {
	Key    TxKey
	Reason error
}

func (e ErrInvalidTx) Error() string {
	if e.Reason == nil {
		return fmt.Sprintf("tx %v is invalid", e.Key)
	}
	return fmt.Sprintf("tx %v is invalid: %v", e.Key, e.Reason)
}

func (e ErrInvalidTx) Unwrap() error { return e.Reason }

// IsAdmissionError reports whether err is one of the admission verdicts
// above. Admission errors are never fatal.
func IsAdmissionError(err error) bool {
	return errors.As(err, &ErrMempoolIsFull{}) ||
		errors.As(err, &ErrSenderQuotaExceeded{}) ||
		errors.As(err, &ErrTxDuplicate{}) ||
		errors.As(err, &ErrTxExpired{}) ||
		errors.As(err, &ErrInvalidTx{}) ||
		errors.Is(err, ErrTxRecentlyCommitted)
}

// RejectReason returns a short snake_case label for an admission error, as
// used in metrics and API responses.
func RejectReason(err error) string {
	switch err.(type) {
	case ErrMempoolIsFull:
		return "capacity_exceeded"
	case ErrSenderQuotaExceeded:
		return "quota_exceeded"
	case ErrTxDuplicate:
		return "duplicate"
	case ErrTxExpired:
		return "expired"
	case ErrInvalidTx:
		return "invalid"
	}
	if errors.Is(err, ErrTxRecentlyCommitted) {
		return "committed"
	}
	return "other"
}
