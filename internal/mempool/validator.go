package mempool

import (
	"github.com/tendermint/sharedmempool/types"
)

// Validator is the validity oracle consulted before a transaction is
// admitted. Signature and format checks live behind it.
type Validator interface {
	ValidateTx(tx types.Tx) bool
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(tx types.Tx) bool

func (f ValidatorFunc) ValidateTx(tx types.Tx) bool { return f(tx) }

// AcceptAll is a Validator that accepts every transaction.
var AcceptAll Validator = ValidatorFunc(func(types.Tx) bool { return true })
