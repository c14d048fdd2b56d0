package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// NodeID is the identity of a node in the gossip network.
type NodeID string

// NewNodeID returns a freshly generated random node identity.
func NewNodeID() NodeID {
	return NodeID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Validate checks that the node ID is non-empty and printable.
func (id NodeID) Validate() error {
	if id == "" {
		return errors.New("empty node ID")
	}
	for _, r := range string(id) {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("node ID %q contains invalid character %q", string(id), r)
		}
	}
	return nil
}

func (id NodeID) String() string { return string(id) }
