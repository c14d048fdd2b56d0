package node

import (
	"encoding/json"
	"fmt"
	"os"

	tmos "github.com/tendermint/sharedmempool/libs/os"
	"github.com/tendermint/sharedmempool/types"
)

// nodeIDFile is the on-disk form of the node identity.
type nodeIDFile struct {
	ID types.NodeID `json:"id"`
}

// LoadOrGenNodeID reads the node identity from filePath. If the file does
// not exist, a new identity is generated and saved there.
func LoadOrGenNodeID(filePath string) (types.NodeID, error) {
	if tmos.FileExists(filePath) {
		return LoadNodeID(filePath)
	}

	id := types.NewNodeID()
	if err := SaveNodeID(filePath, id); err != nil {
		return "", err
	}
	return id, nil
}

// LoadNodeID reads and validates the node identity stored at filePath.
func LoadNodeID(filePath string) (types.NodeID, error) {
	bz, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	var f nodeIDFile
	if err := json.Unmarshal(bz, &f); err != nil {
		return "", fmt.Errorf("error reading node ID from %v: %w", filePath, err)
	}
	if err := f.ID.Validate(); err != nil {
		return "", fmt.Errorf("invalid node ID in %v: %w", filePath, err)
	}
	return f.ID, nil
}

// SaveNodeID persists id to filePath.
func SaveNodeID(filePath string, id types.NodeID) error {
	bz, err := json.Marshal(nodeIDFile{ID: id})
	if err != nil {
		return err
	}
	return tmos.WriteFileAtomic(filePath, bz, 0600)
}
