package os_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	tmos "github.com/tendermint/sharedmempool/libs/os"
)

func TestEnsureDir(t *testing.T) {
	tmp := t.TempDir()

	dir := filepath.Join(tmp, "a", "b")
	require.NoError(t, tmos.EnsureDir(dir, 0755))
	require.DirExists(t, dir)
	// idempotent
	require.NoError(t, tmos.EnsureDir(dir, 0755))

	file := filepath.Join(tmp, "file")
	require.NoError(t, os.WriteFile(file, []byte{}, 0644))
	require.Error(t, tmos.EnsureDir(file, 0755))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_id")
	require.False(t, tmos.FileExists(path))

	require.NoError(t, tmos.WriteFileAtomic(path, []byte("first"), 0600))
	require.NoError(t, tmos.WriteFileAtomicFrom(path, 0600, func(buf *bytes.Buffer) error {
		_, err := buf.WriteString("second")
		return err
	}))

	require.True(t, tmos.FileExists(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}
