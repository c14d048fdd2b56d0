package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	require.True(t, strings.HasPrefix(Version, SemVer))
	require.Equal(t, uint64(1), BroadcastProtocol.Uint64())
}
