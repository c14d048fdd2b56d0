package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ensureFiles(t *testing.T, rootDir string, files ...string) {
	for _, f := range files {
		p := rootify(f, rootDir)
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
}

func TestEnsureRoot(t *testing.T) {
	require := require.New(t)

	tmpDir := t.TempDir()

	require.NoError(EnsureRoot(tmpDir))
	require.NoError(WriteDefaultConfigFileIfNone(tmpDir))

	data, err := os.ReadFile(filepath.Join(tmpDir, defaultConfigFilePath))
	require.NoError(err)

	checkConfig(t, string(data))

	ensureFiles(t, tmpDir, "data", "config")
}

func TestEnsureTestRoot(t *testing.T) {
	require := require.New(t)

	cfg, err := ResetTestRoot(t.TempDir(), "ensureTestRoot")
	require.NoError(err)

	data, err := os.ReadFile(cfg.ConfigFile())
	require.NoError(err)

	checkConfig(t, string(data))

	ensureFiles(t, cfg.RootDir, "data", "config/config.toml")
}

// The rendered template must be valid TOML and round-trip the values that
// were rendered into it.
func TestConfigTemplateParses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPC.CORSAllowedOrigins = []string{"*"}
	cfg.Mempool.FailoverThreshold = 5

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, cfg.WriteToTemplate(path))

	var parsed struct {
		Mode    string `toml:"mode"`
		Mempool struct {
			Capacity           int    `toml:"capacity"`
			CapacityBytes      int64  `toml:"capacity_bytes"`
			FailoverThreshold  int    `toml:"failover_threshold"`
			TickIntervalMs     uint64 `toml:"shared_mempool_tick_interval_ms"`
			ValidatorBroadcast bool   `toml:"shared_mempool_validator_broadcast"`
		} `toml:"mempool"`
		RPC struct {
			CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
		} `toml:"rpc"`
	}
	_, err := toml.DecodeFile(path, &parsed)
	require.NoError(t, err)

	assert.Equal(t, cfg.Mode, parsed.Mode)
	assert.Equal(t, cfg.Mempool.Capacity, parsed.Mempool.Capacity)
	assert.Equal(t, cfg.Mempool.CapacityBytes, parsed.Mempool.CapacityBytes)
	assert.Equal(t, 5, parsed.Mempool.FailoverThreshold)
	assert.Equal(t, cfg.Mempool.TickIntervalMs, parsed.Mempool.TickIntervalMs)
	assert.True(t, parsed.Mempool.ValidatorBroadcast)
	assert.Equal(t, []string{"*"}, parsed.RPC.CORSAllowedOrigins)
}

func checkConfig(t *testing.T, configFile string) {
	t.Helper()

	// list of words we expect in the config
	var elems = []string{
		"moniker",
		"mode",
		"db_backend",
		"log_level",
		"[rpc]",
		"laddr",
		"[p2p]",
		"[mempool]",
		"capacity",
		"capacity_per_user",
		"default_failovers",
		"max_broadcasts_per_peer",
		"mempool_snapshot_interval_secs",
		"shared_mempool_ack_timeout_ms",
		"shared_mempool_backoff_interval_ms",
		"shared_mempool_batch_size",
		"shared_mempool_max_batch_bytes",
		"shared_mempool_max_concurrent_inbound_syncs",
		"shared_mempool_tick_interval_ms",
		"shared_mempool_validator_broadcast",
		"shared_mempool_early_expiry_secs",
		"system_transaction_timeout_secs",
		"system_transaction_gc_interval_ms",
		"[instrumentation]",
	}
	for _, e := range elems {
		assert.Contains(t, configFile, e)
	}
}

func TestRenderMatchesWrittenFile(t *testing.T) {
	cfg := TestConfig()

	var buf bytes.Buffer
	require.NoError(t, cfg.Render(&buf))

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, cfg.WriteToTemplate(path))
	written, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(written), buf.String())
}
