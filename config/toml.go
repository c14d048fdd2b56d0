package config

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/template"

	tmos "github.com/tendermint/sharedmempool/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

// EnsureRoot creates the root, config, and data directories if they don't
// exist.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	} {
		if err := tmos.EnsureDir(dir, defaultDirPerm); err != nil {
			return err
		}
	}
	return nil
}

// WriteConfigFile renders config using the template and writes it to
// <rootDir>/config/config.toml.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	return tmos.WriteFileAtomicFrom(path, 0644, func(buf *bytes.Buffer) error {
		return configTemplate.Execute(buf, cfg)
	})
}

// Render writes the config to w in the default toml template.
func (cfg *Config) Render(w io.Writer) error {
	return configTemplate.Execute(w, cfg)
}

// WriteDefaultConfigFileIfNone writes the default config unless a config
// file already exists under rootDir.
func WriteDefaultConfigFileIfNone(rootDir string) error {
	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if tmos.FileExists(configFilePath) {
		return nil
	}
	return WriteConfigFile(rootDir, DefaultConfig())
}

// ResetTestRoot creates a temporary root directory holding the test config
// file and returns a test config rooted there.
func ResetTestRoot(dir, testName string) (*Config, error) {
	rootDir := filepath.Join(dir, testName)
	if err := EnsureRoot(rootDir); err != nil {
		return nil, err
	}

	cfg := TestConfig().SetRoot(rootDir)
	if err := WriteConfigFile(rootDir, cfg); err != nil {
		return nil, fmt.Errorf("writing test config: %w", err)
	}
	return cfg, nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/mempool/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.sharedmempool" by default, but could be changed via $MEMPOOL_HOME
# env variable or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Mode of Node: validator | full
mode = "{{ .BaseConfig.Mode }}"

# Database backend for the snapshot history: goleveldb | memdb
db_backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db_dir = "{{ .BaseConfig.DBPath }}"

# Output level for logging, including package level options
log_level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log_format = "{{ .BaseConfig.LogFormat }}"

# Path to the file holding this node's identity
node_id_file = "{{ js .BaseConfig.NodeID }}"

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###       RPC Server Configuration Options          ###
#######################################################
[rpc]

# TCP address for the HTTP server to listen on. Empty disables the server.
laddr = "{{ .RPC.ListenAddress }}"

# A list of origins a cross-domain request can be executed from
# Default value '[]' disables cors support
# Use '["*"]' to allow any origin
cors_allowed_origins = [{{ range .RPC.CORSAllowedOrigins }}{{ printf "%q, " . }}{{end}}]

# A list of methods the client is allowed to use with cross-domain requests
cors_allowed_methods = [{{ range .RPC.CORSAllowedMethods }}{{ printf "%q, " . }}{{end}}]

# A list of non simple headers the client is allowed to use with cross-domain requests
cors_allowed_headers = [{{ range .RPC.CORSAllowedHeaders }}{{ printf "%q, " . }}{{end}}]

# Maximum number of simultaneous connections.
# 0 - unlimited.
max_open_connections = {{ .RPC.MaxOpenConnections }}

# Maximum size of request body, in bytes
max_body_bytes = {{ .RPC.MaxBodyBytes }}

#######################################################
###           P2P Configuration Options             ###
#######################################################
[p2p]

# Number of simulated peers started in-process next to this node
testnet_peers = {{ .P2P.TestnetPeers }}

# How many of the simulated peers run as validators
testnet_validators = {{ .P2P.TestnetValidators }}

# Simulated one-way delay on the in-process network
testnet_latency = "{{ .P2P.TestnetLatency }}"

#######################################################
###          Mempool Configuration Options          ###
#######################################################
[mempool]

# Maximum number of transactions in the pool
capacity = {{ .Mempool.Capacity }}

# Maximum total payload bytes in the pool
capacity_bytes = {{ .Mempool.CapacityBytes }}

# Maximum number of transactions per sender
capacity_per_user = {{ .Mempool.CapacityPerUser }}

# Number of alternate network instances per peer
default_failovers = {{ .Mempool.DefaultFailovers }}

# Consecutive failed broadcasts on one network instance before failing over
failover_threshold = {{ .Mempool.FailoverThreshold }}

# Maximum number of peers with a broadcast in flight at the same time
max_broadcasts_per_peer = {{ .Mempool.MaxBroadcastsPerPeer }}

# Interval between mempool snapshots
mempool_snapshot_interval_secs = {{ .Mempool.SnapshotIntervalSecs }}

# Number of snapshots kept in the snapshot history (0 disables it)
snapshot_history_size = {{ .Mempool.SnapshotHistorySize }}

# Time to wait for a broadcast acknowledgement
shared_mempool_ack_timeout_ms = {{ .Mempool.AckTimeoutMs }}

# Base delay before retrying a failed broadcast; doubles per consecutive failure
shared_mempool_backoff_interval_ms = {{ .Mempool.BackoffIntervalMs }}

# Largest exponent applied to the backoff interval
shared_mempool_backoff_exponent_cap = {{ .Mempool.BackoffExponentCap }}

# Maximum number of transactions per broadcast batch
shared_mempool_batch_size = {{ .Mempool.BatchSize }}

# Maximum payload bytes per broadcast batch
shared_mempool_max_batch_bytes = {{ .Mempool.MaxBatchBytes }}

# Maximum number of inbound broadcasts processed concurrently
shared_mempool_max_concurrent_inbound_syncs = {{ .Mempool.MaxConcurrentInboundSyncs }}

# Interval of the broadcast scheduler
shared_mempool_tick_interval_ms = {{ .Mempool.TickIntervalMs }}

# Broadcast to non-validator peers too
shared_mempool_validator_broadcast = {{ .Mempool.ValidatorBroadcast }}

# Grace window before committed transactions are removed
shared_mempool_early_expiry_secs = {{ .Mempool.EarlyExpirySecs }}

# Time past its expiration after which a transaction is garbage collected
system_transaction_timeout_secs = {{ .Mempool.SystemTransactionTimeoutSecs }}

# Interval of the expiry garbage collector
system_transaction_gc_interval_ms = {{ .Mempool.SystemTransactionGCIntervalMs }}

# Number of recently committed transaction keys remembered (0 disables)
committed_cache_size = {{ .Mempool.CommittedCacheSize }}

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on the RPC address
prometheus = {{ .Instrumentation.Prometheus }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
