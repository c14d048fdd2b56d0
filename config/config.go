package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/tendermint/sharedmempool/libs/log"
)

const (
	// ModeValidator marks a node that takes part in consensus. Peers learn
	// the mode through the peer directory and use it for the validator
	// broadcast filter.
	ModeValidator = "validator"
	// ModeFull marks a node that only relays transactions.
	ModeFull = "full"

	// MaxApplicationMessageSize bounds a single network message carrying a
	// broadcast batch: a 64 MiB frame minus 1 MiB of envelope padding.
	MaxApplicationMessageSize = (64 - 1) * 1024 * 1024
)

// NOTE: Most of the structs & relevant comments + the default configuration
// options were used to manually generate the config.toml. Please reflect any
// changes made here in the defaultConfigTemplate constant in config/toml.go
// NOTE: libs/cli must know to look in the config dir!
var (
	DefaultNodeDir   = ".sharedmempool"
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"
	defaultNodeIDName     = "node_id"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultNodeIDPath     = filepath.Join(defaultConfigDir, defaultNodeIDName)
)

// Config defines the top level configuration for a mempool node.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	P2P             *P2PConfig             `mapstructure:"p2p"`
	Mempool         *MempoolConfig         `mapstructure:"mempool"`
	RPC             *RPCConfig             `mapstructure:"rpc"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a mempool node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		P2P:             DefaultP2PConfig(),
		Mempool:         DefaultMempoolConfig(),
		RPC:             DefaultRPCConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		P2P:             TestP2PConfig(),
		Mempool:         TestMempoolConfig(),
		RPC:             TestRPCConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return pkgerrors.Wrap(err, "error in [p2p] section")
	}
	if err := cfg.Mempool.ValidateBasic(); err != nil {
		return pkgerrors.Wrap(err, "error in [mempool] section")
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return pkgerrors.Wrap(err, "error in [rpc] section")
	}
	return pkgerrors.Wrap(
		cfg.Instrumentation.ValidateBasic(),
		"error in [instrumentation] section",
	)
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a mempool node.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Mode of the node: validator | full
	Mode string `mapstructure:"mode"`

	// Database backend for the snapshot history: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`

	// File holding the node identity
	NodeID string `mapstructure:"node_id_file"`
}

// DefaultBaseConfig returns a default base configuration for a mempool node.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:   defaultMoniker,
		Mode:      ModeFull,
		DBBackend: "goleveldb",
		DBPath:    defaultDataDir,
		LogLevel:  log.LogLevelInfo,
		LogFormat: log.LogFormatPlain,
		NodeID:    defaultNodeIDPath,
	}
}

// TestBaseConfig returns a base configuration for testing a mempool node.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "test"
	cfg.DBBackend = "memdb"
	return cfg
}

// DBDir returns the full path to the database directory.
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// NodeIDFile returns the full path to the node identity file.
func (cfg BaseConfig) NodeIDFile() string {
	return rootify(cfg.NodeID, cfg.RootDir)
}

// ConfigFile returns the full path to config.toml.
func (cfg BaseConfig) ConfigFile() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case log.LogFormatPlain, log.LogFormatText, log.LogFormatJSON:
	default:
		return errors.New("unknown log format (must be 'plain', 'text' or 'json')")
	}

	switch cfg.Mode {
	case ModeValidator, ModeFull:
	default:
		return fmt.Errorf("unknown mode: %q (must be %q or %q)", cfg.Mode, ModeValidator, ModeFull)
	}

	return nil
}

//-----------------------------------------------------------------------------
// P2PConfig

// P2PConfig configures the in-process peer network started by the node.
// Transport-level networking is provided by the host process; the node
// only needs to know which peers exist and over how many network
// instances each can be reached.
type P2PConfig struct {
	// Number of simulated peers to start next to this node
	TestnetPeers int `mapstructure:"testnet_peers"`

	// How many of the simulated peers run as validators
	TestnetValidators int `mapstructure:"testnet_validators"`

	// Simulated one-way delay of a request on the in-process network
	TestnetLatency time.Duration `mapstructure:"testnet_latency"`
}

// DefaultP2PConfig returns a default configuration for the peer network.
func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		TestnetPeers:      0,
		TestnetValidators: 0,
		TestnetLatency:    10 * time.Millisecond,
	}
}

// TestP2PConfig returns a configuration for testing the peer network.
func TestP2PConfig() *P2PConfig {
	cfg := DefaultP2PConfig()
	cfg.TestnetLatency = 0
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *P2PConfig) ValidateBasic() error {
	if cfg.TestnetPeers < 0 {
		return errors.New("testnet_peers can't be negative")
	}
	if cfg.TestnetValidators < 0 || cfg.TestnetValidators > cfg.TestnetPeers {
		return errors.New("testnet_validators must be between 0 and testnet_peers")
	}
	if cfg.TestnetLatency < 0 {
		return errors.New("testnet_latency can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// MempoolConfig

// MempoolConfig defines the configuration options for the shared mempool.
type MempoolConfig struct {
	// Maximum number of transactions held in the pool.
	Capacity int `mapstructure:"capacity"`
	// Maximum total payload bytes held in the pool.
	CapacityBytes int64 `mapstructure:"capacity_bytes"`
	// Maximum number of transactions held per sender.
	CapacityPerUser int `mapstructure:"capacity_per_user"`

	// Number of alternate network instances per peer.
	DefaultFailovers int `mapstructure:"default_failovers"`
	// Consecutive failed attempts on one instance before failing over.
	FailoverThreshold int `mapstructure:"failover_threshold"`
	// Maximum number of peers with a batch in flight at the same time.
	MaxBroadcastsPerPeer int `mapstructure:"max_broadcasts_per_peer"`

	SnapshotIntervalSecs uint64 `mapstructure:"mempool_snapshot_interval_secs"`
	// Number of snapshots kept in the snapshot history. 0 disables it.
	SnapshotHistorySize int `mapstructure:"snapshot_history_size"`

	AckTimeoutMs              uint64 `mapstructure:"shared_mempool_ack_timeout_ms"`
	BackoffIntervalMs         uint64 `mapstructure:"shared_mempool_backoff_interval_ms"`
	BackoffExponentCap        int    `mapstructure:"shared_mempool_backoff_exponent_cap"`
	BatchSize                 int    `mapstructure:"shared_mempool_batch_size"`
	MaxBatchBytes             int    `mapstructure:"shared_mempool_max_batch_bytes"`
	MaxConcurrentInboundSyncs int    `mapstructure:"shared_mempool_max_concurrent_inbound_syncs"`
	TickIntervalMs            uint64 `mapstructure:"shared_mempool_tick_interval_ms"`
	ValidatorBroadcast        bool   `mapstructure:"shared_mempool_validator_broadcast"`
	EarlyExpirySecs           uint64 `mapstructure:"shared_mempool_early_expiry_secs"`

	SystemTransactionTimeoutSecs  uint64 `mapstructure:"system_transaction_timeout_secs"`
	SystemTransactionGCIntervalMs uint64 `mapstructure:"system_transaction_gc_interval_ms"`

	// Number of recently committed transaction keys remembered to reject
	// stale gossip. 0 disables the cache.
	CommittedCacheSize int `mapstructure:"committed_cache_size"`
}

// DefaultMempoolConfig returns a default configuration for the shared mempool.
func DefaultMempoolConfig() *MempoolConfig {
	return &MempoolConfig{
		Capacity:        2_000_000,
		CapacityBytes:   2 * 1024 * 1024 * 1024,
		CapacityPerUser: 100,

		DefaultFailovers:     3,
		FailoverThreshold:    2,
		MaxBroadcastsPerPeer: 1,

		SnapshotIntervalSecs: 180,
		SnapshotHistorySize:  100,

		AckTimeoutMs:              2_000,
		BackoffIntervalMs:         30_000,
		BackoffExponentCap:        6,
		BatchSize:                 100,
		MaxBatchBytes:             MaxApplicationMessageSize,
		MaxConcurrentInboundSyncs: 4,
		TickIntervalMs:            50,
		ValidatorBroadcast:        true,
		EarlyExpirySecs:           2,

		SystemTransactionTimeoutSecs:  600,
		SystemTransactionGCIntervalMs: 60_000,

		CommittedCacheSize: 10_000,
	}
}

// TestMempoolConfig returns a configuration for testing the shared mempool.
func TestMempoolConfig() *MempoolConfig {
	cfg := DefaultMempoolConfig()
	cfg.Capacity = 1_000
	cfg.CapacityBytes = 1024 * 1024
	cfg.AckTimeoutMs = 200
	cfg.BackoffIntervalMs = 100
	cfg.TickIntervalMs = 10
	cfg.SnapshotIntervalSecs = 1
	cfg.SystemTransactionGCIntervalMs = 100
	cfg.EarlyExpirySecs = 0
	cfg.CommittedCacheSize = 1_000
	return cfg
}

func (cfg *MempoolConfig) SnapshotInterval() time.Duration {
	return time.Duration(cfg.SnapshotIntervalSecs) * time.Second
}

func (cfg *MempoolConfig) AckTimeout() time.Duration {
	return time.Duration(cfg.AckTimeoutMs) * time.Millisecond
}

func (cfg *MempoolConfig) BackoffInterval() time.Duration {
	return time.Duration(cfg.BackoffIntervalMs) * time.Millisecond
}

func (cfg *MempoolConfig) TickInterval() time.Duration {
	return time.Duration(cfg.TickIntervalMs) * time.Millisecond
}

func (cfg *MempoolConfig) EarlyExpiry() time.Duration {
	return time.Duration(cfg.EarlyExpirySecs) * time.Second
}

func (cfg *MempoolConfig) SystemTransactionTimeout() time.Duration {
	return time.Duration(cfg.SystemTransactionTimeoutSecs) * time.Second
}

func (cfg *MempoolConfig) GCInterval() time.Duration {
	return time.Duration(cfg.SystemTransactionGCIntervalMs) * time.Millisecond
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *MempoolConfig) ValidateBasic() error {
	switch {
	case cfg.Capacity <= 0:
		return errors.New("capacity must be positive")
	case cfg.CapacityBytes <= 0:
		return errors.New("capacity_bytes must be positive")
	case cfg.CapacityPerUser <= 0:
		return errors.New("capacity_per_user must be positive")
	case cfg.DefaultFailovers < 0:
		return errors.New("default_failovers can't be negative")
	case cfg.FailoverThreshold <= 0:
		return errors.New("failover_threshold must be positive")
	case cfg.MaxBroadcastsPerPeer <= 0:
		return errors.New("max_broadcasts_per_peer must be positive")
	case cfg.SnapshotIntervalSecs == 0:
		return errors.New("mempool_snapshot_interval_secs must be positive")
	case cfg.SnapshotHistorySize < 0:
		return errors.New("snapshot_history_size can't be negative")
	case cfg.AckTimeoutMs == 0:
		return errors.New("shared_mempool_ack_timeout_ms must be positive")
	case cfg.BackoffIntervalMs == 0:
		return errors.New("shared_mempool_backoff_interval_ms must be positive")
	case cfg.BackoffExponentCap < 0 || cfg.BackoffExponentCap > 32:
		return errors.New("shared_mempool_backoff_exponent_cap must be between 0 and 32")
	case cfg.BatchSize <= 0:
		return errors.New("shared_mempool_batch_size must be positive")
	case cfg.MaxBatchBytes <= 0:
		return errors.New("shared_mempool_max_batch_bytes must be positive")
	case cfg.MaxBatchBytes > MaxApplicationMessageSize:
		return fmt.Errorf("shared_mempool_max_batch_bytes can't exceed %d", MaxApplicationMessageSize)
	case cfg.MaxConcurrentInboundSyncs <= 0:
		return errors.New("shared_mempool_max_concurrent_inbound_syncs must be positive")
	case cfg.TickIntervalMs == 0:
		return errors.New("shared_mempool_tick_interval_ms must be positive")
	case cfg.SystemTransactionGCIntervalMs == 0:
		return errors.New("system_transaction_gc_interval_ms must be positive")
	case cfg.CommittedCacheSize < 0:
		return errors.New("committed_cache_size can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// RPCConfig

// RPCConfig defines the configuration options for the HTTP server exposing
// local submission and the observability feed.
type RPCConfig struct {
	// TCP address to listen on. Empty disables the server.
	ListenAddress string `mapstructure:"laddr"`

	// A list of origins a cross-domain request can be executed from.
	// If the special '*' value is present in the list, all origins will be allowed.
	// An origin may contain a wildcard (*) to replace 0 or more characters (i.e.: http://*.domain.com).
	// Only one wildcard can be used per origin.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// A list of methods the client is allowed to use with cross-domain requests.
	CORSAllowedMethods []string `mapstructure:"cors_allowed_methods"`

	// A list of non simple headers the client is allowed to use with cross-domain requests.
	CORSAllowedHeaders []string `mapstructure:"cors_allowed_headers"`

	// Maximum number of simultaneous connections. 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections"`

	// Maximum size of request body, in bytes
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// DefaultRPCConfig returns a default configuration for the HTTP server.
func DefaultRPCConfig() *RPCConfig {
	return &RPCConfig{
		ListenAddress:      "127.0.0.1:26657",
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{"HEAD", "GET", "POST"},
		CORSAllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "X-Server-Time"},
		MaxOpenConnections: 900,
		MaxBodyBytes:       int64(1000000), // 1MB
	}
}

// TestRPCConfig returns a configuration for testing the HTTP server.
func TestRPCConfig() *RPCConfig {
	cfg := DefaultRPCConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *RPCConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max_open_connections can't be negative")
	}
	if cfg.MaxBodyBytes < 0 {
		return errors.New("max_body_bytes can't be negative")
	}
	return nil
}

// IsCorsEnabled returns true if cross-origin resource sharing is enabled.
func (cfg *RPCConfig) IsCorsEnabled() bool {
	return len(cfg.CORSAllowedOrigins) != 0
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on the RPC
	// listen address.
	Prometheus bool `mapstructure:"prometheus"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus: false,
		Namespace:  "sharedmempool",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.Namespace == "" {
		return errors.New("namespace can't be empty when prometheus is enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
