// Package config loads marketd configuration from YAML.
package config

import "time"

// MarketdConfig is the root configuration for a marketd instance.
type MarketdConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Ownership OwnershipConfig `yaml:"ownership"`
	Receipts  ReceiptsConfig  `yaml:"receipts"`
}

// InstanceConfig identifies this marketd.
type InstanceConfig struct {
	// Deployer is the engine's operating identity: the address the
	// ownership registry must approve before an item can be listed.
	Deployer string `yaml:"deployer"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	ListenAddr  string        `yaml:"listen_addr"`
	MaxWorkers  int           `yaml:"max_workers"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DatabaseConfig holds the sqlite store of record.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OwnershipConfig holds the external ownership registry connection. An
// empty BaseURL selects the in-process registry, for development only.
type OwnershipConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ReceiptsConfig holds settlement receipt signing. An empty KeyPath
// generates an ephemeral key at startup.
type ReceiptsConfig struct {
	Enabled bool   `yaml:"enabled"`
	KeyPath string `yaml:"key_path"`
	LogPath string `yaml:"log_path"`
}
