package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr       = "127.0.0.1:7550"
	DefaultMaxWorkers       = 16
	DefaultReadTimeout      = 30 * time.Second
	DefaultDBPath           = "data/auctionhouse.db"
	DefaultOwnershipTimeout = 10 * time.Second
	DefaultReceiptLogPath   = "data/receipts.log"
)

func (c *MarketdConfig) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.MaxWorkers == 0 {
		c.Server.MaxWorkers = DefaultMaxWorkers
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDBPath
	}
	if c.Ownership.Timeout == 0 {
		c.Ownership.Timeout = DefaultOwnershipTimeout
	}
	if c.Receipts.LogPath == "" {
		c.Receipts.LogPath = DefaultReceiptLogPath
	}
}
