package config

import (
	"fmt"
	"net"
	"net/url"
)

// Validate checks that the configuration is complete and coherent.
func (c *MarketdConfig) Validate() error {
	if c.Instance.Deployer == "" {
		return fmt.Errorf("instance.deployer is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		return fmt.Errorf("server.listen_addr %q: %w", c.Server.ListenAddr, err)
	}
	if c.Server.MaxWorkers < 1 {
		return fmt.Errorf("server.max_workers must be at least 1, got %d", c.Server.MaxWorkers)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Ownership.BaseURL != "" {
		u, err := url.Parse(c.Ownership.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ownership.base_url %q is not a valid URL", c.Ownership.BaseURL)
		}
	}
	if c.Receipts.Enabled && c.Receipts.LogPath == "" {
		return fmt.Errorf("receipts.log_path is required when receipts are enabled")
	}
	return nil
}
