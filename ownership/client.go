// Package ownership provides implementations of the engine's ownership
// registry collaborator: an HTTP client for an external registry service
// and an in-memory registry for development and tests.
package ownership

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urbex-io/auctionhouse/core"
)

// Client talks to an external ownership registry over HTTP. It
// implements core.OwnershipRegistry.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a registry client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func (c *Client) itemURL(item core.ItemKey, suffix string) string {
	return fmt.Sprintf("%s/v1/items/%s/%d/%s", c.baseURL, item.Collection, item.TokenID, suffix)
}

// IsApproved reports whether actor is approved to move the item.
func (c *Client) IsApproved(ctx context.Context, item core.ItemKey, actor string) (bool, error) {
	url := c.itemURL(item, "approved") + "?actor=" + actor
	var out struct {
		Approved bool `json:"approved"`
	}
	if err := c.getJSON(ctx, url, &out); err != nil {
		return false, fmt.Errorf("approval lookup for %s: %w", item, err)
	}
	return out.Approved, nil
}

// OwnerOf returns the item's current owner.
func (c *Client) OwnerOf(ctx context.Context, item core.ItemKey) (string, error) {
	var out struct {
		Owner string `json:"owner"`
	}
	if err := c.getJSON(ctx, c.itemURL(item, "owner"), &out); err != nil {
		return "", fmt.Errorf("owner lookup for %s: %w", item, err)
	}
	if out.Owner == "" {
		return "", fmt.Errorf("owner lookup for %s: empty owner in response", item)
	}
	return out.Owner, nil
}

// Transfer moves the item from its current owner to the recipient.
func (c *Client) Transfer(ctx context.Context, item core.ItemKey, from, to string) error {
	body, err := json.Marshal(map[string]string{"from": from, "to": to})
	if err != nil {
		return fmt.Errorf("encode transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.itemURL(item, "transfer"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", item, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("transfer %s: registry returned %d: %s", item, resp.StatusCode, payload)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
