package kphandler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/quiin/skipd/provider"
	"github.com/quiin/skipd/syncer"
)

// Client is a typed client for the key provider HTTP surface.
type Client struct {
	// BaseURL is the provider's address, e.g. https://kp.example:8443.
	BaseURL string

	Client *http.Client
}

// NewClient creates a client with the default HTTP client.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, Client: http.DefaultClient}
}

// Capabilities fetches the provider's capability description.
func (c *Client) Capabilities(ctx context.Context) (*provider.Capabilities, error) {
	var caps provider.Capabilities
	if err := c.get(ctx, "/capabilities", nil, &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

// GenerateKey requests a new key of sizeBits for remoteSystemID. Passing
// sizeBits 0 defers to the provider's default size.
func (c *Client) GenerateKey(ctx context.Context, remoteSystemID string, sizeBits int) (*KeyResponse, error) {
	query := url.Values{"remoteSystemID": {remoteSystemID}}
	if sizeBits > 0 {
		query.Set("size", strconv.Itoa(sizeBits))
	}

	var key KeyResponse
	if err := c.get(ctx, "/key", query, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// RetrieveKey fetches the key identified by keyID. When the provider runs
// with zeroization the retrieval consumes the key.
func (c *Client) RetrieveKey(ctx context.Context, keyID, remoteSystemID string) (*KeyResponse, error) {
	query := url.Values{"remoteSystemID": {remoteSystemID}}

	var key KeyResponse
	if err := c.get(ctx, "/key/"+url.PathEscape(keyID), query, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// Entropy draws minEntropy bits of randomness. Passing 0 defers to the
// provider's default.
func (c *Client) Entropy(ctx context.Context, minEntropy int) (*EntropyResponse, error) {
	var query url.Values
	if minEntropy > 0 {
		query = url.Values{"minentropy": {strconv.Itoa(minEntropy)}}
	}

	var resp EntropyResponse
	if err := c.get(ctx, "/entropy", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncStatus fetches the synchronization diagnostics snapshot.
func (c *Client) SyncStatus(ctx context.Context) (*syncer.Status, error) {
	var status syncer.Status
	if err := c.get(ctx, "/status/sync", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}

	if c.Client == nil {
		c.Client = http.DefaultClient
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("could not request key provider: %w", err)
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read key provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("key provider returned %d: %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("key provider returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("could not parse key provider response: %w", err)
	}
	return nil
}
