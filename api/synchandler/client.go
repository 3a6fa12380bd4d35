package synchandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/quiin/skipd/interfaces"
)

// ProtocolVersion is advertised on outbound sync requests.
const ProtocolVersion = "1.0"

// Client delivers sync messages to peers over HTTP. It implements the
// Transport interface: a peer's protocol-level rejection surfaces as
// ErrMessageRejected, everything else as a transport error.
type Client struct {
	// LocalSystemID identifies this node in diagnostic request headers.
	LocalSystemID string

	Client *http.Client
}

// NewClient creates a sync transport for the given local system ID.
func NewClient(localSystemID string) *Client {
	return &Client{
		LocalSystemID: localSystemID,
		Client:        http.DefaultClient,
	}
}

// Send posts one message to the peer's sync endpoint.
func (c *Client) Send(ctx context.Context, peer interfaces.Peer, message *interfaces.SyncMessage) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("could not encode sync message: %w", err)
	}

	target := fmt.Sprintf("http://%s:%d/sync", peer.Endpoint, peer.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", "SKIP-Sync/"+c.LocalSystemID)
	req.Header.Set("X-SKIP-Version", ProtocolVersion)
	req.Header.Set("X-SKIP-Sender", c.LocalSystemID)

	if c.Client == nil {
		c.Client = http.DefaultClient
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach peer %s: %w", peer.SystemID, err)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read peer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %s returned %d: %s", peer.SystemID, resp.StatusCode, string(respBody))
	}

	var result interfaces.SyncResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("could not parse peer response: %w", err)
	}

	if !result.IsOK() {
		return fmt.Errorf("%w: %s", interfaces.ErrMessageRejected, result.Message)
	}
	return nil
}
