// Package push is the client for the push-notification gateway. The gateway
// speaks the Expo push protocol: opaque ExponentPushToken device tokens, a
// single JSON batch endpoint, and per-message delivery receipts.
//
// Delivery is strictly best-effort. Callers log failed batches and move on;
// nothing in this package is allowed to fail a message send.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// DefaultEndpoint is the public Expo push API.
const DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

// DefaultBatchMax is the gateway's documented maximum batch size.
const DefaultBatchMax = 100

// tokenRE matches the device token formats the gateway accepts.
var tokenRE = regexp.MustCompile(`^Expo(nent)?PushToken\[[^\]\s]+\]$`)

// Notification is one push payload addressed to a single device token.
type Notification struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Sound string            `json:"sound,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Receipt is the per-message outcome returned by the gateway.
type Receipt struct {
	Status  string `json:"status"` // "ok" or "error"
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the receipt indicates accepted delivery.
func (r Receipt) OK() bool { return r.Status == "ok" }

// Gateway is the boundary contract the notification dispatcher depends on.
type Gateway interface {
	// IsValidToken reports whether token is well-formed for this gateway.
	IsValidToken(token string) bool
	// SendBatch submits up to the gateway's batch maximum in one call and
	// returns one receipt per notification, in order.
	SendBatch(ctx context.Context, batch []Notification) ([]Receipt, error)
}

// Client is an HTTP Gateway implementation.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient returns a Client for the given endpoint ("" uses the public
// Expo API) with the given per-call timeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// IsValidToken reports whether token is a well-formed Expo push token.
func (c *Client) IsValidToken(token string) bool {
	return tokenRE.MatchString(token)
}

// sendResponse is the gateway's envelope.
type sendResponse struct {
	Data   []Receipt `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// SendBatch posts one batch to the gateway. The request honors ctx for
// cancellation on top of the client timeout.
func (c *Client) SendBatch(ctx context.Context, batch []Notification) ([]Receipt, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode push batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push gateway request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read push response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("push gateway status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}
	if len(out.Errors) > 0 {
		return out.Data, fmt.Errorf("push gateway error: %s: %s", out.Errors[0].Code, out.Errors[0].Message)
	}
	return out.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
