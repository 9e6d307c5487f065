package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const forwardTimeout = 30 * time.Second

// forwarder delivers verified events to the developer's local endpoint.
// Forwarding is at-least-once and never retried here; the caller reports
// failures to the operator and keeps the session alive.
type forwarder struct {
	client *http.Client
	url    string
}

func newForwarder(forwardURL string) *forwarder {
	return &forwarder{
		client: &http.Client{Timeout: forwardTimeout},
		url:    forwardURL,
	}
}

// forward POSTs the raw event JSON with signature headers so the receiving
// application can re-verify authenticity.
func (f *forwarder) forward(ctx context.Context, event []byte, signature string, timestamp int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(event))
	if err != nil {
		return fmt.Errorf("failed to build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", timestamp))
	if evtType := gjson.GetBytes(event, "type"); evtType.Exists() {
		req.Header.Set("X-Event-Type", evtType.String())
	}
	if evtID := gjson.GetBytes(event, "id"); evtID.Exists() {
		req.Header.Set("X-Event-Id", evtID.String())
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forward target returned status %d", resp.StatusCode)
	}
	return nil
}
