// Package publish posts reply events back to the origin API. Delivery is a
// single attempt; callers decide whether a failed publish matters.
package publish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/croftlabs/drover/internal/event"
	"github.com/croftlabs/drover/internal/log"
)

const defaultTimeout = 30 * time.Second

// HTTPPublisher posts replies to <base>/publish with the subscription
// credentials.
type HTTPPublisher struct {
	url       string
	accessKey string
	secretKey string
	client    *http.Client
	logger    *slog.Logger
}

// NewHTTP creates a publisher for the API at baseURL.
func NewHTTP(baseURL, accessKey, secretKey string) *HTTPPublisher {
	return &HTTPPublisher{
		url:       baseURL + "/publish",
		accessKey: accessKey,
		secretKey: secretKey,
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    log.WithComponent("publish"),
	}
}

// Publish sends one reply.
func (p *HTTPPublisher) Publish(resp *event.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.accessKey != "" {
		req.SetBasicAuth(p.accessKey, p.secretKey)
	}

	httpResp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return fmt.Errorf("publish reply: unexpected status %d: %s", httpResp.StatusCode, detail)
	}

	p.logger.Debug("published reply", "name", resp.Name, "previous_ids", resp.PreviousIDs)
	return nil
}
