package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yungbote/podscribe-backend/internal/pkg/httpx"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

// restClient is the shared HTTP plumbing of the hosted providers.
type restClient struct {
	service    string
	baseURL    string
	authHeader string
	authValue  string
	http       *http.Client
	retry      resilience.Policy
	log        *logger.Logger
}

func (c *restClient) policy() resilience.Policy {
	p := c.retry
	p.Retryable = httpx.IsRetryableError
	p.OnRetry = func(err error, wait time.Duration) {
		c.log.Warn("Provider request retrying", "service", c.service, "sleep", wait.String(), "error", err)
	}
	return p
}

// doJSON sends body (JSON-encoded unless it is already an io.Reader) and
// decodes a 2xx response into out.
func (c *restClient) doJSON(ctx context.Context, method, path string, body any, contentType string, out any) error {
	var payload []byte
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return err
		}
		payload = raw
		if contentType == "" {
			contentType = "application/json"
		}
	}

	send := func(ctx context.Context) error {
		var rd io.Reader = reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return err
		}
		req.Header.Set(c.authHeader, c.authValue)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return httpx.ReadStatusError(c.service, resp)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s decode error: %w", c.service, err)
		}
		return nil
	}

	// A streamed body cannot be replayed.
	if reader != nil {
		return send(ctx)
	}
	return resilience.Retry(ctx, c.policy(), send)
}
