package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeEventStream = "text/event-stream"
	defaultUserAgent       = "chatbridge"
	maxErrorBodyBytes      = 64 * 1024
)

const (
	modeCreate = "create"
	modeStream = "stream"

	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeAbandoned = "abandoned"
)

// send POSTs payload and returns a response with status 200. On any other
// status the body is drained, closed and reported as a TransportError.
func (c *Client) send(ctx context.Context, payload Payload, stream bool) (*http.Response, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build chat completion request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", requestID)
	if stream {
		req.Header.Set("Accept", contentTypeEventStream)
	} else {
		req.Header.Set("Accept", contentTypeJSON)
	}

	c.logger.Debug("sending chat completion request",
		"request_id", requestID,
		"endpoint", c.endpoint,
		"model", payload["model"],
		"stream", stream,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, requestID, &TransportError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.Warn("chat completion request failed",
			"request_id", requestID,
			"status", resp.StatusCode,
		)
		return nil, requestID, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return resp, requestID, nil
}
