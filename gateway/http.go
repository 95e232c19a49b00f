package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBody = 1 << 20

type httpClient struct {
	gateway Kind
	client  *http.Client
}

func newHTTPClient(gw Kind, client *http.Client, timeout time.Duration) *httpClient {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &httpClient{gateway: gw, client: client}
}

// do sends req and decodes a 2xx JSON body into out.
func (c *httpClient) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return unavailable(c.gateway, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return unavailable(c.gateway, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Gateway: c.gateway, Kind: ErrorUnavailable, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	case resp.StatusCode >= 400:
		return rejected(c.gateway, resp.StatusCode, errorMessage(body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return unavailable(c.gateway, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return unavailable(c.gateway, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// errorMessage pulls a readable message out of a gateway error body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
