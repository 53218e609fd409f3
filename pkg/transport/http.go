// Package transport provides the HTTP dialing used by backup.Client to
// reach a backup server's service locator. It mirrors the retry and
// correlation-id conventions this codebase already uses for inter-node
// RPC: one *http.Client per session, a bounded number of retries on
// transient failures, and a uuid.UUID stamped on every request for log
// correlation across master and backup.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Session is a dialed HTTP channel to one service locator (a base URL).
type Session struct {
	ServiceLocator string

	client   *http.Client
	maxRetry int
	backoff  time.Duration
}

// New dials serviceLocator lazily: no connection is made until the first
// Do call. client may be nil to use http.DefaultClient.
func New(serviceLocator string, client *http.Client) *Session {
	if client == nil {
		client = http.DefaultClient
	}
	return &Session{
		ServiceLocator: serviceLocator,
		client:         client,
		maxRetry:       2,
		backoff:        50 * time.Millisecond,
	}
}

// Do POSTs body as JSON to path under the session's service locator and
// decodes the JSON response into out (nil to discard the body). Every
// attempt carries a fresh X-Request-Id so retries of the same logical
// call are still individually traceable.
func (s *Session) Do(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ServiceLocator+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-Id", uuid.NewString())

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%s: server error %d: %s", path, resp.StatusCode, respBody)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s: client error %d: %s", path, resp.StatusCode, respBody)
		}
		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%s: exhausted retries: %w", path, lastErr)
}
