// Package ingest is the client side of the downstream ingestion pipeline.
// Delivery is at-least-once: re-submitting unchanged content is idempotent
// on the pipeline side, so the engine never needs exactly-once bookkeeping.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Pipeline receives raw bytes plus a relative path and reports success or
// failure; chunking and embedding happen behind it.
type Pipeline interface {
	Submit(ctx context.Context, targetID, externalID, relativePath string, content []byte) error
	Remove(ctx context.Context, targetID, externalID string) error
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ingest %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ingest %d: %s", e.StatusCode, e.Message)
}

type HTTPPipeline struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPPipeline(baseURL, bearerToken string, httpClient *http.Client) *HTTPPipeline {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPPipeline{
		baseURL:    baseURL,
		token:      strings.TrimSpace(bearerToken),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
}

type submitRequest struct {
	ExternalID   string `json:"externalId"`
	RelativePath string `json:"relativePath"`
	Content      []byte `json:"content"`
}

func (p *HTTPPipeline) Submit(ctx context.Context, targetID, externalID, relativePath string, content []byte) error {
	path := fmt.Sprintf("/v1/targets/%s/documents", url.PathEscape(targetID))
	return p.doJSON(ctx, http.MethodPost, path, submitRequest{
		ExternalID:   externalID,
		RelativePath: relativePath,
		Content:      content,
	})
}

func (p *HTTPPipeline) Remove(ctx context.Context, targetID, externalID string) error {
	path := fmt.Sprintf("/v1/targets/%s/documents/%s", url.PathEscape(targetID), url.PathEscape(externalID))
	err := p.doJSON(ctx, http.MethodDelete, path, nil)
	var httpErr *HTTPError
	if err != nil && errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		// Already gone; removal is idempotent.
		return nil
	}
	return err
}

func (p *HTTPPipeline) doJSON(ctx context.Context, method, requestPath string, body any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if p.token != "" {
			req.Header.Set("Authorization", "Bearer "+p.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			if attempt < p.maxRetries {
				if waitErr := waitWithContext(ctx, p.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}
		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < p.maxRetries {
			if waitErr := waitWithContext(ctx, p.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (p *HTTPPipeline) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > p.maxDelay {
			return p.maxDelay
		}
		return retryAfter
	}
	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxDelay {
			return p.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
