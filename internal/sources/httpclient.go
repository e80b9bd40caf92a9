package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is a small JSON client with bounded retries for transient
// failures. Permanent HTTP failures (auth, bad request) short-circuit the
// retry loop and come back as PermanentError.
type HTTPClient struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

func NewHTTPClient(timeout time.Duration, retries int, backoff time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if backoff == 0 {
		backoff = 300 * time.Millisecond
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}, retries: retries, backoff: backoff}
}

// DoJSON performs the request and decodes a JSON response into out.
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &PermanentError{Op: "encode request", Err: err}
		}
		bodyBytes = b
	}

	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return &PermanentError{Op: "build request", Err: err}
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if bodyBytes != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = &TransientError{Op: method + " " + url, Err: err}
		} else {
			err := c.consume(resp, out)
			if err == nil {
				return nil
			}
			if IsPermanent(err) {
				return err
			}
			lastErr = err
		}

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return &TransientError{Op: method + " " + url, Err: ctx.Err()}
			}
		}
	}
	return lastErr
}

func (c *HTTPClient) consume(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransientError{Op: "decode response", Err: err}
		}
		return nil
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	httpErr := fmt.Errorf("%s: %s", resp.Status, string(b))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{Op: "http", Err: httpErr}
	default:
		// 4xx other than rate limiting: auth failure or malformed query
		return &PermanentError{Op: "http", Err: httpErr}
	}
}

func (c *HTTPClient) consumeBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, &TransientError{Op: "read body", Err: err}
		}
		return b, nil
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	httpErr := fmt.Errorf("%s: %s", resp.Status, string(b))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &TransientError{Op: "http", Err: httpErr}
	}
	return nil, &PermanentError{Op: "http", Err: httpErr}
}

// GetBody fetches a URL and returns the raw body, with the same
// transient/permanent classification as DoJSON. Used for feeds and HTML
// pages.
func (c *HTTPClient) GetBody(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &PermanentError{Op: "build request", Err: err}
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = &TransientError{Op: "GET " + url, Err: err}
		} else {
			body, err := c.consumeBody(resp)
			if err == nil {
				return body, nil
			}
			if IsPermanent(err) {
				return nil, err
			}
			lastErr = err
		}

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return nil, &TransientError{Op: "GET " + url, Err: ctx.Err()}
			}
		}
	}
	return nil, lastErr
}
