// ABOUTME: Shared HTTP plumbing for vendor adapters
// ABOUTME: JSON POST with status classification into the error taxonomy

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of a failed response is kept in Error.Body.
const maxErrorBody = 64 * 1024

// PostJSON marshals body and posts it to url. On a 2xx status the open
// response is returned and the caller must close its body. Any other status
// is drained and returned as an *Error.
func PostJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body any) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, InvalidResponse(provider, fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, NetworkError(provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, NetworkError(provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, StatusError(provider, resp.StatusCode, string(data))
	}
	return resp, nil
}

// ReadBody reads and closes a successful response body.
func ReadBody(provider string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NetworkError(provider, err)
	}
	return data, nil
}
