// SPDX-License-Identifier: MIT

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/submaker/submaker/internal/httpx"
)

// maxJSONBody bounds API responses; provider search payloads are small.
const maxJSONBody = 4 << 20

// doJSON performs one API call and decodes the JSON response into out.
// Errors come back classified as *OpError.
func doJSON(ctx context.Context, client *http.Client, provider, op, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s request: %w", provider, op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", provider, op, err)
	}
	httpx.ApplyHeaders(req, provider)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return NewTransportError(provider, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return NewHTTPError(provider, op, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody)).Decode(out); err != nil {
		return &OpError{Provider: provider, Op: op, Code: CodeServerError, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
