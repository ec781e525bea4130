package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultUpstreamTimeout = 20 * time.Second
	maxUpstreamBody        = 4 << 20
	maxDetailLength        = 256
)

var errUpstreamBodyTooLarge = errors.New("upstream response exceeds size limit")

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	return &http.Client{Timeout: timeout}
}

type upstreamResponse struct {
	status int
	body   []byte
}

func (r upstreamResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// postJSON sends payload to endpoint. A returned error means the upstream
// could not be reached, its body could not be read, or the body was larger
// than maxUpstreamBody (errUpstreamBodyTooLarge, with status still set).
func postJSON(ctx context.Context, client httpDoer, endpoint, token string, payload any) (upstreamResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return upstreamResponse{}, fmt.Errorf("marshal upstream payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return upstreamResponse{}, fmt.Errorf("create upstream request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := client.Do(request)
	if err != nil {
		return upstreamResponse{}, fmt.Errorf("call upstream: %w", err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(response.Body, maxUpstreamBody+1))
	if err != nil {
		return upstreamResponse{}, fmt.Errorf("read upstream response: %w", err)
	}
	if len(respBody) > maxUpstreamBody {
		return upstreamResponse{status: response.StatusCode}, fmt.Errorf("%w (%d bytes)", errUpstreamBodyTooLarge, maxUpstreamBody)
	}

	return upstreamResponse{status: response.StatusCode, body: respBody}, nil
}

type upstreamErrorEnvelope struct {
	Error   json.RawMessage `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type upstreamErrorObject struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// upstreamDetail extracts a short human readable message from an upstream
// error body. Accepts {"error":"..."}, {"error":{"message":"..."}} and
// {"message":"..."}, falling back to a truncated snippet of the raw body.
func upstreamDetail(status int, body []byte) string {
	var envelope upstreamErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		if len(envelope.Error) > 0 {
			var text string
			if json.Unmarshal(envelope.Error, &text) == nil && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
			var obj upstreamErrorObject
			if json.Unmarshal(envelope.Error, &obj) == nil {
				switch {
				case obj.Code != "" && obj.Message != "":
					return obj.Code + ": " + strings.TrimSpace(obj.Message)
				case obj.Message != "":
					return strings.TrimSpace(obj.Message)
				}
			}
		}
		if msg := strings.TrimSpace(envelope.Message); msg != "" {
			return msg
		}
	}

	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		snippet = http.StatusText(status)
	}
	if len(snippet) > maxDetailLength {
		snippet = snippet[:maxDetailLength]
	}
	return snippet
}
