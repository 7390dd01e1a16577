package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"commsync/pkg/logger"
)

const (
	defaultFetchPath = "/v1/comm/fetch"
	defaultSendPath  = "/v1/comm/send"
)

// HTTPClient talks to the remote comm endpoint over HTTP. It performs no
// retries of its own; the orchestrator owns the retry policy.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	timeout      time.Duration
	maxBodyBytes int64
	client       *fasthttp.Client
}

// HTTPClientOptions configure a new HTTPClient. Zero values fall back to
// conservative defaults.
type HTTPClientOptions struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// NewHTTPClient builds a fasthttp-backed transport client.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "http://127.0.0.1:8080"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	return &HTTPClient{
		baseURL:      base,
		apiKey:       strings.TrimSpace(opts.APIKey),
		timeout:      timeout,
		maxBodyBytes: maxBody,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxResponseBodySize: int(maxBody),
		},
	}
}

// Fetch requests one page of the channel feed. A response without a result
// field is treated as a failure, per the wire contract.
func (c *HTTPClient) Fetch(ctx context.Context, p FetchParams) (*Result, error) {
	body, err := c.postJSON(ctx, defaultFetchPath, p)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Result *[]BatchEntry `json:"result"`
		Error  string        `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &TransportError{Status: fasthttp.StatusOK, Message: fmt.Sprintf("invalid response body: %v", err)}
	}
	if envelope.Result == nil {
		return nil, &TransportError{Status: fasthttp.StatusOK, Message: nonEmpty(envelope.Error, "response missing result")}
	}
	return &Result{Result: *envelope.Result}, nil
}

// Send posts a free-text message. Failures are returned verbatim; the caller
// decides how to surface the undelivered text.
func (c *HTTPClient) Send(ctx context.Context, p SendParams) error {
	_, err := c.postJSON(ctx, defaultSendPath, p)
	return err
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	reqID := uuid.NewString()
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Request-Id", reqID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.SetBody(body)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		logger.Debug("feed_request_failed", "path", path, "request_id", reqID, "error", err)
		return nil, fmt.Errorf("feed request %s: %w", path, err)
	}
	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return nil, &TransportError{Status: status, Message: string(resp.Body())}
	}
	// copy: the response buffer is reused after release
	out := append([]byte(nil), resp.Body()...)
	return out, nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
