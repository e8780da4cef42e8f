package contentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	rerrors "github.com/thiagokokada/refdiff/internal/errors"
	"github.com/thiagokokada/refdiff/internal/gitdiff"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 256 << 20

// ErrorBody is the JSON shape of every non-2xx API response.
type ErrorBody struct {
	Error *rerrors.Error `json:"error"`
}

// Client calls a remote content endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	token   string
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithRateLimit spaces out requests. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = nil
			return
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithToken sends token as a bearer credential.
func WithToken(token string) ClientOption {
	return func(cl *Client) { cl.token = token }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch posts one batch request.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, decodeError(resp.StatusCode, data)
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func decodeError(status int, data []byte) error {
	var body ErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != nil && body.Error.Code != "" {
		return body.Error
	}
	return fmt.Errorf("content endpoint returned %s: %s", http.StatusText(status), strings.TrimSpace(string(data)))
}

// Batch binds a client to one repository and side selection so it can serve
// as a prefetch fetcher.
type Batch struct {
	Client       *Client
	Repo         Repo
	Which        gitdiff.Which
	MaxFileBytes int
}

func (b Batch) Fetch(ctx context.Context, files []gitdiff.FileRef) ([]gitdiff.FileContent, error) {
	resp, err := b.Client.Fetch(ctx, Request{
		Repo:         b.Repo,
		Files:        Files(files),
		Which:        b.Which,
		MaxFileBytes: b.MaxFileBytes,
	})
	if err != nil {
		return nil, err
	}
	return resp.FileContents()
}
