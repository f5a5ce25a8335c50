package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Compile-time interface checks.
var (
	_ Client  = (*HTTPClient)(nil)
	_ Deleter = (*HTTPClient)(nil)
)

const (
	// DefaultRequestTimeout bounds the workflow steps. Story generation on
	// the backend is slow, so this is measured in minutes.
	DefaultRequestTimeout = 3 * time.Minute

	// DefaultPollTimeout bounds a single progress fetch.
	DefaultPollTimeout = 10 * time.Second

	// RequestIDHeader carries the per-request correlation id.
	RequestIDHeader = "X-Request-ID"
)

// HTTPClient implements Client and Deleter against the REST API.
type HTTPClient struct {
	baseURL        string
	http           *http.Client
	tokens         TokenSource
	requestTimeout time.Duration
	pollTimeout    time.Duration
	logger         logrus.FieldLogger
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithRequestTimeout sets the timeout applied to workflow requests.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.requestTimeout = d
	}
}

// WithPollTimeout sets the timeout applied to progress fetches.
func WithPollTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.pollTimeout = d
	}
}

// WithTokenSource attaches a bearer token to every request.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *HTTPClient) {
		c.tokens = ts
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = l
	}
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		requestTimeout: DefaultRequestTimeout,
		pollTimeout:    DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.logger = l
	}
	return c
}

// GenerateStory calls POST /v1/stories.
func (c *HTTPClient) GenerateStory(ctx context.Context, req StoryRequest) (*StoryResult, error) {
	var res StoryResult
	if err := c.do(ctx, c.requestTimeout, http.MethodPost, "/v1/stories", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateStorybook calls POST /v1/storybooks.
func (c *HTTPClient) CreateStorybook(ctx context.Context, req StorybookRequest) (*StorybookResult, error) {
	var res StorybookResult
	if err := c.do(ctx, c.requestTimeout, http.MethodPost, "/v1/storybooks", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// KickImageGeneration calls POST /v1/storybooks/{id}/images. The server
// answers 202 as soon as the job is queued.
func (c *HTTPClient) KickImageGeneration(ctx context.Context, storybookID int64) error {
	return c.do(ctx, c.requestTimeout, http.MethodPost, storybookPath(storybookID)+"/images", nil, nil)
}

// FetchProgress calls GET /v1/storybooks/{id}/progress.
func (c *HTTPClient) FetchProgress(ctx context.Context, jobID int64) (*ProgressSnapshot, error) {
	var snap ProgressSnapshot
	if err := c.do(ctx, c.pollTimeout, http.MethodGet, storybookPath(jobID)+"/progress", nil, &snap); err != nil {
		return nil, err
	}
	if !snap.Status.Valid() {
		return nil, Network(fmt.Errorf("unknown job status %q", snap.Status))
	}
	if snap.JobID == 0 {
		snap.JobID = jobID
	}
	snap = snap.Normalize()
	return &snap, nil
}

// DeleteStoryPlot calls DELETE /v1/stories/{id}.
func (c *HTTPClient) DeleteStoryPlot(ctx context.Context, storyPlotID int64) error {
	return c.do(ctx, c.requestTimeout, http.MethodDelete, "/v1/stories/"+strconv.FormatInt(storyPlotID, 10), nil, nil)
}

// DeleteStorybook calls DELETE /v1/storybooks/{id}.
func (c *HTTPClient) DeleteStorybook(ctx context.Context, storybookID int64) error {
	return c.do(ctx, c.requestTimeout, http.MethodDelete, storybookPath(storybookID), nil, nil)
}

func storybookPath(id int64) string {
	return "/v1/storybooks/" + strconv.FormatInt(id, 10)
}

// do performs one JSON request and classifies any failure.
func (c *HTTPClient) do(ctx context.Context, timeout time.Duration, method, path string, body, result any) error {
	if err := ctx.Err(); err != nil {
		return Cancelled(err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("remote: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(RequestIDHeader, requestID)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return AuthenticationRequired(err)
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	log := c.logger.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"request_id": requestID,
	})
	start := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Cancelled(ctx.Err())
		}
		log.WithError(err).Debug("request failed")
		return Network(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return Cancelled(ctx.Err())
		}
		return Network(fmt.Errorf("read response: %w", err))
	}

	log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp.StatusCode, respBody)
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return Network(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// classifyStatus maps a non-2xx response to a classified error.
func classifyStatus(status int, body []byte) error {
	code, message := status, strings.TrimSpace(string(body))
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		message = eb.Error.Message
		if eb.Error.Code != 0 {
			code = eb.Error.Code
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthenticationRequired(fmt.Errorf("HTTP %d: %s", status, message))
	case status >= 400 && status < 500:
		return RemoteValidation(code, message)
	default:
		return Network(errors.New("HTTP " + strconv.Itoa(status) + ": " + message))
	}
}
