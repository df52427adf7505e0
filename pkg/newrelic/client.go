// Package newrelic is a small client for the New Relic browser sourcemap API.
package newrelic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// USBaseURL is the sourcemap API endpoint for US accounts.
	USBaseURL = "https://sourcemaps.service.newrelic.com"
	// EUBaseURL is the sourcemap API endpoint for EU accounts.
	EUBaseURL = "https://sourcemaps.service.eu.newrelic.com"

	defaultTimeout   = 30 * time.Second
	maxErrorBodySize = 4096
)

// ErrAlreadyPublished matches API errors reporting that the sourcemap is
// already registered for the JavaScript URL.
var ErrAlreadyPublished = errors.New("sourcemap already published")

// ErrUnauthorized matches API errors caused by a rejected API key.
var ErrUnauthorized = errors.New("sourcemap api unauthorized")

// ErrMissingCredentials indicates the application id or API key is empty.
var ErrMissingCredentials = errors.New("application id and api key are required")

// Credentials identify the browser application and authorise uploads.
type Credentials struct {
	ApplicationID string
	APIKey        string
}

// Validate reports ErrMissingCredentials when either field is blank.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.ApplicationID) == "" || strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Client provides typed access to the sourcemap API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout bounds every request. A client passed with WithHTTPClient is
// copied rather than modified, whatever the option order.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// BaseURLForRegion returns the API endpoint for "us" or "eu"; anything else
// falls back to the US endpoint.
func BaseURLForRegion(region string) string {
	if strings.EqualFold(strings.TrimSpace(region), "eu") {
		return EUBaseURL
	}
	return USBaseURL
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = USBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid sourcemap api url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(cli)
	}
	if cli.timeout > 0 && cli.httpClient.Timeout != cli.timeout {
		hc := *cli.httpClient
		hc.Timeout = cli.timeout
		cli.httpClient = &hc
	}
	return cli, nil
}

// APIError represents an error response from the sourcemap API. Code is the
// structured code from the response body when one was present.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sourcemap api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("sourcemap api request failed (%d): %s", e.Status, e.Message)
}

// Is lets callers test API errors against ErrAlreadyPublished and
// ErrUnauthorized with errors.Is.
func (e APIError) Is(target error) bool {
	switch target {
	case ErrAlreadyPublished:
		return e.Code == http.StatusConflict || e.Status == http.StatusConflict
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// Sourcemap is the API representation of a registered sourcemap.
type Sourcemap struct {
	ID            string          `json:"id"`
	JavaScriptURL string          `json:"javascriptUrl"`
	ReleaseName   string          `json:"releaseName,omitempty"`
	ReleaseID     string          `json:"releaseId,omitempty"`
	CreatedAt     json.RawMessage `json:"createdAt,omitempty"`
}

// PublishRequest captures the inputs of a sourcemap upload.
type PublishRequest struct {
	Credentials   Credentials
	SourcemapPath string
	JavaScriptURL string
	ReleaseName   string
	ReleaseID     string
}

// Publish uploads the sourcemap file and associates it with the JavaScript URL.
// A conflict response is returned as an APIError matching ErrAlreadyPublished.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (Sourcemap, error) {
	if c == nil {
		return Sourcemap{}, errors.New("sourcemap client is nil")
	}
	if err := req.Credentials.Validate(); err != nil {
		return Sourcemap{}, err
	}
	if strings.TrimSpace(req.JavaScriptURL) == "" {
		return Sourcemap{}, errors.New("javascript url required")
	}
	body, contentType, err := encodeUpload(req)
	if err != nil {
		return Sourcemap{}, err
	}
	var out Sourcemap
	if err := c.do(ctx, http.MethodPost, c.sourcemapsPath(req.Credentials), req.Credentials.APIKey, body, contentType, &out); err != nil {
		return Sourcemap{}, err
	}
	return out, nil
}

// List returns the sourcemaps registered for the application.
func (c *Client) List(ctx context.Context, creds Credentials) ([]Sourcemap, error) {
	if c == nil {
		return nil, errors.New("sourcemap client is nil")
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	var out struct {
		Sourcemaps []Sourcemap `json:"sourcemaps"`
	}
	if err := c.do(ctx, http.MethodGet, c.sourcemapsPath(creds), creds.APIKey, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Sourcemaps, nil
}

func (c *Client) sourcemapsPath(creds Credentials) string {
	return fmt.Sprintf("/v2/applications/%s/sourcemaps", url.PathEscape(strings.TrimSpace(creds.ApplicationID)))
}

func encodeUpload(req PublishRequest) (*bytes.Buffer, string, error) {
	f, err := os.Open(req.SourcemapPath)
	if err != nil {
		return nil, "", fmt.Errorf("open sourcemap: %w", err)
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile("sourcemap", filepath.Base(req.SourcemapPath))
	if err != nil {
		return nil, "", fmt.Errorf("create sourcemap part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read sourcemap: %w", err)
	}
	fields := [][2]string{
		{"javascriptUrl", req.JavaScriptURL},
		{"releaseName", strings.TrimSpace(req.ReleaseName)},
		{"releaseId", strings.TrimSpace(req.ReleaseID)},
	}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", field[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("finalise upload body: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, body io.Reader, contentType string, v any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", strings.TrimSpace(apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	if v == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	apiErr := APIError{Status: resp.StatusCode}
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = strings.TrimSpace(payload.Message)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(payload.Error)
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	return apiErr
}
