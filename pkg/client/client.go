// Package client talks to a clipgrab server: it prepares a post for
// download and fetches the file behind the returned token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Client communicates with the clipgrab server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Metadata describes a prepared video.
type Metadata struct {
	Title    string `json:"title"`
	Author   string `json:"author,omitempty"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// PrepareResponse is the response from POST /download.
type PrepareResponse struct {
	Success   bool     `json:"success"`
	Token     string   `json:"token"`
	Metadata  Metadata `json:"metadata"`
	ExpiresIn int      `json:"expires_in"`
	Message   string   `json:"message"`
}

// StatusResponse is the response from GET /download.
type StatusResponse struct {
	Status          string `json:"status"`
	ActiveDownloads int    `json:"active_downloads"`
	TempBytes       int64  `json:"temp_bytes"`
	TempHuman       string `json:"temp_human"`
	Tool            string `json:"tool"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status of err if it is an *APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// NewClient creates a client for the server at baseURL. Requests are bounded
// by their context, not by a client timeout, since streaming can be long.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prepare asks the server to fetch the video behind postURL.
func (c *Client) Prepare(ctx context.Context, postURL string) (*PrepareResponse, error) {
	body, err := json.Marshal(map[string]string{"url": postURL})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var resp PrepareResponse
	if err := c.doRequest(ctx, http.MethodPost, "/download", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Token == "" {
		return nil, fmt.Errorf("prepare failed: %s", resp.Message)
	}
	return &resp, nil
}

// Status returns the server's download status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/download", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProgressFunc is called as bytes arrive. total is -1 when unknown.
type ProgressFunc func(written, total int64)

// Fetch streams the file behind token into dir and returns its path. The
// name comes from the server's Content-Disposition header. A partially
// written file is removed on failure.
func (c *Client) Fetch(ctx context.Context, token, dir string, progress ProgressFunc) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/download/"+token, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp)
	}

	total := int64(-1)
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		total = n
	}

	name := attachmentName(resp.Header.Get("Content-Disposition"))
	tmp, err := os.CreateTemp(dir, ".clipgrab-*")
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, newProgressReader(resp.Body, total, progress))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if total >= 0 && written != total {
		return "", fmt.Errorf("short download: got %d of %d bytes", written, total)
	}

	path, err := reserveName(dir, name)
	if err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save file: %w", err)
	}
	return path, nil
}

// maxNameAttempts caps the "name (N).ext" search in reserveName.
const maxNameAttempts = 1000

// reserveName creates an empty file at the first free name in dir, trying
// name, then "name (1).ext", "name (2).ext" and so on.
func reserveName(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		f.Close()
		return path, nil
	}
	return "", fmt.Errorf("no free name for %q in %s", name, dir)
}

// attachmentName extracts a safe base name from a Content-Disposition value.
func attachmentName(header string) string {
	const fallback = "video.mp4"

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return fallback
	}
	name := filepath.Base(strings.ReplaceAll(params["filename"], "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return fallback
	}
	return name
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
