// Package remote talks to Ollama-compatible model servers and registry
// mirrors over HTTP.
//
// Every Client owns its own http.Transport. Nothing here keeps a
// process-wide base address, so overlapping copy operations cannot see each
// other's configuration.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tutu-network/modelctl/internal/domain"
)

// DefaultPort is the port assumed when a locator names only a host.
const DefaultPort = "11434"

const userAgent = "modelctl/0.1"

// Options configures a Client.
type Options struct {
	// Timeout bounds blob uploads and downloads. Zero means no deadline:
	// multi-gigabyte blobs can take arbitrarily long.
	Timeout time.Duration
	// MetaTimeout bounds probes and metadata requests (show, tags, create
	// handshake). Zero means no deadline.
	MetaTimeout time.Duration
}

// StatusError is a non-success HTTP response.
type StatusError struct {
	Method  string
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
}

// Client is a connection to one model server.
type Client struct {
	base *url.URL
	meta *http.Client
	bulk *http.Client
}

// New returns a Client for the server at locator ("host", "host:port" or a
// full URL).
func New(locator string, opts Options) (*Client, error) {
	base, err := NormalizeURL(locator)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse server url %q: %w", locator, err)
	}
	return &Client{
		base: u,
		meta: newHTTPClient(opts.MetaTimeout),
		bulk: newHTTPClient(opts.Timeout),
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &http.Client{Transport: transport, Timeout: timeout}
}

// NormalizeURL turns a locator into a base URL with scheme and port.
func NormalizeURL(locator string) (string, error) {
	s := strings.TrimSpace(locator)
	if s == "" {
		return "", errors.New("empty server locator")
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse server url %q: %w", locator, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, locator)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", locator)
	}
	if u.Port() == "" && !strings.Contains(locator, "://") {
		u.Host = net.JoinHostPort(u.Hostname(), DefaultPort)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery, u.Fragment = "", ""
	return u.String(), nil
}

// BaseURL returns the server's base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// String implements fmt.Stringer.
func (c *Client) String() string { return c.base.Host }

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.meta.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(req, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// statusError reads the server's {"error": "..."} body if it sent one.
func statusError(req *http.Request, resp *http.Response) *StatusError {
	se := &StatusError{Method: req.Method, URL: req.URL.String(), Code: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		se.Message = payload.Error
	} else {
		se.Message = strings.TrimSpace(string(data))
	}
	return se
}

// ─── Blobs ──────────────────────────────────────────────────────────────────

func blobPath(d domain.Digest) string { return "/api/blobs/" + d.String() }

// HeadBlob issues HEAD /api/blobs/{digest} and returns the status code.
// A non-nil error means the request got no response at all.
func (c *Client) HeadBlob(ctx context.Context, d domain.Digest) (int, error) {
	req, err := c.newRequest(ctx, http.MethodHead, blobPath(d), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.meta.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// UploadBlob streams body to POST /api/blobs/{digest}. size may be -1 when
// unknown, in which case the body is sent chunked.
func (c *Client) UploadBlob(ctx context.Context, d domain.Digest, body io.Reader, size int64) error {
	req, err := c.newRequest(ctx, http.MethodPost, blobPath(d), body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.bulk.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(req, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// OpenBlob issues GET /api/blobs/{digest}. Stock Ollama servers do not serve
// blobs; they answer 404 or 405, which callers treat as "try elsewhere".
func (c *Client) OpenBlob(ctx context.Context, d domain.Digest) (io.ReadCloser, int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, blobPath(d), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.bulk.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, 0, statusError(req, resp)
	}
	return resp.Body, resp.ContentLength, nil
}

// ─── Models ─────────────────────────────────────────────────────────────────

// ShowResponse is the subset of POST /api/show this client needs.
// Parameters arrives either as a Modelfile-style string or as an object.
type ShowResponse struct {
	Modelfile     string           `json:"modelfile"`
	Template      string           `json:"template"`
	System        string           `json:"system"`
	License       json.RawMessage  `json:"license,omitempty"`
	Parameters    json.RawMessage  `json:"parameters,omitempty"`
	Messages      []domain.Message `json:"messages,omitempty"`
	ProjectorInfo json.RawMessage  `json:"projector_info,omitempty"`
}

// HasProjector reports whether the server described a vision projector.
func (s *ShowResponse) HasProjector() bool {
	p := bytes.TrimSpace(s.ProjectorInfo)
	return len(p) > 0 && !bytes.Equal(p, []byte("null")) && !bytes.Equal(p, []byte("{}"))
}

// Show fetches a model's definition.
func (c *Client) Show(ctx context.Context, name string) (*ShowResponse, error) {
	var out ShowResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/show", map[string]string{"model": name, "name": name}, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%s on %s: %w", name, c, domain.ErrModelNotFound)
		}
		return nil, fmt.Errorf("show %s on %s: %w", name, c, err)
	}
	return &out, nil
}

// CreateRequest is the body of POST /api/create.
type CreateRequest struct {
	Model      string                       `json:"model"`
	Files      map[string]domain.Digest     `json:"files"`
	Template   string                       `json:"template,omitempty"`
	System     string                       `json:"system,omitempty"`
	License    []string                     `json:"license,omitempty"`
	Parameters map[string]domain.ParamValue `json:"parameters,omitempty"`
	Messages   []domain.Message             `json:"messages,omitempty"`
	Stream     *bool                        `json:"stream,omitempty"`
}

// Create submits a create request and hands back the raw response so the
// caller can interpret the newline-delimited status stream. The caller must
// close the body.
func (c *Client) Create(ctx context.Context, cr CreateRequest) (*http.Response, error) {
	data, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("encode create request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/create", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	// The server may spend a long time writing the manifest for big models,
	// so the stream is read under the bulk deadline.
	return c.bulk.Do(req)
}

// List returns the models the server knows about.
func (c *Client) List(ctx context.Context) ([]domain.ModelEntry, error) {
	var out struct {
		Models []domain.ModelEntry `json:"models"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, fmt.Errorf("list models on %s: %w", c, err)
	}
	return out.Models, nil
}

// Delete removes a model from the server.
func (c *Client) Delete(ctx context.Context, name string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/api/delete", map[string]string{"model": name, "name": name}, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return fmt.Errorf("%s on %s: %w", name, c, domain.ErrModelNotFound)
		}
		return fmt.Errorf("delete %s on %s: %w", name, c, err)
	}
	return nil
}

// Copy duplicates a model under a new name on the same server.
func (c *Client) Copy(ctx context.Context, src, dst string) error {
	err := c.doJSON(ctx, http.MethodPost, "/api/copy", map[string]string{"source": src, "destination": dst}, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return fmt.Errorf("%s on %s: %w", src, c, domain.ErrModelNotFound)
		}
		return fmt.Errorf("copy %s to %s on %s: %w", src, dst, c, err)
	}
	return nil
}
