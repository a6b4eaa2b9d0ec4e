package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tutu-network/modelctl/internal/domain"
)

// Mirror is one registry host speaking the OCI distribution API subset
// Ollama registries serve: manifests and blobs under /v2/.
type Mirror struct {
	base   string
	client *http.Client
}

// NewMirror returns a Mirror for host. A bare host gets https://.
func NewMirror(host string, opts Options) (*Mirror, error) {
	h := strings.TrimRight(strings.TrimSpace(host), "/")
	if h == "" {
		return nil, fmt.Errorf("empty registry mirror")
	}
	if !strings.Contains(h, "://") {
		h = "https://" + h
	}
	return &Mirror{base: h, client: newHTTPClient(opts.Timeout)}, nil
}

// String implements fmt.Stringer.
func (m *Mirror) String() string {
	return strings.TrimPrefix(strings.TrimPrefix(m.base, "https://"), "http://")
}

func (m *Mirror) repoPath(ref domain.ModelRef) string {
	return fmt.Sprintf("%s/v2/%s/%s", m.base, ref.Namespace, ref.Name)
}

// OpenBlob issues GET /v2/{namespace}/{model}/blobs/{digest}.
func (m *Mirror) OpenBlob(ctx context.Context, ref domain.ModelRef, d domain.Digest) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.repoPath(ref)+"/blobs/"+d.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, 0, statusError(req, resp)
	}
	return resp.Body, resp.ContentLength, nil
}

// Manifest fetches the manifest for ref's tag.
func (m *Mirror) Manifest(ctx context.Context, ref domain.ModelRef) (*domain.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.repoPath(ref)+"/manifests/"+ref.Tag, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", domain.MediaTypeManifest)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(req, resp)
	}
	var manifest domain.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decode manifest from %s: %w", m, err)
	}
	return &manifest, nil
}
