package api

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/remote"
	"github.com/tutu-network/modelctl/internal/infra/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "models"))
	if err := st.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	srv := NewServer(st, nil)
	srv.EnableMetrics()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func digestOf(data []byte) domain.Digest {
	h := sha256.Sum256(data)
	return domain.Digest("sha256:" + hex.EncodeToString(h[:]))
}

func upload(t *testing.T, ts *httptest.Server, d domain.Digest, data []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/blobs/"+d.String(), "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST blob: %v", err)
	}
	resp.Body.Close()
	return resp
}

// ─── Health ─────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// ─── Blobs ──────────────────────────────────────────────────────────────────

func TestBlobUploadHeadGet(t *testing.T) {
	ts, _ := newTestServer(t)
	data := []byte("GGUF-FAKE-WEIGHTS")
	d := digestOf(data)

	c, err := remote.New(ts.URL, remote.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if code, _ := c.HeadBlob(ctx, d); code != http.StatusNotFound {
		t.Errorf("HEAD before upload = %d, want 404", code)
	}
	if resp := upload(t, ts, d, data); resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	if code, _ := c.HeadBlob(ctx, d); code != http.StatusOK {
		t.Errorf("HEAD after upload = %d, want 200", code)
	}

	rc, size, err := c.OpenBlob(ctx, d)
	if err != nil {
		t.Fatalf("OpenBlob: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, data) || size != int64(len(data)) {
		t.Errorf("GET blob = %q (%d)", got, size)
	}

	// Re-uploading an existing blob is accepted.
	if resp := upload(t, ts, d, data); resp.StatusCode != http.StatusOK {
		t.Errorf("second upload status = %d, want 200", resp.StatusCode)
	}
}

func TestBlobUpload_DigestMismatch(t *testing.T) {
	ts, st := newTestServer(t)
	d := digestOf([]byte("expected"))

	c, _ := remote.New(ts.URL, remote.Options{})
	err := c.UploadBlob(context.Background(), d, strings.NewReader("corrupted"), int64(len("corrupted")))

	se, ok := err.(*remote.StatusError)
	if !ok || se.Code != http.StatusBadRequest {
		t.Fatalf("UploadBlob() = %v, want 400 StatusError", err)
	}
	if exists, _ := st.HasBlob(d); exists {
		t.Error("corrupted upload must not be stored")
	}
}

func TestBlob_InvalidDigest(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/blobs/sha256-nothex")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// ─── Models ─────────────────────────────────────────────────────────────────

func createModel(t *testing.T, ts *httptest.Server, body string) []string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/create", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST create: %v", err)
	}
	defer resp.Body.Close()

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestCreateShowTagsDelete(t *testing.T) {
	ts, _ := newTestServer(t)
	data := []byte("weights")
	d := digestOf(data)
	upload(t, ts, d, data)

	lines := createModel(t, ts, `{"model":"m:latest","files":{"model.gguf":"`+d.String()+`"},"template":"{{ .Prompt }}","parameters":{"stop":["</s>"],"num_ctx":2048}}`)
	if len(lines) == 0 || lines[len(lines)-1] != `{"status":"success"}` {
		t.Fatalf("create stream = %v, want last line success", lines)
	}

	c, _ := remote.New(ts.URL, remote.Options{})
	ctx := context.Background()

	show, err := c.Show(ctx, "m")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if !strings.Contains(show.Modelfile, "sha256-"+d.Hex()) {
		t.Errorf("modelfile does not reference blob: %q", show.Modelfile)
	}
	if show.Template != "{{ .Prompt }}" {
		t.Errorf("template = %q", show.Template)
	}
	var params string
	json.Unmarshal(show.Parameters, &params)
	if !strings.Contains(params, "num_ctx") || !strings.Contains(params, `"</s>"`) {
		t.Errorf("parameters = %q", params)
	}

	models, err := c.List(ctx)
	if err != nil || len(models) != 1 || models[0].Name != "m:latest" {
		t.Errorf("List() = %v, %v", models, err)
	}

	if err := c.Copy(ctx, "m", "m2"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := c.Delete(ctx, "m"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Show(ctx, "m"); err == nil {
		t.Error("Show after delete should fail")
	}
	if _, err := c.Show(ctx, "m2"); err != nil {
		t.Errorf("copied model should survive: %v", err)
	}
}

func TestCreate_MissingBlob(t *testing.T) {
	ts, _ := newTestServer(t)
	missing := digestOf([]byte("never uploaded"))

	lines := createModel(t, ts, `{"model":"m","files":{"model.gguf":"`+missing.String()+`"}}`)
	if len(lines) == 0 || !strings.Contains(lines[len(lines)-1], `"error"`) {
		t.Fatalf("create stream = %v, want trailing error record", lines)
	}
}

func TestCreate_BadDigest(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/create", "application/json",
		strings.NewReader(`{"model":"m","files":{"model.gguf":"sha256:../../etc/passwd"}}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDelete_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	c, _ := remote.New(ts.URL, remote.Options{})
	if err := c.Delete(context.Background(), "ghost"); err == nil {
		t.Error("Delete(ghost) should fail")
	}
}

// ─── Registry subset ────────────────────────────────────────────────────────

func TestRegistryManifestAndBlob(t *testing.T) {
	ts, _ := newTestServer(t)
	data := []byte("weights")
	d := digestOf(data)
	upload(t, ts, d, data)
	createModel(t, ts, `{"model":"llama3:8b","files":{"model.gguf":"`+d.String()+`"}}`)

	m, err := remote.NewMirror(ts.URL, remote.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ref, _ := domain.ParseModelRef("llama3:8b")
	manifest, err := m.Manifest(context.Background(), ref)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if len(manifest.Layers) != 1 || manifest.Layers[0].Digest != d {
		t.Errorf("manifest layers = %+v", manifest.Layers)
	}

	rc, _, err := m.OpenBlob(context.Background(), ref, d)
	if err != nil {
		t.Fatalf("OpenBlob: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, data) {
		t.Errorf("blob = %q", got)
	}

	missing, _ := domain.ParseModelRef("nope")
	if _, err := m.Manifest(context.Background(), missing); err == nil {
		t.Error("Manifest(nope) should fail")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	http.Get(ts.URL + "/health")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "modelctl_server_requests_total") {
		t.Error("metrics output missing modelctl_server_requests_total")
	}
}
