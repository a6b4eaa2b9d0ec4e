package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/modelctl/internal/api"
	"github.com/tutu-network/modelctl/internal/app"
	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/remote"
	"github.com/tutu-network/modelctl/internal/infra/store"
)

const mib = 1 << 20

// testServer is a modelctl blob server over its own store, instrumented to
// count the blob bytes that cross the wire.
type testServer struct {
	*httptest.Server
	store  *store.Store
	client *remote.Client

	uploaded atomic.Int64 // bytes received by POST /api/blobs
	served   atomic.Int64 // bytes sent by GET .../blobs
	creates  atomic.Int32

	// blobGetStatus, when non-zero, answers every blob GET with that code,
	// the way a stock server without a blob download endpoint does.
	blobGetStatus int
	// uploadStatus, when non-zero, rejects every blob upload with that code.
	uploadStatus int
	// createHandler replaces /api/create.
	createHandler http.HandlerFunc

	// cutBlob, when set, makes a GET of that blob announce its full size,
	// send only cutAfter bytes, run onCut and then drop the connection.
	cutBlob  domain.Digest
	cutAfter int64
	onCut    func(r *http.Request)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "models"))
	require.NoError(t, st.Init())

	ts := &testServer{store: st}
	h := api.NewServer(st, testLog()).Handler()
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isBlob := strings.Contains(r.URL.Path, "/blobs/")
		switch {
		case r.Method == http.MethodPost && isBlob:
			if ts.uploadStatus != 0 {
				io.Copy(io.Discard, r.Body)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(ts.uploadStatus)
				w.Write([]byte(`{"error":"upload refused"}`))
				return
			}
			r.Body = &countingBody{ReadCloser: r.Body, n: &ts.uploaded}
		case r.Method == http.MethodGet && isBlob:
			if ts.blobGetStatus != 0 {
				w.WriteHeader(ts.blobGetStatus)
				return
			}
			if ts.cutBlob != "" && strings.Contains(r.URL.Path, ts.cutBlob.Hex()) {
				ts.serveCut(w, r)
				return
			}
			w = &countingWriter{ResponseWriter: w, n: &ts.served}
		case r.URL.Path == "/api/create":
			ts.creates.Add(1)
			if ts.createHandler != nil {
				ts.createHandler(w, r)
				return
			}
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	c, err := remote.New(ts.URL, remote.Options{})
	require.NoError(t, err)
	ts.client = c
	return ts
}

func (ts *testServer) serveCut(w http.ResponseWriter, r *http.Request) {
	f, size, err := ts.store.OpenBlob(ts.cutBlob)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	n, _ := io.CopyN(w, f, ts.cutAfter)
	ts.served.Add(n)
	w.(http.Flusher).Flush()
	if ts.onCut != nil {
		ts.onCut(r)
	}
	panic(http.ErrAbortHandler)
}

func (ts *testServer) endpoint() Endpoint { return RemoteEndpoint(ts.client) }

func (ts *testServer) mirror(t *testing.T) *remote.Mirror {
	t.Helper()
	m, err := remote.NewMirror(ts.URL, remote.Options{})
	require.NoError(t, err)
	return m
}

type countingBody struct {
	io.ReadCloser
	n *atomic.Int64
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n.Add(int64(n))
	return n, err
}

type countingWriter struct {
	http.ResponseWriter
	n *atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.ResponseWriter.Write(p)
	c.n.Add(int64(n))
	return n, err
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newLocalStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "local"))
	require.NoError(t, st.Init())
	return st
}

// blobData returns n deterministic bytes; different seeds give different
// content.
func blobData(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7) ^ seed
	}
	return b
}

func digestOf(data []byte) domain.Digest {
	h := sha256.Sum256(data)
	return domain.Digest("sha256:" + hex.EncodeToString(h[:]))
}

func putBlob(t *testing.T, st *store.Store, data []byte) domain.Digest {
	t.Helper()
	d := digestOf(data)
	w, err := st.CreateBlob(d, true)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	return d
}

// seedModel stores the given files and registers name over them.
func seedModel(t *testing.T, st *store.Store, name string, files map[string][]byte, def domain.ModelDefinition) {
	t.Helper()
	def.Files = make(map[string]domain.Digest, len(files))
	for fileName, data := range files {
		def.Files[fileName] = putBlob(t, st, data)
	}
	ref, err := domain.ParseModelRef(name)
	require.NoError(t, err)
	require.NoError(t, st.CreateModel(ref, def))
}

// planOf returns the filename → digest mapping of a model in st.
func planOf(t *testing.T, st *store.Store, name string) map[string]domain.Digest {
	t.Helper()
	ref, err := domain.ParseModelRef(name)
	require.NoError(t, err)
	mi, err := st.Show(ref)
	require.NoError(t, err)
	_, def, err := app.DescribeLocal(name, mi).Plan()
	require.NoError(t, err)
	return def.Files
}

// historyRecorder is an in-memory domain.HistoryStore.
type historyRecorder struct {
	mu        sync.Mutex
	copies    map[string]domain.CopyRecord
	transfers map[string][]domain.TransferTask
}

func newHistoryRecorder() *historyRecorder {
	return &historyRecorder{
		copies:    make(map[string]domain.CopyRecord),
		transfers: make(map[string][]domain.TransferTask),
	}
}

func (h *historyRecorder) BeginCopy(rec domain.CopyRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.copies[rec.ID] = rec
	return nil
}

func (h *historyRecorder) RecordTransfer(copyID string, task domain.TransferTask) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transfers[copyID] = append(h.transfers[copyID], task)
	return nil
}

func (h *historyRecorder) FinishCopy(copyID string, status domain.CopyStatus, bytes int64, errMsg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.copies[copyID]
	rec.Status, rec.Bytes, rec.Error = status, bytes, errMsg
	h.copies[copyID] = rec
	return nil
}

func (h *historyRecorder) ListCopies(limit int) ([]domain.CopyRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.CopyRecord
	for _, rec := range h.copies {
		out = append(out, rec)
	}
	return out, nil
}

func (h *historyRecorder) ListTransfers(copyID string) ([]domain.TransferTask, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transfers[copyID], nil
}
