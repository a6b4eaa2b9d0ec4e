// Package store manages an Ollama-layout model directory on local disk:
//
//	<dir>/blobs/sha256-<hex>                         immutable, content-addressed
//	<dir>/manifests/<host>/<namespace>/<model>/<tag> JSON manifest
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tutu-network/modelctl/internal/domain"
)

// Store is a local blob and manifest directory.
type Store struct {
	dir string // Root models directory (contains blobs/ and manifests/)
}

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// String implements fmt.Stringer.
func (s *Store) String() string { return "local" }

// Init ensures the directory structure exists.
func (s *Store) Init() error {
	dirs := []string{
		filepath.Join(s.dir, "blobs"),
		filepath.Join(s.dir, "manifests"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// BlobPath returns the filesystem path for a content-addressed blob.
func (s *Store) BlobPath(d domain.Digest) string {
	return filepath.Join(s.dir, "blobs", d.FileName())
}

// ManifestPath returns the path for a model manifest file.
func (s *Store) ManifestPath(ref domain.ModelRef) string {
	return filepath.Join(s.dir, "manifests", ref.Host, ref.Namespace, ref.Name, ref.Tag)
}

// ─── Blobs ──────────────────────────────────────────────────────────────────

// HasBlob reports whether the blob file exists.
func (s *Store) HasBlob(d domain.Digest) (bool, error) {
	_, err := os.Stat(s.BlobPath(d))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat blob %s: %w", d, err)
	}
}

// OpenBlob opens a blob for reading and returns its size.
func (s *Store) OpenBlob(d domain.Digest) (*os.File, int64, error) {
	f, err := os.Open(s.BlobPath(d))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%s: %w", d, domain.ErrBlobNotFound)
		}
		return nil, 0, fmt.Errorf("open blob %s: %w", d, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat blob %s: %w", d, err)
	}
	return f, info.Size(), nil
}

// BlobWriter streams a new blob into a temp file. Nothing becomes visible
// under the digest's name until Commit succeeds.
type BlobWriter struct {
	digest  domain.Digest
	final   string
	tmp     *os.File
	hasher  io.Writer
	sum     func() string
	written int64
	done    bool
}

// CreateBlob starts writing blob d. With verify set, Commit rejects content
// whose SHA-256 does not match d.
func (s *Store) CreateBlob(d domain.Digest, verify bool) (*BlobWriter, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Join(s.dir, "blobs"), partialPrefix+uuid.NewString()+"-")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	w := &BlobWriter{digest: d, final: s.BlobPath(d), tmp: tmp}
	if verify {
		h := sha256.New()
		w.hasher = h
		w.sum = func() string { return hex.EncodeToString(h.Sum(nil)) }
	}
	return w, nil
}

// Write implements io.Writer.
func (w *BlobWriter) Write(p []byte) (int, error) {
	n, err := w.tmp.Write(p)
	if w.hasher != nil && n > 0 {
		w.hasher.Write(p[:n])
	}
	w.written += int64(n)
	return n, err
}

// Written returns the number of bytes written so far.
func (w *BlobWriter) Written() int64 { return w.written }

// Commit verifies (if enabled) and moves the blob into place.
func (w *BlobWriter) Commit() error {
	if w.done {
		return errors.New("blob writer already finished")
	}
	w.done = true
	name := w.tmp.Name()

	if err := w.tmp.Sync(); err != nil {
		w.tmp.Close()
		os.Remove(name)
		return fmt.Errorf("sync blob %s: %w", w.digest, err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close blob %s: %w", w.digest, err)
	}
	if w.sum != nil {
		if got := w.sum(); got != w.digest.Hex() {
			os.Remove(name)
			return fmt.Errorf("%w: want %s, got sha256:%s", domain.ErrDigestMismatch, w.digest, got)
		}
	}
	if err := os.Rename(name, w.final); err != nil {
		os.Remove(name)
		return fmt.Errorf("move blob %s into place: %w", w.digest, err)
	}
	return nil
}

// Abort discards the partial blob. It is safe to call after Commit.
func (w *BlobWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// WriteBlob stores small in-memory content (templates, params) and returns
// its digest and size.
func (s *Store) WriteBlob(data []byte) (domain.Digest, int64, error) {
	d := domain.Digest("sha256:" + computeSHA256(data))
	if ok, err := s.HasBlob(d); err != nil {
		return "", 0, err
	} else if ok {
		return d, int64(len(data)), nil
	}
	w, err := s.CreateBlob(d, false)
	if err != nil {
		return "", 0, err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return "", 0, fmt.Errorf("write blob %s: %w", d, err)
	}
	if err := w.Commit(); err != nil {
		return "", 0, err
	}
	return d, int64(len(data)), nil
}

// ImportFile copies a file from disk into the store, hashing it first so
// an already stored blob is not written twice.
func (s *Store) ImportFile(path string) (domain.Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	d := domain.Digest("sha256:" + hex.EncodeToString(h.Sum(nil)))
	if ok, err := s.HasBlob(d); err != nil {
		return "", 0, err
	} else if ok {
		return d, size, nil
	}
	if err := s.EnsureSpace(size); err != nil {
		return "", 0, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}
	w, err := s.CreateBlob(d, true)
	if err != nil {
		return "", 0, err
	}
	defer w.Abort()
	if _, err := io.Copy(w, f); err != nil {
		return "", 0, fmt.Errorf("import %s: %w", path, err)
	}
	if err := w.Commit(); err != nil {
		return "", 0, err
	}
	return d, size, nil
}

// partialPrefix marks in-progress blob files inside blobs/.
const partialPrefix = ".partial-"

// Partials lists in-progress blob files last modified before cutoff.
func (s *Store) Partials(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "blobs"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), partialPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		out = append(out, filepath.Join(s.dir, "blobs", e.Name()))
	}
	return out, nil
}

// RemovePartials deletes in-progress blob files older than cutoff, left
// behind by a process that died mid-download.
func (s *Store) RemovePartials(cutoff time.Time) (int, error) {
	paths, err := s.Partials(cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range paths {
		if err := os.Remove(p); err == nil {
			n++
		}
	}
	return n, nil
}

// EnsureSpace fails with ErrInsufficientStorage if the filesystem holding
// the store has less than n bytes free.
func (s *Store) EnsureSpace(n int64) error {
	if n <= 0 {
		return nil
	}
	if err := s.Init(); err != nil {
		return err
	}
	usage, err := disk.Usage(s.dir)
	if err != nil {
		return fmt.Errorf("check free space in %s: %w", s.dir, err)
	}
	if uint64(n) > usage.Free {
		return fmt.Errorf("%w: need %d bytes, %d free in %s", domain.ErrInsufficientStorage, n, usage.Free, s.dir)
	}
	return nil
}

// ─── Manifests ──────────────────────────────────────────────────────────────

// HasModel reports whether a manifest exists for ref.
func (s *Store) HasModel(ref domain.ModelRef) bool {
	_, err := os.Stat(s.ManifestPath(ref))
	return err == nil
}

// LoadManifest reads ref's manifest.
func (s *Store) LoadManifest(ref domain.ModelRef) (domain.Manifest, error) {
	data, err := os.ReadFile(s.ManifestPath(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Manifest{}, fmt.Errorf("%s: %w", ref, domain.ErrModelNotFound)
		}
		return domain.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var manifest domain.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return domain.Manifest{}, fmt.Errorf("parse manifest %s: %w", ref, err)
	}
	return manifest, nil
}

// SaveManifest writes ref's manifest, replacing any existing one.
func (s *Store) SaveManifest(ref domain.ModelRef, manifest domain.Manifest) error {
	mpath := s.ManifestPath(ref)
	if err := os.MkdirAll(filepath.Dir(mpath), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	tmp := mpath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, mpath)
}

// List returns every model with a manifest, sorted by name.
func (s *Store) List() ([]domain.ModelEntry, error) {
	root := filepath.Join(s.dir, "manifests")
	var models []domain.ModelEntry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 4 {
			return nil
		}
		ref := domain.ModelRef{Host: parts[0], Namespace: parts[1], Name: parts[2], Tag: parts[3]}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var manifest domain.Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil // Skip unreadable manifests
		}
		models = append(models, domain.ModelEntry{
			Name:   ref.String(),
			Digest: computeSHA256(data),
			Size:   manifest.TotalSize(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk manifests: %w", err)
	}

	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

// Remove deletes ref's manifest and every blob no other manifest references.
func (s *Store) Remove(ref domain.ModelRef) error {
	manifest, err := s.LoadManifest(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(s.ManifestPath(ref)); err != nil {
		return fmt.Errorf("remove manifest %s: %w", ref, err)
	}
	s.pruneEmptyDirs(filepath.Dir(s.ManifestPath(ref)))

	inUse, err := s.referencedBlobs()
	if err != nil {
		return err
	}
	for _, l := range append([]domain.Layer{manifest.Config}, manifest.Layers...) {
		if l.Digest == "" || inUse[l.Digest] {
			continue
		}
		if err := os.Remove(s.BlobPath(l.Digest)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove blob %s: %w", l.Digest, err)
		}
	}
	return nil
}

// CopyModel makes dst point at the same blobs as src.
func (s *Store) CopyModel(src, dst domain.ModelRef) error {
	manifest, err := s.LoadManifest(src)
	if err != nil {
		return err
	}
	return s.SaveManifest(dst, manifest)
}

func (s *Store) referencedBlobs() (map[domain.Digest]bool, error) {
	refs := make(map[domain.Digest]bool)
	root := filepath.Join(s.dir, "manifests")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var m domain.Manifest
		if json.Unmarshal(data, &m) != nil {
			return nil
		}
		refs[m.Config.Digest] = true
		for _, l := range m.Layers {
			refs[l.Digest] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan manifests: %w", err)
	}
	return refs, nil
}

// pruneEmptyDirs removes empty directories from dir up to manifests/.
func (s *Store) pruneEmptyDirs(dir string) {
	root := filepath.Join(s.dir, "manifests")
	for dir != root && strings.HasPrefix(dir, root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// --- Internal helpers ---

func computeSHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
