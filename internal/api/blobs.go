package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/metrics"
)

// ─── /api/blobs/{digest} ─────────────────────────────────────────────────────

func digestParam(w http.ResponseWriter, r *http.Request) (domain.Digest, bool) {
	d, err := domain.ParseDigest(chi.URLParam(r, "digest"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return d, true
}

func (s *Server) handleBlobHead(w http.ResponseWriter, r *http.Request) {
	d, ok := digestParam(w, r)
	if !ok {
		return
	}
	exists, err := s.store.HasBlob(d)
	switch {
	case err != nil:
		w.WriteHeader(http.StatusInternalServerError)
	case exists:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	d, ok := digestParam(w, r)
	if !ok {
		return
	}
	f, _, err := s.store.OpenBlob(d)
	if err != nil {
		if errors.Is(err, domain.ErrBlobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Docker-Content-Digest", d.String())
	http.ServeContent(w, r, "", info.ModTime(), f)
}

// handleBlobUpload stores the request body under its digest. A blob that is
// already present is accepted without rewriting it; content that does not
// hash to the digest is rejected with 400 when verification is on.
func (s *Server) handleBlobUpload(w http.ResponseWriter, r *http.Request) {
	d, ok := digestParam(w, r)
	if !ok {
		return
	}

	if exists, _ := s.store.HasBlob(d); exists {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
		return
	}

	bw, err := s.store.CreateBlob(d, s.verifyDigests)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer bw.Abort()

	if _, err := io.Copy(bw, r.Body); err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	if err := bw.Commit(); err != nil {
		if errors.Is(err, domain.ErrDigestMismatch) {
			metrics.DigestMismatches.Inc()
			s.log.WithField("digest", d.Short()).Warn("rejected upload with mismatched content")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.ServerUploadBytes.Add(float64(bw.Written()))
	w.WriteHeader(http.StatusCreated)
}
