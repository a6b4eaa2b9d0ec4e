package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/modelctl/internal/domain"
)

// ─── Ollama-compatible model endpoints (/api/*) ─────────────────────────────

// modelRequest accepts both "model" and the older "name" field.
type modelRequest struct {
	Model string `json:"model"`
	Name  string `json:"name"`
}

func (m modelRequest) ref() (domain.ModelRef, error) {
	name := m.Model
	if name == "" {
		name = m.Name
	}
	return domain.ParseModelRef(name)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrModelNotFound), errors.Is(err, domain.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidModelName), errors.Is(err, domain.ErrNoBlobsFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// --- /api/tags (list models) ---

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if models == nil {
		models = []domain.ModelEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// --- /api/show (model definition) ---

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref, err := req.ref()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.store.Show(ref)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := map[string]any{
		"modelfile":  info.Modelfile,
		"template":   info.Template,
		"system":     info.System,
		"parameters": parameterLines(info.Parameters),
	}
	if info.License != "" {
		resp["license"] = info.License
	}
	if len(info.Messages) > 0 {
		resp["messages"] = info.Messages
	}
	if info.HasProjector {
		resp["projector_info"] = map[string]any{"clip.has_vision_encoder": true}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parameterLines renders parameters the way Ollama's show does: one
// padded "key value" pair per line.
func parameterLines(params []domain.Parameter) string {
	lines := make([]string, len(params))
	for i, p := range params {
		lines[i] = fmt.Sprintf("%-30s %s", p.Key, p.Value)
	}
	return strings.Join(lines, "\n")
}

// --- /api/create (register a model from uploaded blobs) ---

type createRequest struct {
	Model      string                   `json:"model"`
	Name       string                   `json:"name"`
	Files      map[string]domain.Digest `json:"files"`
	Template   string                   `json:"template"`
	System     string                   `json:"system"`
	License    json.RawMessage          `json:"license"`
	Parameters map[string]any           `json:"parameters"`
	Messages   []domain.Message         `json:"messages"`
}

// handleCreate streams newline-delimited status records ending in
// {"status":"success"}, or an {"error": ...} record on failure.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref, err := modelRequest{Model: req.Model, Name: req.Name}.ref()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	license, err := licenseText(req.License)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for name, d := range req.Files {
		canonical, err := domain.ParseDigest(string(d))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("file %s: %v", name, err))
			return
		}
		req.Files[name] = canonical
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	send := func(v map[string]string) {
		enc.Encode(v)
		if flusher != nil {
			flusher.Flush()
		}
	}

	names := make([]string, 0, len(req.Files))
	for name := range req.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		send(map[string]string{"status": "using existing layer " + req.Files[name].String()})
	}

	def := domain.ModelDefinition{
		Template:   req.Template,
		System:     req.System,
		License:    license,
		Parameters: domain.ExpandParameters(req.Parameters),
		Messages:   req.Messages,
		Files:      req.Files,
	}
	send(map[string]string{"status": "writing manifest"})
	if err := s.store.CreateModel(ref, def); err != nil {
		s.log.WithError(err).WithField("model", ref.String()).Warn("create failed")
		send(map[string]string{"error": err.Error()})
		return
	}
	send(map[string]string{"status": "success"})
}

func licenseText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", fmt.Errorf("license must be a string or a list of strings")
	}
	return strings.Join(list, "\n"), nil
}

// --- /api/delete ---

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref, err := req.ref()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Remove(ref); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- /api/copy ---

type copyRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req copyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	src, err := domain.ParseModelRef(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dst, err := domain.ParseModelRef(req.Destination)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CopyModel(src, dst); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ─── Registry subset (/v2/*) ─────────────────────────────────────────────────

func (s *Server) handleRegistryManifest(w http.ResponseWriter, r *http.Request) {
	ref, err := domain.ParseModelRef(fmt.Sprintf("%s/%s:%s",
		chi.URLParam(r, "namespace"), chi.URLParam(r, "model"), chi.URLParam(r, "tag")))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := os.ReadFile(s.store.ManifestPath(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "manifest unknown")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", domain.MediaTypeManifest)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
