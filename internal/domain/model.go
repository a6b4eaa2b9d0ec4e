// Package domain holds the pure types shared by every layer of modelctl:
// digests, model references, manifests, model definitions and transfer tasks.
// Nothing in here touches the network or the filesystem.
package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ─── Digest ─────────────────────────────────────────────────────────────────

// Digest is an algorithm-tagged content hash ("sha256:<hex>").
// It is the only identity a blob has.
type Digest string

var digestPattern = regexp.MustCompile(`^sha256[:-]([a-f0-9]{64})$`)

// ParseDigest accepts both the wire form "sha256:<hex>" and the on-disk
// form "sha256-<hex>" and returns the canonical wire form.
func ParseDigest(s string) (Digest, error) {
	m := digestPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	return Digest("sha256:" + m[1]), nil
}

// String implements fmt.Stringer.
func (d Digest) String() string { return string(d) }

// Hex returns the hash portion of the digest.
func (d Digest) Hex() string {
	_, hex, _ := strings.Cut(string(d), ":")
	return hex
}

// FileName is the blob's name inside a blobs/ directory.
func (d Digest) FileName() string {
	return strings.Replace(string(d), ":", "-", 1)
}

// Short returns a 12-character prefix for log lines and progress output.
func (d Digest) Short() string {
	h := d.Hex()
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// ─── Model references ───────────────────────────────────────────────────────

const (
	DefaultHost      = "registry.ollama.ai"
	DefaultNamespace = "library"
	DefaultTag       = "latest"
)

// ModelRef identifies a model as host/namespace/name:tag.
type ModelRef struct {
	Host      string
	Namespace string
	Name      string
	Tag       string
}

// String returns the short display form: "name:tag" for library models,
// "namespace/name:tag" otherwise, and the fully qualified form for
// non-default hosts.
func (r ModelRef) String() string {
	name := r.Name + ":" + r.Tag
	if r.Namespace != DefaultNamespace {
		name = r.Namespace + "/" + name
	}
	if r.Host != DefaultHost {
		name = r.Host + "/" + name
	}
	return name
}

// ─── Manifests ──────────────────────────────────────────────────────────────

// Layer media types used by Ollama-compatible stores.
const (
	MediaTypeManifest  = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeConfig    = "application/vnd.docker.container.image.v1+json"
	MediaTypeModel     = "application/vnd.ollama.image.model"
	MediaTypeAdapter   = "application/vnd.ollama.image.adapter"
	MediaTypeProjector = "application/vnd.ollama.image.projector"
	MediaTypeTemplate  = "application/vnd.ollama.image.template"
	MediaTypeSystem    = "application/vnd.ollama.image.system"
	MediaTypeParams    = "application/vnd.ollama.image.params"
	MediaTypeLicense   = "application/vnd.ollama.image.license"
	MediaTypeMessages  = "application/vnd.ollama.image.messages"
)

// Manifest lists a model's layers.
type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	MediaType     string  `json:"mediaType"`
	Config        Layer   `json:"config"`
	Layers        []Layer `json:"layers"`
}

// Layer is one blob referenced by a manifest.
type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    Digest `json:"digest"`
	Size      int64  `json:"size"`
}

// TotalSize sums config and layer sizes.
func (m Manifest) TotalSize() int64 {
	total := m.Config.Size
	for _, l := range m.Layers {
		total += l.Size
	}
	return total
}

// ModelEntry is one row of a model listing.
type ModelEntry struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// ─── Model definition ───────────────────────────────────────────────────────

// Parameter is one PARAMETER line, kept in source order.
type Parameter struct {
	Key   string
	Value string
}

// Message is one MESSAGE line: a seeded conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelDefinition is everything needed to register a model on a destination
// once its blobs are present there.
type ModelDefinition struct {
	Template   string
	System     string
	License    string
	Parameters []Parameter
	Messages   []Message
	Files      map[string]Digest
}

// FileNames returns the definition's logical filenames grouped by role, each
// role's shards in numeric order: model.gguf, model_1.gguf, ... model_10.gguf.
func (d ModelDefinition) FileNames() []string {
	names := make([]string, 0, len(d.Files))
	for name := range d.Files {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		bi, ni := shardIndex(names[i])
		bj, nj := shardIndex(names[j])
		if bi != bj {
			return bi < bj
		}
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
	return names
}

// shardIndex splits "model_12.gguf" into ("model", 12). Names without a
// numeric suffix are shard 0.
func shardIndex(name string) (string, int) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.LastIndexByte(base, '_'); i > 0 {
		if n, err := strconv.Atoi(base[i+1:]); err == nil {
			return base[:i], n
		}
	}
	return base, 0
}

// ParseModelRef parses "name", "name:tag", "namespace/name:tag" or
// "host/namespace/name:tag", filling in registry defaults.
func ParseModelRef(s string) (ModelRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ModelRef{}, fmt.Errorf("%w: empty model name", ErrInvalidModelName)
	}

	ref := ModelRef{Host: DefaultHost, Namespace: DefaultNamespace, Tag: DefaultTag}

	path := s
	if slash := strings.LastIndex(s, "/"); slash >= 0 {
		if colon := strings.LastIndex(s[slash:], ":"); colon >= 0 {
			path, ref.Tag = s[:slash+colon], s[slash+colon+1:]
		}
	} else if name, tag, ok := strings.Cut(s, ":"); ok {
		path, ref.Tag = name, tag
	}

	parts := strings.Split(path, "/")
	switch len(parts) {
	case 1:
		ref.Name = parts[0]
	case 2:
		ref.Namespace, ref.Name = parts[0], parts[1]
	case 3:
		ref.Host, ref.Namespace, ref.Name = parts[0], parts[1], parts[2]
	default:
		return ModelRef{}, fmt.Errorf("%w: %q", ErrInvalidModelName, s)
	}

	for _, p := range []string{ref.Host, ref.Namespace, ref.Name, ref.Tag} {
		if p == "" || strings.ContainsAny(p, " \t\\") || p == "." || p == ".." {
			return ModelRef{}, fmt.Errorf("%w: %q", ErrInvalidModelName, s)
		}
	}
	return ref, nil
}
