package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/tutu-network/modelctl/internal/domain"
)

// ModelInfo is a local model described the way a server's show endpoint
// describes one: a Modelfile whose FROM and ADAPTER lines point at blob
// paths, plus the template, system prompt, license and parameters.
type ModelInfo struct {
	Modelfile    string
	Template     string
	System       string
	License      string
	Parameters   []domain.Parameter
	Messages     []domain.Message
	HasProjector bool
}

// Show renders ref's manifest as a ModelInfo. Weight layers come first, then
// the projector, so the projector is always the last FROM line.
func (s *Store) Show(ref domain.ModelRef) (*ModelInfo, error) {
	manifest, err := s.LoadManifest(ref)
	if err != nil {
		return nil, err
	}

	info := &ModelInfo{}
	var models, projectors, adapters []domain.Digest
	for _, l := range manifest.Layers {
		switch l.MediaType {
		case domain.MediaTypeModel:
			models = append(models, l.Digest)
		case domain.MediaTypeProjector:
			projectors = append(projectors, l.Digest)
		case domain.MediaTypeAdapter:
			adapters = append(adapters, l.Digest)
		case domain.MediaTypeTemplate:
			info.Template, err = s.readText(l.Digest)
		case domain.MediaTypeSystem:
			info.System, err = s.readText(l.Digest)
		case domain.MediaTypeLicense:
			info.License, err = s.readText(l.Digest)
		case domain.MediaTypeParams:
			info.Parameters, err = s.readParams(l.Digest)
		case domain.MediaTypeMessages:
			info.Messages, err = s.readMessages(l.Digest)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s layer of %s: %w", l.MediaType, ref, err)
		}
	}
	info.HasProjector = len(projectors) > 0

	var b strings.Builder
	fmt.Fprintf(&b, "# Modelfile generated by modelctl\n")
	for _, d := range append(models, projectors...) {
		fmt.Fprintf(&b, "FROM %s\n", s.BlobPath(d))
	}
	for _, d := range adapters {
		fmt.Fprintf(&b, "ADAPTER %s\n", s.BlobPath(d))
	}
	if info.Template != "" {
		fmt.Fprintf(&b, "TEMPLATE \"\"\"%s\"\"\"\n", info.Template)
	}
	if info.System != "" {
		fmt.Fprintf(&b, "SYSTEM \"\"\"%s\"\"\"\n", info.System)
	}
	for _, p := range info.Parameters {
		fmt.Fprintf(&b, "PARAMETER %s %s\n", p.Key, p.Value)
	}
	for _, m := range info.Messages {
		fmt.Fprintf(&b, "MESSAGE %s \"\"\"%s\"\"\"\n", m.Role, m.Content)
	}
	if info.License != "" {
		fmt.Fprintf(&b, "LICENSE \"\"\"%s\"\"\"\n", info.License)
	}
	info.Modelfile = b.String()
	return info, nil
}

// CreateModel registers ref from blobs already present in the store.
// Every file in def must name an existing blob.
func (s *Store) CreateModel(ref domain.ModelRef, def domain.ModelDefinition) error {
	if len(def.Files) == 0 {
		return fmt.Errorf("create %s: %w", ref, domain.ErrNoBlobsFound)
	}

	names := def.FileNames()
	sort.SliceStable(names, func(i, j int) bool {
		return layerRank(names[i]) < layerRank(names[j])
	})

	var layers []domain.Layer
	for _, name := range names {
		d := def.Files[name]
		info, err := os.Stat(s.BlobPath(d))
		if err != nil {
			return fmt.Errorf("create %s: file %s (%s): %w", ref, name, d, domain.ErrBlobNotFound)
		}
		layers = append(layers, domain.Layer{MediaType: mediaTypeFor(name), Digest: d, Size: info.Size()})
	}

	texts := []struct {
		mediaType string
		value     string
	}{
		{domain.MediaTypeTemplate, def.Template},
		{domain.MediaTypeSystem, def.System},
		{domain.MediaTypeLicense, def.License},
	}
	for _, t := range texts {
		if t.value == "" {
			continue
		}
		l, err := s.writeLayer(t.mediaType, []byte(t.value))
		if err != nil {
			return fmt.Errorf("create %s: %w", ref, err)
		}
		layers = append(layers, l)
	}

	if len(def.Parameters) > 0 {
		params, err := domain.CoerceParameters(def.Parameters)
		if err != nil {
			return fmt.Errorf("create %s: %w", ref, err)
		}
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("create %s: encode parameters: %w", ref, err)
		}
		l, err := s.writeLayer(domain.MediaTypeParams, data)
		if err != nil {
			return fmt.Errorf("create %s: %w", ref, err)
		}
		layers = append(layers, l)
	}

	if len(def.Messages) > 0 {
		data, err := json.Marshal(def.Messages)
		if err != nil {
			return fmt.Errorf("create %s: encode messages: %w", ref, err)
		}
		l, err := s.writeLayer(domain.MediaTypeMessages, data)
		if err != nil {
			return fmt.Errorf("create %s: %w", ref, err)
		}
		layers = append(layers, l)
	}

	config, err := json.Marshal(map[string]string{"model_format": "gguf"})
	if err != nil {
		return err
	}
	cfg, err := s.writeLayer(domain.MediaTypeConfig, config)
	if err != nil {
		return fmt.Errorf("create %s: %w", ref, err)
	}

	return s.SaveManifest(ref, domain.Manifest{
		SchemaVersion: 2,
		MediaType:     domain.MediaTypeManifest,
		Config:        cfg,
		Layers:        layers,
	})
}

func (s *Store) writeLayer(mediaType string, data []byte) (domain.Layer, error) {
	d, size, err := s.WriteBlob(data)
	if err != nil {
		return domain.Layer{}, err
	}
	return domain.Layer{MediaType: mediaType, Digest: d, Size: size}, nil
}

func (s *Store) readText(d domain.Digest) (string, error) {
	f, _, err := s.OpenBlob(d)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// readParams expands a params blob into PARAMETER lines in key order.
// Array values become one line per element.
func (s *Store) readParams(d domain.Digest) ([]domain.Parameter, error) {
	text, err := s.readText(d)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return domain.ExpandParameters(raw), nil
}

func (s *Store) readMessages(d domain.Digest) ([]domain.Message, error) {
	text, err := s.readText(d)
	if err != nil {
		return nil, err
	}
	var msgs []domain.Message
	if err := json.Unmarshal([]byte(text), &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// layerRank orders weights before projectors before adapters.
func layerRank(fileName string) int {
	switch {
	case strings.HasPrefix(fileName, "projector"):
		return 1
	case strings.HasPrefix(fileName, "adapter"):
		return 2
	default:
		return 0
	}
}

func mediaTypeFor(fileName string) string {
	switch layerRank(fileName) {
	case 1:
		return domain.MediaTypeProjector
	case 2:
		return domain.MediaTypeAdapter
	default:
		return domain.MediaTypeModel
	}
}
