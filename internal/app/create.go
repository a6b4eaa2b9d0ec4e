package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tutu-network/modelctl/internal/domain"
)

// BlobImporter stores a file from disk and returns its digest.
type BlobImporter interface {
	ImportFile(path string) (domain.Digest, int64, error)
}

// DefinitionFromModelfile turns a hand-written Modelfile into a model
// definition. FROM and ADAPTER may name files (relative to baseDir), which
// are imported, or existing blobs by digest.
func DefinitionFromModelfile(mf *Modelfile, baseDir string, imp BlobImporter) (domain.ModelDefinition, error) {
	def := domain.ModelDefinition{
		Template:   mf.Template,
		System:     mf.System,
		License:    mf.License,
		Parameters: mf.Parameters,
		Messages:   mf.Messages,
		Files:      make(map[string]domain.Digest),
	}
	if len(mf.From) == 0 {
		return def, errors.New("modelfile has no FROM line")
	}

	add := func(role domain.Role, i int, value string) error {
		d, err := resolveSource(value, baseDir, imp)
		if err != nil {
			return err
		}
		def.Files[fileName(role, i)] = d
		return nil
	}
	for i, v := range mf.From {
		if err := add(domain.RoleModel, i, v); err != nil {
			return def, err
		}
	}
	for i, v := range mf.Adapters {
		if err := add(domain.RoleAdapter, i, v); err != nil {
			return def, err
		}
	}
	return def, nil
}

// resolveSource imports value if it is a file, else reads it as a digest.
func resolveSource(value, baseDir string, imp BlobImporter) (domain.Digest, error) {
	path := value
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
		d, _, err := imp.ImportFile(path)
		if err != nil {
			return "", fmt.Errorf("import %s: %w", value, err)
		}
		return d, nil
	}
	if d, ok := findDigest(value); ok {
		return d, nil
	}
	return "", fmt.Errorf("%q is neither a file nor a blob digest", value)
}
