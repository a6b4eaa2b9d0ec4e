package app

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tutu-network/modelctl/internal/domain"
	"github.com/tutu-network/modelctl/internal/infra/remote"
	"github.com/tutu-network/modelctl/internal/infra/store"
)

// blobRef finds a digest embedded in a blob path or written inline.
var blobRef = regexp.MustCompile(`sha256[-:]([a-f0-9]{64})`)

// CatalogEntry is one blob a model references.
type CatalogEntry struct {
	Role     domain.Role
	Digest   domain.Digest
	FileName string
}

// Catalog is the ordered, de-duplicated list of blobs behind a model.
type Catalog []CatalogEntry

// Files maps each entry's logical filename to its digest.
func (c Catalog) Files() map[string]domain.Digest {
	files := make(map[string]domain.Digest, len(c))
	for _, e := range c {
		files[e.FileName] = e.Digest
	}
	return files
}

// SourceInfo is what a copy needs to know about the model it reads: the
// Modelfile naming its blobs, and the pieces of its definition.
type SourceInfo struct {
	Model        string
	Modelfile    string
	Template     string
	System       string
	License      string
	Parameters   []domain.Parameter
	Messages     []domain.Message
	HasProjector bool
}

// DescribeRemote converts a server's show response. Parameters arrive either
// as Modelfile-style lines or as an object; fields the response leaves empty
// fall back to what the Modelfile itself declares.
func DescribeRemote(model string, show *remote.ShowResponse) (*SourceInfo, error) {
	info := &SourceInfo{
		Model:        model,
		Modelfile:    show.Modelfile,
		Template:     show.Template,
		System:       show.System,
		HasProjector: show.HasProjector(),
	}

	license, err := decodeLicense(show.License)
	if err != nil {
		return nil, &domain.ParseError{Model: model, Err: err}
	}
	info.License = license

	params, err := decodeParameters(show.Parameters)
	if err != nil {
		return nil, &domain.ParseError{Model: model, Err: err}
	}
	info.Parameters = params

	mf, err := ParseModelfile(strings.NewReader(show.Modelfile))
	if err != nil {
		return nil, &domain.ParseError{Model: model, Err: err}
	}
	if info.Template == "" {
		info.Template = mf.Template
	}
	if info.System == "" {
		info.System = mf.System
	}
	if info.License == "" {
		info.License = mf.License
	}
	if len(show.Parameters) == 0 {
		info.Parameters = mf.Parameters
	}
	info.Messages = show.Messages
	if len(info.Messages) == 0 {
		info.Messages = mf.Messages
	}
	return info, nil
}

// DescribeLocal converts a local store's rendering of a model.
func DescribeLocal(model string, mi *store.ModelInfo) *SourceInfo {
	return &SourceInfo{
		Model:        model,
		Modelfile:    mi.Modelfile,
		Template:     mi.Template,
		System:       mi.System,
		License:      mi.License,
		Parameters:   mi.Parameters,
		Messages:     mi.Messages,
		HasProjector: mi.HasProjector,
	}
}

// Plan builds the catalog and the definition to recreate on the destination.
func (s *SourceInfo) Plan() (Catalog, domain.ModelDefinition, error) {
	mf, err := ParseModelfile(strings.NewReader(s.Modelfile))
	if err != nil {
		return nil, domain.ModelDefinition{}, &domain.ParseError{Model: s.Model, Err: err}
	}
	cat, err := BuildCatalog(s.Model, mf, s.HasProjector)
	if err != nil {
		return nil, domain.ModelDefinition{}, err
	}
	def := domain.ModelDefinition{
		Template:   s.Template,
		System:     s.System,
		License:    s.License,
		Parameters: s.Parameters,
		Messages:   s.Messages,
		Files:      cat.Files(),
	}
	return cat, def, nil
}

// BuildCatalog extracts the blobs a Modelfile references, in the order their
// lines appear. FROM lines are weights, except that when the model has a
// projector and names at least two FROM digests the last one is the
// projector. ADAPTER lines are adapters. Lines that name no digest are
// skipped, and a digest seen before keeps its first role.
func BuildCatalog(model string, mf *Modelfile, hasProjector bool) (Catalog, error) {
	type found struct {
		adapter bool
		digest  domain.Digest
	}
	var refs []found
	lastFrom, fromCount := -1, 0
	for _, b := range mf.Blobs {
		d, ok := findDigest(b.Value)
		if !ok {
			continue
		}
		if !b.Adapter {
			lastFrom = len(refs)
			fromCount++
		}
		refs = append(refs, found{adapter: b.Adapter, digest: d})
	}
	projector := -1
	if hasProjector && fromCount >= 2 {
		projector = lastFrom
	}

	var cat Catalog
	seen := make(map[domain.Digest]bool)
	counts := make(map[domain.Role]int)
	for i, r := range refs {
		if seen[r.digest] {
			continue
		}
		seen[r.digest] = true
		role := domain.RoleModel
		switch {
		case r.adapter:
			role = domain.RoleAdapter
		case i == projector:
			role = domain.RoleProjector
		}
		cat = append(cat, CatalogEntry{Role: role, Digest: r.digest, FileName: fileName(role, counts[role])})
		counts[role]++
	}

	if len(cat) == 0 {
		return nil, &domain.ParseError{Model: model, Err: domain.ErrNoBlobsFound}
	}
	return cat, nil
}

func findDigest(s string) (domain.Digest, bool) {
	m := blobRef.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return domain.Digest("sha256:" + m[1]), true
}

// fileName gives the n-th blob of a role its logical name: model.gguf,
// model_1.gguf, model_2.gguf and so on.
func fileName(role domain.Role, n int) string {
	if n == 0 {
		return string(role) + ".gguf"
	}
	return fmt.Sprintf("%s_%d.gguf", role, n)
}

func decodeParameters(raw json.RawMessage) ([]domain.Parameter, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return ParseParameterLines(text), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("parameters are neither text nor an object: %w", err)
	}
	return domain.ExpandParameters(obj), nil
}

// decodeLicense accepts a single string or a list of license texts.
func decodeLicense(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", fmt.Errorf("license is neither text nor a list: %w", err)
	}
	return strings.Join(list, "\n"), nil
}
